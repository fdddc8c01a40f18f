package registry

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/content/memory"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/retry"
)

var quickBackoff = retry.Backoff{Initial: time.Millisecond, Factor: 1, Max: time.Millisecond, Attempts: 3}

// flakyTarget fails the first calls of Resolve, or every Tag, with
// the errors given.
type flakyTarget struct {
	oras.Target

	mu          sync.Mutex
	resolveErrs []error
	resolves    int
	tagErr      error
}

func (f *flakyTarget) Resolve(ctx context.Context, ref string) (ocispec.Descriptor, error) {
	f.mu.Lock()
	f.resolves++
	var err error
	if len(f.resolveErrs) > 0 {
		err, f.resolveErrs = f.resolveErrs[0], f.resolveErrs[1:]
	}
	f.mu.Unlock()
	if err != nil {
		return ocispec.Descriptor{}, err
	}
	return f.Target.Resolve(ctx, ref)
}

func (f *flakyTarget) Tag(ctx context.Context, desc ocispec.Descriptor, ref string) error {
	if f.tagErr != nil {
		return f.tagErr
	}
	return f.Target.Tag(ctx, desc, ref)
}

func memoryRegistry(targets map[string]oras.Target) *OCIRegistry {
	return &OCIRegistry{
		Host:    "registry.local",
		Prefix:  "apps",
		Backoff: quickBackoff,
		Repository: func(service string) (oras.Target, error) {
			t, ok := targets[service]
			if !ok {
				t = memory.New()
				targets[service] = t
			}
			return t, nil
		},
	}
}

func testArtifact() artifact.Artifact {
	content := []byte("not really a tarball")
	return artifact.Artifact{
		Service: "orders",
		Version: "0123456789abcdef",
		Digest:  digest.FromBytes(content),
		BuiltAt: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
		TestResult: artifact.TestResult{
			Ran:    true,
			Passed: true,
		},
		Content: content,
	}
}

func TestPushExistsPull(t *testing.T) {
	ctx := context.Background()
	reg := memoryRegistry(map[string]oras.Target{})
	a := testArtifact()

	ok, err := reg.Exists(ctx, a.Service, a.Version)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, reg.Push(ctx, a))

	ok, err = reg.Exists(ctx, a.Service, a.Version)
	require.NoError(t, err)
	assert.True(t, ok)

	ref, err := reg.Pull(ctx, a.Service, a.Version)
	require.NoError(t, err)
	assert.Equal(t, "registry.local", ref.Domain)
	assert.Equal(t, "apps/orders", ref.Image)
	assert.Equal(t, a.Version, ref.Tag)
	assert.NotEmpty(t, ref.Digest)
	assert.Equal(t, "registry.local/apps/orders@"+ref.Digest.String(), ref.Pinned())
}

func TestPushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := memoryRegistry(map[string]oras.Target{})
	a := testArtifact()

	require.NoError(t, reg.Push(ctx, a))
	first, err := reg.Pull(ctx, a.Service, a.Version)
	require.NoError(t, err)

	require.NoError(t, reg.Push(ctx, a))
	second, err := reg.Pull(ctx, a.Service, a.Version)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestPullMissing(t *testing.T) {
	reg := memoryRegistry(map[string]oras.Target{})
	_, err := reg.Pull(context.Background(), "orders", "ffffffffffffffff")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, fluxerr.Missing, Help(err).Type)
}

func TestFailedPushLeavesNothingVisible(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyTarget{Target: memory.New(), tagErr: errors.New("disk full")}
	reg := memoryRegistry(map[string]oras.Target{"orders": flaky})
	a := testArtifact()

	require.Error(t, reg.Push(ctx, a))

	ok, err := reg.Exists(ctx, a.Service, a.Version)
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = reg.Pull(ctx, a.Service, a.Version)
	assert.True(t, IsNotFound(err))
}

func TestTransientErrorsAreRetried(t *testing.T) {
	ctx := context.Background()
	netErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	flaky := &flakyTarget{Target: memory.New(), resolveErrs: []error{netErr, netErr}}
	reg := memoryRegistry(map[string]oras.Target{"orders": flaky})

	ok, err := reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, flaky.resolves)
}

func TestTransientErrorsGiveUp(t *testing.T) {
	ctx := context.Background()
	unavailable := &errcode.ErrorResponse{Method: http.MethodHead, URL: &url.URL{}, StatusCode: http.StatusServiceUnavailable}
	flaky := &flakyTarget{Target: memory.New(), resolveErrs: []error{unavailable, unavailable, unavailable, unavailable}}
	reg := memoryRegistry(map[string]oras.Target{"orders": flaky})

	_, err := reg.Exists(ctx, "orders", "0123456789abcdef")
	require.Error(t, err)
	assert.True(t, fluxerr.IsTransient(err))
	assert.Equal(t, 3, flaky.resolves)
	assert.Equal(t, fluxerr.Server, Help(err).Type)
}

func TestAuthErrorsAreNotRetried(t *testing.T) {
	ctx := context.Background()
	denied := &errcode.ErrorResponse{Method: http.MethodHead, URL: &url.URL{}, StatusCode: http.StatusUnauthorized}
	flaky := &flakyTarget{Target: memory.New(), resolveErrs: []error{denied}}
	reg := memoryRegistry(map[string]oras.Target{"orders": flaky})

	err := reg.Push(ctx, testArtifact())
	require.Error(t, err)
	assert.False(t, fluxerr.IsTransient(err))
	assert.Equal(t, 1, flaky.resolves)
	assert.Equal(t, fluxerr.User, Help(err).Type)

	var regErr *Error
	require.True(t, errors.As(err, &regErr))
	assert.Equal(t, "push", regErr.Op)
}

func TestRepositoryName(t *testing.T) {
	reg := &OCIRegistry{Host: "localhost:5000", Prefix: "/team/apps/"}
	assert.Equal(t, "localhost:5000/team/apps/orders", reg.repositoryName("orders"))
	reg.Prefix = ""
	assert.Equal(t, "localhost:5000/orders", reg.repositoryName("orders"))
}
