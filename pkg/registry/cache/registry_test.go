package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/registry"
	"github.com/fluxcd/conveyor/pkg/registry/mock"
)

func cachedRegistry() (*Registry, *mock.Registry) {
	backing := mock.NewRegistry("registry.local")
	return &Registry{
		Next:       backing,
		Repository: "registry.local",
		Client:     InstrumentClient(NewMemoryClient()),
		TTL:        time.Hour,
	}, backing
}

func TestPresenceIsCachedAfterPush(t *testing.T) {
	ctx := context.Background()
	reg, backing := cachedRegistry()
	a := artifact.Artifact{Service: "orders", Version: "0123456789abcdef", Digest: digest.FromString("orders")}

	require.NoError(t, reg.Push(ctx, a))
	backing.Fail(mock.OpExists, errors.New("registry down"))
	backing.Fail(mock.OpPull, errors.New("registry down"))

	ok, err := reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, ok)

	ref, err := reg.Pull(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, digest.FromString("orders"), ref.Digest)
}

func TestAbsenceIsNotCached(t *testing.T) {
	ctx := context.Background()
	reg, backing := cachedRegistry()

	ok, err := reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.False(t, ok)

	backing.Put("orders", "0123456789abcdef")
	ok, err = reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, backing.Calls(mock.OpExists))

	// now it's remembered
	ok, err = reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, backing.Calls(mock.OpExists))
}

func TestPullMissingGoesToRegistry(t *testing.T) {
	reg, _ := cachedRegistry()
	_, err := reg.Pull(context.Background(), "orders", "ffffffffffffffff")
	assert.True(t, registry.IsNotFound(err))
}

func TestStaleEntriesAreIgnored(t *testing.T) {
	ctx := context.Background()
	reg, backing := cachedRegistry()
	ref := "registry.local/orders:0123456789abcdef@" + digest.FromString("x").String()
	require.NoError(t, reg.Client.SetKey(reg.key("orders", "0123456789abcdef"), time.Now().Add(-time.Minute), []byte(ref)))

	ok, err := reg.Exists(ctx, "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, backing.Calls(mock.OpExists))
}

func TestMemoryClientMiss(t *testing.T) {
	_, _, err := NewMemoryClient().GetKey(NewArtifactKey("r", "s", "v"))
	assert.Equal(t, ErrNotCached, err)
}
