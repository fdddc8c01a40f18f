package registry

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/pkg/errors"
	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/errcode"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/image"
	"github.com/fluxcd/conveyor/pkg/registry/middleware"
	"github.com/fluxcd/conveyor/pkg/retry"
)

const (
	// ArtifactType is recorded in the manifest of every pushed
	// artifact.
	ArtifactType = "application/vnd.conveyor.artifact.v1"

	AnnotationService      = "io.conveyor.service"
	AnnotationSourceDigest = "io.conveyor.source.digest"
	AnnotationTestsPassed  = "io.conveyor.tests.passed"
)

// RepositoryFunc gives the OCI target holding a service's artifacts.
type RepositoryFunc func(service string) (oras.Target, error)

// OCIRegistry stores each artifact as an OCI artifact manifest with
// the source bundle as its single layer, tagged with the version.
// Each service has its own repository, under Prefix on Host.
type OCIRegistry struct {
	Host       string
	Prefix     string
	Repository RepositoryFunc
	Backoff    retry.Backoff
	// Limiters, if set, is told when operations against Host succeed
	// so it can relax any rate limit it has imposed.
	Limiters *middleware.RateLimiters
	Logger   log.Logger
}

// RemoteConfig is what's needed to talk to a registry over the
// network.
type RemoteConfig struct {
	Host     string
	Prefix   string
	Username string
	Password string
	// Insecure means talk plain HTTP, e.g., to a registry on
	// localhost.
	Insecure bool
	Timeout  time.Duration
}

// NewRemote returns a registry backed by a distribution-compatible
// registry server. Requests go through limiters, so that a registry
// that says it's being asked too much gets asked less.
func NewRemote(cfg RemoteConfig, limiters *middleware.RateLimiters, logger log.Logger) *OCIRegistry {
	httpClient := &http.Client{
		Transport: limiters.RoundTripper(http.DefaultTransport, cfg.Host),
		Timeout:   cfg.Timeout,
	}
	client := &auth.Client{
		Client: httpClient,
		Cache:  auth.NewCache(),
	}
	if cfg.Username != "" {
		client.Credential = auth.StaticCredential(cfg.Host, auth.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		})
	}
	r := &OCIRegistry{
		Host:     cfg.Host,
		Prefix:   cfg.Prefix,
		Backoff:  retry.DefaultBackoff,
		Limiters: limiters,
		Logger:   logger,
	}
	r.Repository = func(service string) (oras.Target, error) {
		repo, err := remote.NewRepository(r.repositoryName(service))
		if err != nil {
			return nil, err
		}
		repo.Client = client
		repo.PlainHTTP = cfg.Insecure
		return repo, nil
	}
	return r
}

func (r *OCIRegistry) repositoryName(service string) string {
	parts := []string{r.Host}
	if p := strings.Trim(r.Prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	return strings.Join(append(parts, service), "/")
}

func (r *OCIRegistry) name(service string) image.Name {
	repo := service
	if p := strings.Trim(r.Prefix, "/"); p != "" {
		repo = p + "/" + service
	}
	return image.Name{Domain: r.Host, Image: repo}
}

// Push uploads the bundle, then the manifest referring to it, and
// tags the manifest last. Until the tag exists the version is not
// visible, so a push that fails part way leaves nothing behind that
// Exists or Pull would report.
func (r *OCIRegistry) Push(ctx context.Context, a artifact.Artifact) error {
	if a.Service == "" || a.Version == "" {
		return errors.New("artifact must have a service and version")
	}
	return r.do(ctx, "push", a.Service, a.Version, func(ctx context.Context, target oras.Target) error {
		if _, err := target.Resolve(ctx, a.Version); err == nil {
			return nil
		} else if !errors.Is(err, errdef.ErrNotFound) {
			return err
		}

		layer, err := oras.PushBytes(ctx, target, artifact.MediaType, a.Content)
		if err != nil && !errors.Is(err, errdef.ErrAlreadyExists) {
			return errors.Wrap(err, "pushing bundle")
		}
		manifest, err := oras.PackManifest(ctx, target, oras.PackManifestVersion1_1, ArtifactType, oras.PackManifestOptions{
			Layers: []ocispec.Descriptor{layer},
			ManifestAnnotations: map[string]string{
				ocispec.AnnotationCreated: a.BuiltAt.UTC().Format(time.RFC3339),
				ocispec.AnnotationVersion: a.Version,
				AnnotationService:         a.Service,
				AnnotationSourceDigest:    a.Digest.String(),
				AnnotationTestsPassed:     boolString(a.TestResult.Passed),
			},
		})
		if err != nil {
			return errors.Wrap(err, "pushing manifest")
		}
		return errors.Wrap(target.Tag(ctx, manifest, a.Version), "tagging manifest")
	})
}

func (r *OCIRegistry) Exists(ctx context.Context, service, version string) (bool, error) {
	var exists bool
	err := r.do(ctx, "exists", service, version, func(ctx context.Context, target oras.Target) error {
		_, err := target.Resolve(ctx, version)
		switch {
		case err == nil:
			exists = true
		case errors.Is(err, errdef.ErrNotFound):
			exists = false
		default:
			return err
		}
		return nil
	})
	return exists, err
}

func (r *OCIRegistry) Pull(ctx context.Context, service, version string) (image.Ref, error) {
	var ref image.Ref
	err := r.do(ctx, "pull", service, version, func(ctx context.Context, target oras.Target) error {
		desc, err := target.Resolve(ctx, version)
		if errors.Is(err, errdef.ErrNotFound) {
			return &NotFoundError{ID: artifact.ID{Service: service, Version: version}}
		}
		if err != nil {
			return err
		}
		ref = r.name(service).ToRef(version).WithDigest(desc.Digest)
		return nil
	})
	return ref, err
}

// do runs f against the service's repository, retrying transient
// failures.
func (r *OCIRegistry) do(ctx context.Context, op, service, version string, f func(context.Context, oras.Target) error) error {
	target, err := r.Repository(service)
	if err != nil {
		return &Error{Op: op, Service: service, Version: version, Err: err}
	}
	logger := r.Logger
	if logger != nil {
		logger = log.With(logger, "service", service, "version", version)
	}
	err = r.Backoff.Do(ctx, logger, "registry "+op, func(ctx context.Context) error {
		return classify(op, service, version, f(ctx, target))
	})
	if err == nil && r.Limiters != nil {
		r.Limiters.Recover(r.Host)
	}
	return err
}

// classify turns whatever came back from the registry client into an
// Error that says whether to try again.
func classify(op, service, version string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) {
		return err
	}
	wrap := func(temporary bool) error {
		return &Error{Op: op, Service: service, Version: version, Temporary: temporary, Err: err}
	}

	var resp *errcode.ErrorResponse
	if errors.As(err, &resp) {
		return wrap(resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return wrap(false)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return wrap(true)
	}
	return wrap(false)
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
