package cache

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/artifact"
	fluxerr "github.com/fluxcd/conveyor/pkg/errors"
	"github.com/fluxcd/conveyor/pkg/image"
	"github.com/fluxcd/conveyor/pkg/registry"
)

var (
	ErrNotCached = &fluxerr.Error{
		Type: fluxerr.Missing,
		Err:  errors.New("item not in cache"),
		Help: `Artifact not cached

The artifact has not been seen in the registry by this daemon yet. The
registry itself will be asked.
`,
	}
)

// Registry remembers which artifacts are in the registry it wraps, so
// that repeated presence checks (e.g., every staging run of a
// monorepo re-publishing unchanged services) need not go to the
// registry. Only presence is cached: versions are immutable, so an
// artifact known to exist stays that way, whereas absence is always
// checked with the registry.
type Registry struct {
	Next registry.Registry
	// Repository distinguishes entries for different registries
	// sharing a cache.
	Repository string
	Client     Client
	// TTL is how long an entry is trusted before it is checked
	// against the registry again.
	TTL    time.Duration
	Logger log.Logger
}

var _ registry.Registry = &Registry{}

func (c *Registry) key(service, version string) Keyer {
	return NewArtifactKey(c.Repository, service, version)
}

// lookup returns the cached ref, if there is one and it's still
// fresh.
func (c *Registry) lookup(service, version string) (image.Ref, bool) {
	v, deadline, err := c.Client.GetKey(c.key(service, version))
	if err != nil || time.Now().After(deadline) {
		return image.Ref{}, false
	}
	ref, err := image.ParseRef(string(v))
	if err != nil {
		return image.Ref{}, false
	}
	return ref, true
}

func (c *Registry) Push(ctx context.Context, a artifact.Artifact) error {
	if err := c.Next.Push(ctx, a); err != nil {
		return err
	}
	if ref, err := c.Next.Pull(ctx, a.Service, a.Version); err == nil {
		c.rememberAs(a.Service, a.Version, ref)
	}
	return nil
}

func (c *Registry) Exists(ctx context.Context, service, version string) (bool, error) {
	if _, ok := c.lookup(service, version); ok {
		return true, nil
	}
	ok, err := c.Next.Exists(ctx, service, version)
	if err != nil || !ok {
		return ok, err
	}
	if ref, err := c.Next.Pull(ctx, service, version); err == nil {
		c.rememberAs(service, version, ref)
	}
	return true, nil
}

func (c *Registry) Pull(ctx context.Context, service, version string) (image.Ref, error) {
	if ref, ok := c.lookup(service, version); ok {
		return ref, nil
	}
	ref, err := c.Next.Pull(ctx, service, version)
	if err != nil {
		return ref, err
	}
	c.rememberAs(service, version, ref)
	return ref, nil
}

// rememberAs records ref under the service and version it was asked
// for, which need not be how the ref names its repository.
func (c *Registry) rememberAs(service, version string, ref image.Ref) {
	deadline := time.Now().Add(c.TTL)
	if err := c.Client.SetKey(c.key(service, version), deadline, []byte(ref.String())); err != nil && c.Logger != nil {
		c.Logger.Log("warning", "could not cache artifact presence", "service", service, "version", version, "err", err)
	}
}

// MemoryClient is a Client that keeps entries in process. It suits a
// single daemon without a shared cache.
type MemoryClient struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{entries: map[string][]byte{}}
}

func (m *MemoryClient) GetKey(k Keyer) ([]byte, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.entries[k.Key()]
	if !ok {
		return nil, time.Time{}, ErrNotCached
	}
	return EndianGet(item)
}

func (m *MemoryClient) SetKey(k Keyer, deadline time.Time, v []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := EndianCompose(EndianPut(deadline), append([]byte(nil), v...))
	m.entries[k.Key()] = item
	return nil
}
