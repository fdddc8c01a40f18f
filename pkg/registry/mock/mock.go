package mock

import (
	"context"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/image"
	"github.com/fluxcd/conveyor/pkg/registry"
)

type Op string

const (
	OpPush   Op = "push"
	OpExists Op = "exists"
	OpPull   Op = "pull"
)

// Registry keeps artifacts in memory. Failures can be injected per
// operation, either for every call (Fail) or for the next n calls
// (FailTimes).
type Registry struct {
	Host string

	mu        sync.Mutex
	artifacts map[artifact.ID]digest.Digest
	errs      map[Op]error
	failTimes map[Op]int
	calls     map[Op]int
	// OnPush, if set, is called before each push; e.g., to block it.
	OnPush func(artifact.Artifact)
}

var _ registry.Registry = &Registry{}

func NewRegistry(host string) *Registry {
	return &Registry{
		Host:      host,
		artifacts: map[artifact.ID]digest.Digest{},
		errs:      map[Op]error{},
		failTimes: map[Op]int{},
		calls:     map[Op]int{},
	}
}

// Fail makes every call of the operation return err; nil clears it.
func (m *Registry) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
	m.failTimes[op] = -1
}

// FailTimes makes the next n calls of the operation return err.
func (m *Registry) FailTimes(op Op, n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = err
	m.failTimes[op] = n
}

// Calls says how many times the operation has been called.
func (m *Registry) Calls(op Op) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Put records an artifact as present, without going through Push.
func (m *Registry) Put(service, version string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts[artifact.ID{Service: service, Version: version}] = digest.FromString(service + ":" + version)
}

func (m *Registry) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artifacts)
}

func (m *Registry) enter(op Op) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	switch n := m.failTimes[op]; {
	case n < 0:
		return m.errs[op]
	case n > 0:
		m.failTimes[op] = n - 1
		return m.errs[op]
	}
	return nil
}

func (m *Registry) Push(ctx context.Context, a artifact.Artifact) error {
	if m.OnPush != nil {
		m.OnPush(a)
	}
	if err := m.enter(OpPush); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.artifacts[a.ID()]; ok {
		return nil
	}
	d := a.Digest
	if d == "" {
		d = digest.FromBytes(a.Content)
	}
	m.artifacts[a.ID()] = d
	return nil
}

func (m *Registry) Exists(ctx context.Context, service, version string) (bool, error) {
	if err := m.enter(OpExists); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.artifacts[artifact.ID{Service: service, Version: version}]
	return ok, nil
}

func (m *Registry) Pull(ctx context.Context, service, version string) (image.Ref, error) {
	if err := m.enter(OpPull); err != nil {
		return image.Ref{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := artifact.ID{Service: service, Version: version}
	d, ok := m.artifacts[id]
	if !ok {
		return image.Ref{}, &registry.NotFoundError{ID: id}
	}
	return image.Name{Domain: m.Host, Image: service}.ToRef(version).WithDigest(d), nil
}
