package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/fluxcd/conveyor/pkg/environment"
)

// Provisioner keeps environments in memory, and records what was
// asked of it.
type Provisioner struct {
	// Endpoint gives the base URL for a service in an environment;
	// by default, a made up one.
	Endpoint func(envID, service string) string

	// CreateErr, if set, is returned by Create (after recording the
	// attempt); similarly the others.
	CreateErr  error
	UpdateErr  error
	DestroyErr error

	// OnCreate and OnUpdate, if set, are called before the operation
	// proceeds; e.g., to block or to cancel a context.
	OnCreate func(spec environment.Spec)
	OnUpdate func(id string, services []environment.ServiceSpec)

	mu        sync.Mutex
	envs      map[string]environment.Environment
	created   []string
	destroyed []string
	updates   map[string][][]environment.ServiceSpec
}

var _ environment.Provisioner = &Provisioner{}

func NewProvisioner() *Provisioner {
	return &Provisioner{
		envs:    map[string]environment.Environment{},
		updates: map[string][][]environment.ServiceSpec{},
	}
}

func (p *Provisioner) endpoint(envID, service string) string {
	if p.Endpoint != nil {
		return p.Endpoint(envID, service)
	}
	return fmt.Sprintf("http://%s.%s.test:%d", service, envID, environment.DefaultPort)
}

func (p *Provisioner) bind(envID string, svc environment.ServiceSpec) environment.Binding {
	return environment.Binding{
		Service:    svc.Name,
		Version:    svc.Version,
		Endpoint:   p.endpoint(envID, svc.Name),
		HealthPath: svc.HealthEndpoint(),
	}
}

func (p *Provisioner) Create(ctx context.Context, kind environment.Kind, spec environment.Spec) (environment.Environment, error) {
	if p.OnCreate != nil {
		p.OnCreate(spec)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created = append(p.created, spec.ID)
	if p.CreateErr != nil {
		return environment.Environment{}, p.CreateErr
	}
	if _, ok := p.envs[spec.ID]; ok {
		return environment.Environment{}, &environment.ProvisionError{Op: "create", Environment: spec.ID, Err: fmt.Errorf("already exists")}
	}
	env := environment.Environment{
		ID:         spec.ID,
		Kind:       kind,
		NetworkRef: "net-" + spec.ID,
		Bindings:   map[string]environment.Binding{},
		State:      environment.Ready,
	}
	for _, svc := range spec.Services {
		env.Bindings[svc.Name] = p.bind(spec.ID, svc)
	}
	p.envs[spec.ID] = env
	return env, nil
}

func (p *Provisioner) Get(ctx context.Context, id string) (environment.Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env, ok := p.envs[id]
	if !ok {
		return environment.Environment{}, &environment.NotFoundError{ID: id}
	}
	return env, nil
}

func (p *Provisioner) Update(ctx context.Context, id string, services []environment.ServiceSpec) error {
	if p.OnUpdate != nil {
		p.OnUpdate(id, services)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.UpdateErr != nil {
		return p.UpdateErr
	}
	env, ok := p.envs[id]
	if !ok {
		return &environment.NotFoundError{ID: id}
	}
	var changed []environment.ServiceSpec
	for _, svc := range services {
		if b, ok := env.Bindings[svc.Name]; ok && b.Version == svc.Version {
			continue
		}
		env.Bindings[svc.Name] = p.bind(id, svc)
		changed = append(changed, svc)
	}
	if len(changed) > 0 {
		p.updates[id] = append(p.updates[id], changed)
	}
	return nil
}

func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.destroyed = append(p.destroyed, id)
	if p.DestroyErr != nil {
		return p.DestroyErr
	}
	delete(p.envs, id)
	return nil
}

// Seed adds an existing environment, e.g., production.
func (p *Provisioner) Seed(kind environment.Kind, spec environment.Spec) {
	p.mu.Lock()
	defer p.mu.Unlock()
	env := environment.Environment{
		ID:         spec.ID,
		Kind:       kind,
		NetworkRef: "net-" + spec.ID,
		Bindings:   map[string]environment.Binding{},
		State:      environment.Ready,
	}
	for _, svc := range spec.Services {
		env.Bindings[svc.Name] = p.bind(spec.ID, svc)
	}
	p.envs[spec.ID] = env
}

// Live lists the environments that currently exist.
func (p *Provisioner) Live() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id := range p.envs {
		ids = append(ids, id)
	}
	return ids
}

func (p *Provisioner) Created() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.created...)
}

func (p *Provisioner) Destroyed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.destroyed...)
}

// Updates gives, for each Update of the environment that changed
// something, the services it changed.
func (p *Provisioner) Updates(id string) [][]environment.ServiceSpec {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]environment.ServiceSpec(nil), p.updates[id]...)
}
