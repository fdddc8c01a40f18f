// Package environment describes the isolated runtime environments
// that services are deployed into: ephemeral staging environments,
// created and destroyed within a pipeline run, and the long-lived
// production environment, which is only ever updated in place.
package environment

import (
	"context"
	"fmt"
	"sort"

	"github.com/fluxcd/conveyor/pkg/image"
)

type Kind string

const (
	Staging    Kind = "staging"
	Production Kind = "production"
)

// State is where an environment is in its lifecycle.
type State string

const (
	Provisioning State = "Provisioning"
	Ready        State = "Ready"
	Degraded     State = "Degraded"
	TearingDown  State = "TearingDown"
	Destroyed    State = "Destroyed"
)

// StagingID gives the identifier of the staging environment for a
// pipeline run.
func StagingID(runID string) string {
	return "stg-" + runID
}

// ServiceSpec says what to run for one service.
type ServiceSpec struct {
	Name    string    `json:"name"`
	Version string    `json:"version"`
	Image   image.Ref `json:"image"`
	// Port is the port the service listens on; 0 means DefaultPort.
	Port       int    `json:"port,omitempty"`
	HealthPath string `json:"healthPath,omitempty"`
	// Database is whether the service needs a database instance.
	Database bool `json:"database,omitempty"`
}

const (
	DefaultPort       = 8080
	DefaultHealthPath = "/health"
)

func (s ServiceSpec) ListenPort() int {
	if s.Port == 0 {
		return DefaultPort
	}
	return s.Port
}

func (s ServiceSpec) HealthEndpoint() string {
	if s.HealthPath == "" {
		return DefaultHealthPath
	}
	return s.HealthPath
}

// Spec is the declarative description of an environment.
type Spec struct {
	ID       string        `json:"id"`
	Services []ServiceSpec `json:"services"`
}

// NeedsDatabase says whether any of the services asks for a
// database.
func (s Spec) NeedsDatabase() bool {
	for _, svc := range s.Services {
		if svc.Database {
			return true
		}
	}
	return false
}

// Binding is where a service can be reached in an environment.
type Binding struct {
	Service string `json:"service"`
	Version string `json:"version"`
	// Endpoint is the base URL of the service.
	Endpoint   string `json:"endpoint"`
	HealthPath string `json:"healthPath"`
}

// HealthURL is the URL of the service's liveness endpoint.
func (b Binding) HealthURL() string {
	return b.Endpoint + b.HealthPath
}

type Environment struct {
	ID         string             `json:"id"`
	Kind       Kind               `json:"kind"`
	NetworkRef string             `json:"networkRef"`
	Bindings   map[string]Binding `json:"bindings"`
	State      State              `json:"state"`
}

// Services lists the names of the services bound in the
// environment, in order.
func (e Environment) Services() []string {
	var names []string
	for name := range e.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Versions gives the version each service is running.
func (e Environment) Versions() map[string]string {
	versions := map[string]string{}
	for name, b := range e.Bindings {
		versions[name] = b.Version
	}
	return versions
}

// Provisioner creates, updates and destroys environments.
type Provisioner interface {
	// Create makes a new environment according to the spec, and
	// waits until it is ready. If it is not ready in time, whatever
	// was created is destroyed before the error is returned.
	Create(ctx context.Context, kind Kind, spec Spec) (Environment, error)
	// Get reports on an existing environment; or a NotFoundError.
	Get(ctx context.Context, id string) (Environment, error)
	// Update makes the services in an existing environment run the
	// versions given, leaving the network and database alone. It
	// does nothing for services already at those versions.
	Update(ctx context.Context, id string, services []ServiceSpec) error
	// Destroy removes the environment and everything in it.
	// Destroying an environment that does not exist is not an error.
	Destroy(ctx context.Context, id string) error
}

type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("environment %q not found", e.ID)
}
