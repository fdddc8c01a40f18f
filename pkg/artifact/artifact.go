package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"
)

// MediaType is the media type of the packaged source bundle that
// makes up an artifact's single layer.
const MediaType = "application/vnd.conveyor.bundle.v1.tar+gzip"

// Service is one of the fixed set of named services the pipeline
// delivers. Identity is the name.
type Service struct {
	Name string `json:"name"`
	// SourceDir is the root of the service's source tree.
	SourceDir string `json:"sourceDir"`
	// TestCommand runs the service's unit tests, from SourceDir. An
	// empty command means the service has no unit tests.
	TestCommand []string `json:"testCommand,omitempty"`
	// Port the service listens on, once deployed.
	Port int `json:"port"`
	// HealthPath is the liveness endpoint, relative to the service's
	// address.
	HealthPath string `json:"healthPath"`
	// Database is true if the service needs a database instance in
	// each environment.
	Database bool `json:"database,omitempty"`
	// CurrentVersion is the version last deployed to production.
	CurrentVersion string `json:"currentVersion,omitempty"`
}

// TestResult records the outcome of a service's unit tests.
type TestResult struct {
	Ran      bool          `json:"ran"`
	Passed   bool          `json:"passed"`
	Duration time.Duration `json:"duration"`
}

// Artifact is an immutable, versioned build output for one
// service. The version is derived from the content, so the same
// source always yields the same version.
type Artifact struct {
	Service    string        `json:"service"`
	Version    string        `json:"version"`
	Digest     digest.Digest `json:"digest"`
	BuiltAt    time.Time     `json:"builtAt"`
	TestResult TestResult    `json:"testResult"`
	// LogKey locates the build log in the log store, if it was
	// written.
	LogKey string `json:"logKey,omitempty"`

	// Content is the packaged source bundle. It is not part of the
	// artifact's identity and is not serialised.
	Content []byte `json:"-"`
}

// ID is the immutable (service, version) pair artifacts are keyed by.
type ID struct {
	Service string `json:"service"`
	Version string `json:"version"`
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.Service, id.Version)
}

func (a Artifact) ID() ID {
	return ID{Service: a.Service, Version: a.Version}
}

// Builder produces an artifact from a service's source tree, having
// first run the service's unit tests.
type Builder interface {
	Build(ctx context.Context, service Service) (Artifact, error)
}

// VersionFromDigest derives the version tag from the digest of the
// source tree. It is short enough to read, and long enough that
// different trees do not collide in practice.
func VersionFromDigest(d digest.Digest) string {
	encoded := d.Encoded()
	if len(encoded) > versionLength {
		encoded = encoded[:versionLength]
	}
	return encoded
}

const versionLength = 16
