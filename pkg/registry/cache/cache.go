package cache

import (
	"strings"
	"time"
)

type Reader interface {
	// GetKey gets the value at a key, along with its refresh deadline
	GetKey(k Keyer) ([]byte, time.Time, error)
}

type Writer interface {
	// SetKey sets the value at a key, along with its refresh deadline
	SetKey(k Keyer, deadline time.Time, v []byte) error
}

type Client interface {
	Reader
	Writer
}

// An interface to provide the key under which to store the data.
// Keys include the registry host and repository prefix, since the
// same service and version might be published to more than one
// registry.
type Keyer interface {
	Key() string
}

type artifactKey struct {
	repository, service, version string
}

// NewArtifactKey gives the key under which the presence of a version
// of a service, in the repository given, is recorded.
func NewArtifactKey(repository, service, version string) Keyer {
	return &artifactKey{repository, service, version}
}

func (k *artifactKey) Key() string {
	return strings.Join([]string{
		"conveyorartifactv1", // Bump the version number if the cache format changes
		k.repository,
		k.service,
		k.version,
	}, "|")
}
