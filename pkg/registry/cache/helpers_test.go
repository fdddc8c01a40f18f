package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGracePeriodDeadline(t *testing.T) {
	t.Run("yesterday", func(t *testing.T) {
		r := GracePeriodDeadline(time.Now().Add(-24 * time.Hour))
		assert.Equal(t, r, MinExpiry)
	})
	t.Run("tomorrow", func(t *testing.T) {
		r := GracePeriodDeadline(time.Now().Add(24 * time.Hour))
		assert.True(t, r > 47*time.Hour)
	})
}

func TestEndianFlow(t *testing.T) {
	e := time.Now().Add(time.Hour).Round(time.Second)

	item := EndianCompose(EndianPut(e), []byte("registry.local/orders@sha256:abc"))
	v, d, err := EndianGet(item)

	assert.NoError(t, err)
	assert.True(t, e.Equal(d))
	assert.Equal(t, "registry.local/orders@sha256:abc", string(v))
}

func TestEndianGetShortItem(t *testing.T) {
	_, _, err := EndianGet([]byte{1, 2})
	assert.Error(t, err)
}

func TestArtifactKeyIncludesRepository(t *testing.T) {
	a := NewArtifactKey("one.example.com/apps", "orders", "0123456789abcdef")
	b := NewArtifactKey("two.example.com/apps", "orders", "0123456789abcdef")
	assert.NotEqual(t, a.Key(), b.Key())
	assert.Contains(t, a.Key(), "orders")
}
