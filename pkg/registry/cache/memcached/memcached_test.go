// +build integration

package memcached

import (
	"context"
	"flag"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxcd/conveyor/pkg/artifact"
	"github.com/fluxcd/conveyor/pkg/registry/cache"
	"github.com/fluxcd/conveyor/pkg/registry/mock"
)

var (
	memcachedIPs = flag.String("memcached-ips", "127.0.0.1:11211", "space-separated host:port values for memcached to connect to")
)

type testKey string

func (t testKey) Key() string {
	return string(t)
}

func newTestClient() *Client {
	return New(Config{
		Addresses: strings.Fields(*memcachedIPs),
		Timeout:   time.Second,
		Logger:    log.With(log.NewLogfmtLogger(os.Stderr), "component", "memcached"),
	})
}

func TestMemcache_ExpiryReadWrite(t *testing.T) {
	mc := newTestClient()
	defer mc.Stop()

	val := []byte("registry.local/orders:0123456789abcdef")
	now := time.Now().Round(time.Second)
	require.NoError(t, mc.SetKey(testKey("test"), now, val))

	cached, deadline, err := mc.GetKey(testKey("test"))
	require.NoError(t, err)
	assert.True(t, deadline.Equal(now))
	assert.Equal(t, string(val), string(cached))
}

func TestMemcache_CachedRegistry(t *testing.T) {
	mc := newTestClient()
	defer mc.Stop()

	backing := mock.NewRegistry("registry.local")
	reg := &cache.Registry{
		Next:       backing,
		Repository: "registry.local/" + time.Now().Format("20060102150405.000"),
		Client:     mc,
		TTL:        time.Hour,
	}
	a := artifact.Artifact{Service: "orders", Version: "0123456789abcdef", Digest: digest.FromString("orders")}
	require.NoError(t, reg.Push(context.Background(), a))

	backing.Fail(mock.OpExists, assert.AnError)
	ok, err := reg.Exists(context.Background(), "orders", "0123456789abcdef")
	require.NoError(t, err)
	assert.True(t, ok)
}
