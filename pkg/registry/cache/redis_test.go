// +build integration

package cache

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
)

var (
	redisIp   = flag.String("redis-service", "127.0.0.1", "host for redis to connect to")
	redisPort = flag.Int("redis-port", 6379, "port for redis to connect to")
)

type keyerMock string

func (k keyerMock) Key() string {
	return string(k)
}

func newRedisClient() *RedisClient {
	return NewRedisClient(RedisConfig{
		Service: *redisIp,
		Port:    *redisPort,
		Timeout: time.Second,
		Logger:  log.NewLogfmtLogger(os.Stderr),
	})
}

func TestRedisClient_CacheMiss(t *testing.T) {
	c := newRedisClient()
	k := keyerMock(fmt.Sprintf("random-%d-key", rand.New(rand.NewSource(time.Now().UnixNano())).Int31()))
	_, _, err := c.GetKey(k)

	assert.Error(t, err)
	assert.Equal(t, ErrNotCached, err)
}

func TestRedisClient_ExpiryReadWrite(t *testing.T) {
	c := newRedisClient()
	key := keyerMock("test")
	val := []byte("registry.local/orders:0123456789abcdef@sha256:abc")

	defer func() { _, _ = c.client.Del(key.Key()).Result() }()

	now := time.Now().Round(time.Second)
	assert.NoError(t, c.SetKey(key, now, val))

	cached, deadline, err := c.GetKey(key)
	assert.NoError(t, err)
	assert.True(t, now.Equal(deadline))
	assert.Equal(t, string(val), string(cached))
}
