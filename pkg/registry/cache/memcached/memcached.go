// Package memcached keeps the artifact presence cache in memcached.
//
// Entries expire some time after their refresh deadline, so a lookup
// close to the deadline still finds them. Eviction under memory
// pressure only means a miss, and the registry is asked instead.
package memcached

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"

	"github.com/fluxcd/conveyor/pkg/registry/cache"
)

const defaultRefresh = time.Minute

// Config says where the memcached servers are. If Addresses is
// empty, servers are discovered from the SRV records for Service at
// Host.
type Config struct {
	Addresses []string
	Host      string
	Service   string

	Timeout      time.Duration
	MaxIdleConns int
	// Refresh is how often the server list is looked up again.
	Refresh time.Duration
	Logger  log.Logger
}

// Client is a cache.Client backed by memcached.
type Client struct {
	mc      *memcache.Client
	servers *memcache.ServerList
	config  Config
	logger  log.Logger

	quit chan struct{}
	done sync.WaitGroup
}

var _ cache.Client = &Client{}

// New connects to memcached and starts keeping the server list
// current. Stop it when done.
func New(config Config) *Client {
	servers := &memcache.ServerList{}
	mc := memcache.NewFromSelector(servers)
	mc.Timeout = config.Timeout
	mc.MaxIdleConns = config.MaxIdleConns

	c := &Client{
		mc:      mc,
		servers: servers,
		config:  config,
		logger:  config.Logger,
		quit:    make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = log.NewNopLogger()
	}
	if err := c.lookupServers(); err != nil {
		c.logger.Log("err", errors.Wrap(err, "finding memcached servers"))
	}

	c.done.Add(1)
	go c.refreshLoop()
	return c
}

func (c *Client) GetKey(k cache.Keyer) ([]byte, time.Time, error) {
	item, err := c.mc.Get(k.Key())
	switch {
	case err == memcache.ErrCacheMiss:
		return nil, time.Time{}, cache.ErrNotCached
	case err != nil:
		c.logger.Log("err", errors.Wrap(err, "reading from memcached"))
		return nil, time.Time{}, err
	}
	return cache.EndianGet(item.Value)
}

// SetKey stores the value with its refresh deadline; the item itself
// expires after a grace period past the deadline.
func (c *Client) SetKey(k cache.Keyer, refreshDeadline time.Time, v []byte) error {
	item := &memcache.Item{
		Key:        k.Key(),
		Value:      cache.EndianCompose(cache.EndianPut(refreshDeadline), v),
		Expiration: int32(cache.GracePeriodDeadline(refreshDeadline).Seconds()),
	}
	if err := c.mc.Set(item); err != nil {
		c.logger.Log("err", errors.Wrap(err, "writing to memcached"))
		return err
	}
	return nil
}

func (c *Client) Stop() {
	close(c.quit)
	c.done.Wait()
}

func (c *Client) refreshLoop() {
	defer c.done.Done()
	interval := c.config.Refresh
	if interval <= 0 {
		interval = defaultRefresh
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.quit:
			return
		case <-ticker.C:
			if err := c.lookupServers(); err != nil {
				c.logger.Log("err", errors.Wrap(err, "refreshing memcached servers"))
			}
		}
	}
}

func (c *Client) lookupServers() error {
	if len(c.config.Addresses) > 0 {
		return c.servers.SetServers(c.config.Addresses...)
	}
	_, records, err := net.LookupSRV(c.config.Service, "tcp", c.config.Host)
	if err != nil {
		return err
	}
	addrs := make([]string, len(records))
	for i, r := range records {
		addrs[i] = fmt.Sprintf("%s:%d", r.Target, r.Port)
	}
	// Keys map to a position in the list, and DNS answers come in any
	// order.
	sort.Strings(addrs)
	return c.servers.SetServers(addrs...)
}
