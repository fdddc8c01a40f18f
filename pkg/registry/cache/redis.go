package cache

import (
	"fmt"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-redis/redis/v7"
	"github.com/pkg/errors"
)

type RedisClient struct {
	logger log.Logger
	client *redis.Client
}

func (r *RedisClient) GetKey(k Keyer) ([]byte, time.Time, error) {
	ci, err := r.client.Get(k.Key()).Bytes()
	if err == redis.Nil {
		// cache miss, no need of logging
		return nil, time.Time{}, ErrNotCached
	} else if err != nil {
		r.logger.Log("err", errors.Wrap(err, "fetching artifact from redis"))
		return nil, time.Time{}, err
	}
	return EndianGet(ci)
}

func (r *RedisClient) SetKey(k Keyer, deadline time.Time, v []byte) error {
	expiry := GracePeriodDeadline(deadline)
	if err := r.client.Set(k.Key(), EndianCompose(EndianPut(deadline), v), expiry).Err(); err != nil {
		r.logger.Log("err", errors.Wrap(err, "storing in redis"))
		return err
	}
	return nil
}

// Ping checks the connection to redis.
func (r *RedisClient) Ping() error {
	return r.client.Ping().Err()
}

func (r *RedisClient) Stop() {
	r.client.Close()
}

type RedisConfig struct {
	Service  string
	Port     int
	Password string
	DB       int
	Timeout  time.Duration
	MaxConns int
	Logger   log.Logger
}

func NewRedisClient(config RedisConfig) *RedisClient {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", config.Service, config.Port),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  config.Timeout,
		ReadTimeout:  config.Timeout,
		WriteTimeout: config.Timeout,
		PoolSize:     config.MaxConns,
	})
	logger := config.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &RedisClient{
		logger: logger,
		client: client,
	}
}
