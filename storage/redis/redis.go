// Package redis stores snapshot documents in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Kishta47/poky-app"
)

// Config selects the Redis server.
type Config struct {
	Addr     string
	DB       int
	Password string
	// TTL expires stored documents; zero keeps them forever.
	TTL time.Duration
}

// Storage is a poky.Storage backed by Redis.
type Storage struct {
	rdb    *goredis.Client
	ttl    time.Duration
	logger poky.Logger
}

var _ poky.Storage = (*Storage)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, cfg Config, logger poky.Logger) (*Storage, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})

	s := &Storage{rdb: rdb, ttl: cfg.TTL, logger: logger}
	if err := s.Ping(ctx); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return s, nil
}

// Ping checks the connection.
func (s *Storage) Ping(ctx context.Context) error {
	err := s.rdb.Ping(ctx).Err()
	if err != nil {
		s.log("PING failed", "error", err.Error())
	}
	return err
}

// Get returns the value stored under key.
func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		s.log("GET not found", "key", key)
		return nil, poky.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %q: %w", key, err)
	}
	s.log("GET hit", "key", key, "bytes", len(b))
	return b, nil
}

// Set stores value under key with the configured TTL.
func (s *Storage) Set(ctx context.Context, key string, value []byte) error {
	if err := s.rdb.Set(ctx, key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	s.log("SET ok", "key", key, "bytes", len(value), "ttl", s.ttl)
	return nil
}

// Delete removes key.
func (s *Storage) Delete(ctx context.Context, key string) error {
	n, err := s.rdb.Del(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	s.log("DEL ok", "key", key, "deleted", n)
	return nil
}

// Close closes the connection pool.
func (s *Storage) Close() error {
	return s.rdb.Close()
}

func (s *Storage) log(msg string, kv ...interface{}) {
	if s.logger != nil {
		s.logger.Debug("redis: "+msg, kv...)
	}
}
