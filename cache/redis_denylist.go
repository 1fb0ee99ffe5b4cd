// Package cache holds the shared token denylist backed by Redis.
package cache

import (
	"context"
	"time"

	accounts "github.com/lungvision/go-accounts"
	"github.com/redis/go-redis/v9"
)

const defaultNamespace = "lungvision:revoked"

// Store is the subset of the redis client the denylist uses.
type Store interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisOptions selects the redis server
type RedisOptions struct {
	Addrs      []string
	Password   string
	DB         int
	UseCluster bool
	Namespace  string
}

// RedisDenylist shares revoked refresh tokens across server instances.
type RedisDenylist struct {
	client    Store
	namespace string
}

var _ accounts.TokenDenylist = (*RedisDenylist)(nil)

// NewRedisClient builds a single node or cluster client.
func NewRedisClient(opts RedisOptions) redis.UniversalClient {
	if opts.UseCluster && len(opts.Addrs) > 1 {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    opts.Addrs,
			Password: opts.Password,
		})
	}

	addr := "127.0.0.1:6379"
	if len(opts.Addrs) > 0 {
		addr = opts.Addrs[0]
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

func NewRedisDenylist(client Store, namespace string) *RedisDenylist {
	if namespace == "" {
		namespace = defaultNamespace
	}
	return &RedisDenylist{
		client:    client,
		namespace: namespace,
	}
}

func (d *RedisDenylist) key(tokenID string) string {
	return d.namespace + ":" + tokenID
}

// Revoke stores the token ID until the token would have expired anyway.
func (d *RedisDenylist) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" || ttl <= 0 {
		return nil
	}
	return d.client.Set(ctx, d.key(tokenID), 1, ttl).Err()
}

func (d *RedisDenylist) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	n, err := d.client.Exists(ctx, d.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
