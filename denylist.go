package accounts

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/allegro/bigcache/v3"
)

// TokenDenylist remembers revoked token IDs until they expire
type TokenDenylist interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// LocalDenylist keeps revoked token IDs in process memory. Entries are
// evicted by bigcache after the configured life window; the stored expiry
// covers shorter per token TTLs.
type LocalDenylist struct {
	cache *bigcache.BigCache
	now   func() time.Time
}

// NewLocalDenylist sizes the cache life window to the longest token TTL.
func NewLocalDenylist(ctx context.Context, lifeWindow time.Duration) (*LocalDenylist, error) {
	if lifeWindow <= 0 {
		lifeWindow = DefaultRefreshTokenTTL
	}
	config := bigcache.DefaultConfig(lifeWindow)
	config.Verbose = false

	cache, err := bigcache.New(ctx, config)
	if err != nil {
		return nil, err
	}
	return &LocalDenylist{cache: cache, now: time.Now}, nil
}

func (d *LocalDenylist) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	if tokenID == "" {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(d.now().Add(ttl).Unix()))
	return d.cache.Set(tokenID, buf)
}

func (d *LocalDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	if tokenID == "" {
		return false, nil
	}
	entry, err := d.cache.Get(tokenID)
	if err != nil {
		if errors.Is(err, bigcache.ErrEntryNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(entry) != 8 {
		return true, nil
	}
	expires := time.Unix(int64(binary.BigEndian.Uint64(entry)), 0)
	return d.now().Before(expires), nil
}

// Close releases the cache
func (d *LocalDenylist) Close() error {
	return d.cache.Close()
}

type noopDenylist struct{}

func (noopDenylist) Revoke(context.Context, string, time.Duration) error { return nil }
func (noopDenylist) IsRevoked(context.Context, string) (bool, error)     { return false, nil }
