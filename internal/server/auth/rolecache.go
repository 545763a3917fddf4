package auth

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/kbsync/internal/common"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	defaultRoleCacheSize = 1024
	defaultRoleCacheTTL  = time.Minute
)

type roleEntry struct {
	role     string
	missing  bool
	storedAt time.Time
}

// RoleCache is a RoleLookup that remembers answers, including "no role",
// for a short TTL. Lookup errors are not cached.
type RoleCache struct {
	next  RoleLookup
	cache *lru.Cache[string, roleEntry]
	ttl   time.Duration
	now   func() time.Time
}

func NewRoleCache(next RoleLookup, size int, ttl time.Duration) (*RoleCache, error) {
	if size <= 0 {
		size = defaultRoleCacheSize
	}
	if ttl <= 0 {
		ttl = defaultRoleCacheTTL
	}
	c, err := lru.New[string, roleEntry](size)
	if err != nil {
		return nil, err
	}
	return &RoleCache{next: next, cache: c, ttl: ttl, now: time.Now}, nil
}

func (c *RoleCache) GetRole(ctx context.Context, userID string) (string, error) {
	if e, ok := c.cache.Get(userID); ok && c.now().Sub(e.storedAt) < c.ttl {
		if e.missing {
			return "", common.ErrorNotFound
		}
		return e.role, nil
	}

	role, err := c.next.GetRole(ctx, userID)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		c.cache.Add(userID, roleEntry{missing: true, storedAt: c.now()})
		return "", err
	case err != nil:
		return "", err
	}
	c.cache.Add(userID, roleEntry{role: role, storedAt: c.now()})
	return role, nil
}
