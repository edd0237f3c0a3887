package profile

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"slopelink/internal/pkg/logx"
)

// Cache is the shared, mutex-guarded profile cache. The lookup-or-fetch
// sequence is atomic with respect to concurrent callers, so a profile is
// fetched at most once while its first lookup is in flight. A single coarse
// lock is enough at party scale; profile lookups are rare next to location
// updates.
//
// The cache is unbounded and never evicted. Parties are small and
// short-lived, so entries die with the process.
type Cache struct {
	// mu guards users and serializes the whole lookup-or-fetch sequence.
	mu sync.Mutex

	// users maps user id to the cached profile. Only successful fetches
	// are stored; failures are never cached.
	users map[string]User

	// store is the external profile source consulted on a miss.
	store Store

	// structured logger with cache context.
	logger zerolog.Logger
}

// NewCache constructs a Cache backed by store.
func NewCache(store Store) *Cache {
	cacheLogger := logx.Logger().With().Str("component", "ProfileCache").Logger()

	return &Cache{
		users:  make(map[string]User),
		store:  store,
		logger: cacheLogger,
	}
}

// Lookup returns the profile for userID, consulting the cache first and the
// store on a miss. Fetch failures of any kind (network, not-found, decode)
// degrade to ok=false and are logged, never propagated: a member without a
// display name is preferable to a failed presence update.
func (c *Cache) Lookup(ctx context.Context, userID string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if user, ok := c.users[userID]; ok {
		return user, true
	}

	user, err := c.store.GetUser(ctx, userID)
	if err != nil {
		c.logger.Warn().
			Str("user_id", userID).
			Err(err).
			Msg("Profile fetch failed, member will be unnamed.")
		return User{}, false
	}

	c.users[userID] = user

	return user, true
}

// Len reports the number of cached profiles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.users)
}
