package state

import "github.com/pkarls/portfwd/internal/obs"

// NewStore creates either an in-memory or Redis-backed state store based on
// configuration.
func NewStore(redisAddr, redisPassword string, redisDB int) (Store, error) {
	if redisAddr == "" {
		obs.Info("state.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryStore(), nil
	}
	obs.Info("state.backend", obs.Fields{"type": "redis", "addr": redisAddr})
	return NewRedisStore(redisAddr, redisPassword, redisDB)
}
