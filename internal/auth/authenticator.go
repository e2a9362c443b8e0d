// Package auth validates operator API keys for the fleet API.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"fleet-monitor/geostream/internal/clock"
)

// KeyLookup resolves an API key to an operator name, returning "" for an
// unknown key.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

const StaticOperator = "static"

type cacheEntry struct {
	operator  string
	expiresAt time.Time
}

// Authenticator checks static keys first, then a local TTL cache, then the
// shared lookup.
type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	clock      clock.Clock
	ttl        time.Duration
	staticKeys map[string]bool
}

// NewAuthenticator builds an authenticator. lookup may be nil, in which case
// only static keys are accepted.
func NewAuthenticator(staticKeys []string, ttl time.Duration, lookup KeyLookup, clk clock.Clock) *Authenticator {
	keys := make(map[string]bool, len(staticKeys))
	for _, k := range staticKeys {
		if k != "" {
			keys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		clock:      clk,
		ttl:        ttl,
		staticKeys: keys,
	}
}

// Enabled reports whether any key source is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.staticKeys) > 0 || a.lookup != nil
}

// Validate returns the operator behind apiKey. Static keys map to
// StaticOperator.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}
	if a.staticKeys[apiKey] {
		return StaticOperator, true
	}

	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.clock.Now().Before(entry.expiresAt) {
			return entry.operator, true
		}
		a.localCache.Delete(apiKey)
	}

	if a.lookup == nil {
		return "", false
	}
	operator, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		log.Warn().Err(err).Msg("API key lookup failed")
		return "", false
	}
	if operator == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		operator:  operator,
		expiresAt: a.clock.Now().Add(a.ttl),
	})
	return operator, true
}
