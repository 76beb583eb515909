// Package authcache watches the expiry of the locally persisted OAuth
// access token so callers know when a refresh is due, without re-deriving
// the OAuth flow itself (out of scope for this core).
package authcache

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin is how far ahead of actual expiry a token is considered
// due for refresh. It is wider than the 5s margin colabapi.ProxyCredentials
// applies to proxy tokens.
const refreshMargin = 30 * time.Second

// Cache holds the single current access token and its parsed expiry.
// There is exactly one OAuth session per account, so this is a one-entry
// cache.
type Cache struct {
	mu     sync.Mutex
	token  string
	expiry time.Time
}

// Set records a newly obtained access token, parsing its `exp` claim if the
// token is a JWT. Tokens that don't parse as JWTs (Google's opaque bearer
// tokens normally aren't) get a zero expiry, which NeedsRefresh treats as
// always due.
func (c *Cache) Set(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiry = parseExpiry(token)
}

// Token returns the currently cached access token.
func (c *Cache) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// NeedsRefresh reports whether the cached token is unset, unparseable, or
// within refreshMargin of its parsed expiry.
func (c *Cache) NeedsRefresh(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == "" || c.expiry.IsZero() {
		return true
	}
	return !now.Before(c.expiry.Add(-refreshMargin))
}

// parseExpiry extracts the `exp` claim from token without verifying its
// signature — this cache only needs the watermark, and the token itself is
// trusted because it came from the local, mode-0600 session file rather
// than the network.
func parseExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	expFloat, err := claims.GetExpirationTime()
	if err != nil || expFloat == nil {
		return time.Time{}
	}
	return expFloat.Time
}
