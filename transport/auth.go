package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AuthProvider yields a bearer credential for a subject. Token is called per
// delivery attempt; implementations may cache. Invalidate drops any cached
// credential for the subject, forcing the next Token call to mint a fresh one
// (used after the endpoint answers 401).
type AuthProvider interface {
	Token(ctx context.Context, subject string) (string, error)
	Invalidate(subject string)
}

// expirySkew is how long before expiry a cached token is considered stale.
const expirySkew = 30 * time.Second

type cachedToken struct {
	token  string
	expiry time.Time
}

// JWTProvider mints HS256-signed JWTs with {sub, iat, exp} claims, matching
// what the collection endpoint verifies. Tokens are cached per subject and
// reused until expirySkew before expiry. Safe for concurrent use.
type JWTProvider struct {
	secret []byte
	ttl    time.Duration

	mu    sync.Mutex
	cache map[string]cachedToken
	now   func() time.Time // injectable for deterministic tests
}

// NewJWTProvider builds a provider signing with secret; each token is valid
// for ttl from the moment it is minted.
func NewJWTProvider(secret string, ttl time.Duration) *JWTProvider {
	return &JWTProvider{
		secret: []byte(secret),
		ttl:    ttl,
		cache:  make(map[string]cachedToken),
		now:    time.Now,
	}
}

// Token returns a cached token for subject, minting a new one when none is
// cached or the cached one expires within expirySkew.
func (p *JWTProvider) Token(_ context.Context, subject string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if c, ok := p.cache[subject]; ok && now.Before(c.expiry.Add(-expirySkew)) {
		return c.token, nil
	}

	expiry := now.Add(p.ttl)
	claims := jwt.MapClaims{
		"sub": subject,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("transport: sign jwt: %w", err)
	}
	p.cache[subject] = cachedToken{token: token, expiry: expiry}
	return token, nil
}

// Invalidate discards the cached token for subject.
func (p *JWTProvider) Invalidate(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, subject)
}
