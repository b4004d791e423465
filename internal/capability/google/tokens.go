package google

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
)

// Scopes requested for every delegated subject.
var Scopes = []string{
	"https://www.googleapis.com/auth/drive",
	"https://www.googleapis.com/auth/documents",
	"https://www.googleapis.com/auth/gmail.modify",
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/contacts",
}

// SourceFunc builds a token source acting as subject.
type SourceFunc func(ctx context.Context, subject string) (oauth2.TokenSource, error)

type tokenEntry struct {
	source    oauth2.TokenSource
	createdAt time.Time
}

// TokenCache holds one delegated token source per subject for a bounded
// time. It is owned by the Client that uses it.
type TokenCache struct {
	mu      sync.Mutex
	entries map[string]tokenEntry
	ttl     time.Duration
	source  SourceFunc
	now     func() time.Time
}

func NewTokenCache(ttl time.Duration, source SourceFunc) *TokenCache {
	return &TokenCache{
		entries: make(map[string]tokenEntry),
		ttl:     ttl,
		source:  source,
		now:     time.Now,
	}
}

// Get returns the cached token source for subject, building a new one when
// none exists or the cached one is older than the TTL.
func (c *TokenCache) Get(ctx context.Context, subject string) (oauth2.TokenSource, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[subject]; ok && c.now().Sub(entry.createdAt) < c.ttl {
		return entry.source, nil
	}

	ts, err := c.source(ctx, subject)
	if err != nil {
		return nil, err
	}
	c.entries[subject] = tokenEntry{source: ts, createdAt: c.now()}
	return ts, nil
}

// Invalidate drops the entry for subject.
func (c *TokenCache) Invalidate(subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, subject)
}

func (c *TokenCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ServiceAccountSource returns a SourceFunc using domain-wide delegation of
// the service account described by credentialsJSON.
func ServiceAccountSource(credentialsJSON []byte) (SourceFunc, error) {
	if _, err := googleoauth.JWTConfigFromJSON(credentialsJSON, Scopes...); err != nil {
		return nil, fmt.Errorf("parse service account credentials: %w", err)
	}

	return func(_ context.Context, subject string) (oauth2.TokenSource, error) {
		cfg, err := googleoauth.JWTConfigFromJSON(credentialsJSON, Scopes...)
		if err != nil {
			return nil, err
		}
		cfg.Subject = subject
		// the token source outlives the request that created it
		return oauth2.ReuseTokenSource(nil, cfg.TokenSource(context.Background())), nil
	}, nil
}
