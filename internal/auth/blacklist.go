package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Blacklist stores revoked token keys until they expire.
type Blacklist interface {
	// Add records key until expiresAt. Adding an existing key is a no-op
	// apart from extending its expiry.
	Add(ctx context.Context, key string, expiresAt time.Time) error

	// Has reports whether key is present and not yet expired.
	Has(ctx context.Context, key string) (bool, error)

	// Claim adds key only if absent and reports whether this call added it.
	Claim(ctx context.Context, key string, expiresAt time.Time) (bool, error)
}

// HashToken returns the hex SHA-256 of a raw token. Blacklist keys never
// contain the token itself.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// MemoryBlacklist is a process-local Blacklist.
//
// Expired entries are removed lazily on the next lookup after the earliest
// known expiry has passed.
type MemoryBlacklist struct {
	mu         sync.Mutex
	entries    map[string]time.Time
	nextExpiry time.Time
	now        func() time.Time
}

// NewMemoryBlacklist creates an empty blacklist. A nil now uses time.Now.
func NewMemoryBlacklist(now func() time.Time) *MemoryBlacklist {
	if now == nil {
		now = time.Now
	}
	return &MemoryBlacklist{entries: make(map[string]time.Time), now: now}
}

// Add implements Blacklist.
func (b *MemoryBlacklist) Add(_ context.Context, key string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putLocked(key, expiresAt)
	return nil
}

// Has implements Blacklist.
func (b *MemoryBlacklist) Has(_ context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	_, ok := b.entries[key]
	return ok, nil
}

// Claim implements Blacklist.
func (b *MemoryBlacklist) Claim(_ context.Context, key string, expiresAt time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepLocked()
	if _, ok := b.entries[key]; ok {
		return false, nil
	}
	b.putLocked(key, expiresAt)
	return true, nil
}

// Len returns the number of stored entries, expired or not.
func (b *MemoryBlacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Clear removes every entry.
func (b *MemoryBlacklist) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]time.Time)
	b.nextExpiry = time.Time{}
}

func (b *MemoryBlacklist) putLocked(key string, expiresAt time.Time) {
	if cur, ok := b.entries[key]; ok && cur.After(expiresAt) {
		return
	}
	b.entries[key] = expiresAt
	if b.nextExpiry.IsZero() || expiresAt.Before(b.nextExpiry) {
		b.nextExpiry = expiresAt
	}
}

func (b *MemoryBlacklist) sweepLocked() {
	now := b.now()
	if b.nextExpiry.IsZero() || now.Before(b.nextExpiry) {
		return
	}

	var next time.Time
	for key, exp := range b.entries {
		if !now.Before(exp) {
			delete(b.entries, key)
			continue
		}
		if next.IsZero() || exp.Before(next) {
			next = exp
		}
	}
	b.nextExpiry = next
}
