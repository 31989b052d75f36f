package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
)

// seedPasswordBytes is the number of random bytes for each seed password.
const seedPasswordBytes = 12

// seedAccounts are the demo accounts created on an empty database.
var seedAccounts = []struct {
	username string
	email    string
}{
	{"admin", "admin@parking.com"},
	{"user", "user@parking.com"},
}

// SeedUsers creates the demo accounts if no users exist. Generated passwords
// are logged once and returned keyed by email; the map is empty when seeding
// was skipped.
func SeedUsers(ctx context.Context, users UserRepository, logger *slog.Logger) (map[string]string, error) {
	created := make(map[string]string)

	count, err := users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking user count: %w", err)
	}
	if count > 0 {
		logger.Info("users exist, skipping user seed")
		return created, nil
	}

	for _, acct := range seedAccounts {
		buf := make([]byte, seedPasswordBytes)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("generating seed password: %w", err)
		}
		password := hex.EncodeToString(buf)

		hash, err := HashPassword(password)
		if err != nil {
			return nil, fmt.Errorf("hashing seed password: %w", err)
		}

		user := &User{Username: acct.username, Email: acct.email, PasswordHash: hash}
		if err := users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("creating seed user %s: %w", acct.email, err)
		}
		created[acct.email] = password

		logger.Warn("seed account created",
			"email", acct.email,
			"password", password,
			"action_required", "change this password before exposing the server",
		)
	}
	return created, nil
}
