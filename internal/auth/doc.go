// Package auth provides credentials and token rotation for the REST API and
// the realtime channel.
//
// It implements:
//   - Argon2id password hashing (PHC string format)
//   - HS256 access and refresh JWTs with distinct kinds and secrets
//   - Single-use refresh token rotation enforced by an atomic blacklist claim
//   - Revocation through a Blacklist keyed by the SHA-256 of the raw token,
//     held in memory or in Redis when several instances share one store
//
// Verification checks signature and expiry first, then the blacklist, so a
// revoked token is rejected even while it is cryptographically valid.
//
// Every error returned by this package carries a result.Code.
package auth
