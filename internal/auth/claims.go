// Package auth implements the Auth Verifier component: bearer token
// verification against a remote (JWKS) or internally-issued signing key.
// The JWKS key set is cached for a TTL; there is no background refresh, so
// the request that finds the cache expired refetches the key set
// synchronously before verifying.
package auth

import (
	"context"
	"time"
)

// Claims is the identity record returned by a successful verification,
// independent of which verifier produced it.
type Claims struct {
	Subject   string
	Email     string
	Name      string
	AvatarURL string
	Issuer    string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Verifier validates a bearer token and extracts identity claims.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (Claims, error)
}
