// Package idgen provides the shared identifier provider used by every
// service that needs to mint a new durable id.
package idgen

import "github.com/google/uuid"

// Provider mints new string identifiers.
type Provider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs a Provider that issues UUIDv7 identifiers,
// which sort close to creation order while remaining globally unique.
func NewUUIDProvider() Provider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
