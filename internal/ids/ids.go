package ids

import "github.com/google/uuid"

// Provider issues UUIDv7 identifiers. It satisfies the per-package
// IDProvider interfaces declared by the services that consume it.
type Provider struct{}

// NewProvider constructs a UUIDv7 identifier provider.
func NewProvider() Provider {
	return Provider{}
}

// NewID returns a fresh UUIDv7 string.
func (Provider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
