package core

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrAlreadyExists       = errors.New("already exists")
	ErrUnsupportedProvider = errors.New("unsupported provider")
)

// Repository is the user store. Implementations must enforce uniqueness of
// (provider, provider id) pairs and of normalized emails, returning
// ErrAlreadyExists from Save when either would be violated.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)

	// FindByEmail expects an already normalized email
	FindByEmail(ctx context.Context, email string) (*User, error)

	FindByProvider(ctx context.Context, provider Provider, providerID string) (*User, error)

	// Save inserts the user or replaces the stored record with the same ID,
	// including its provider links and tokens.
	Save(ctx context.Context, user *User) error
}
