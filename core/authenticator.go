package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const minPasswordLength = 8

var (
	ErrEmailNotFound     = errors.New("email not found")
	ErrInvalidCredential = errors.New("invalid email or password")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidPassword   = fmt.Errorf("password must be at least %d characters long", minPasswordLength)
)

// Authenticator signs in and registers accounts with local email/password credentials.
type Authenticator struct {
	repo   Repository
	crypto *CryptoService
	now    func() time.Time
}

func NewAuthenticator(repo Repository, crypto *CryptoService) *Authenticator {
	return &Authenticator{
		repo:   repo,
		crypto: crypto,
		now:    time.Now,
	}
}

// Authenticate returns the user owning email if password matches its stored hash.
// A missing account yields ErrEmailNotFound, a wrong password ErrInvalidCredential.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := a.repo.FindByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if !a.crypto.ComparePassword(password, user.PasswordHash) {
		return nil, ErrInvalidCredential
	}

	return user, nil
}

// Register creates an account with local credentials.
func (a *Authenticator) Register(ctx context.Context, email, password string) (*User, error) {
	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}
	if len(password) < minPasswordLength {
		return nil, ErrInvalidPassword
	}

	_, err := a.repo.FindByEmail(ctx, email)
	if err == nil {
		return nil, ErrEmailRegistered
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	hash, err := a.crypto.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := a.now().UTC()
	user := &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Providers:    map[Provider]string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := a.repo.Save(ctx, user); err != nil {
		if errors.Is(err, ErrAlreadyExists) {
			return nil, ErrEmailRegistered
		}
		return nil, &PersistenceError{Op: "create user", Err: err}
	}

	return user, nil
}
