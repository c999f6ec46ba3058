package core_test

import (
	"context"
	"errors"
	"testing"

	"accountd/core"
	"accountd/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var errStoreDown = errors.New("store down")

func newTestCrypto(t *testing.T) *core.CryptoService {
	t.Helper()
	crypto, err := core.NewCryptoService(storage.MockEncryptionKey)
	require.NoError(t, err)
	return crypto.WithPasswordCost(bcrypt.MinCost)
}

// failingRepository delegates reads and fails every Save with saveErr.
type failingRepository struct {
	core.Repository
	saveErr error
}

func (f *failingRepository) Save(ctx context.Context, user *core.User) error {
	return f.saveErr
}

// racingRepository reports the first few provider or email lookups as missing,
// as if another request saved the owner right after them.
type racingRepository struct {
	core.Repository
	hiddenProviderLookups int
	hiddenEmailLookups    int
}

func (r *racingRepository) FindByProvider(ctx context.Context, provider core.Provider, providerID string) (*core.User, error) {
	if r.hiddenProviderLookups > 0 {
		r.hiddenProviderLookups--
		return nil, core.ErrNotFound
	}
	return r.Repository.FindByProvider(ctx, provider, providerID)
}

func (r *racingRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	if r.hiddenEmailLookups > 0 {
		r.hiddenEmailLookups--
		return nil, core.ErrNotFound
	}
	return r.Repository.FindByEmail(ctx, email)
}

func mustFindUser(t *testing.T, repo core.Repository, user *core.User) *core.User {
	t.Helper()
	found, err := repo.FindByID(context.Background(), user.ID)
	require.NoError(t, err)
	return found
}

// brokenReadRepository fails every call.
type brokenReadRepository struct{}

func (brokenReadRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	return nil, errStoreDown
}

func (brokenReadRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	return nil, errStoreDown
}

func (brokenReadRepository) FindByProvider(ctx context.Context, provider core.Provider, providerID string) (*core.User, error) {
	return nil, errStoreDown
}

func (brokenReadRepository) Save(ctx context.Context, user *core.User) error {
	return errStoreDown
}
