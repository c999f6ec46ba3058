package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"accountd/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	userQuery := `
		SELECT id, email, password_hash, profile_name, profile_location, profile_gender, profile_picture, created_at, updated_at
		FROM users
		WHERE id = ?
	`

	var user core.User
	var idStr string
	var email sql.NullString
	var createdAt, updatedAt int64

	err := r.db.QueryRowContext(ctx, userQuery, id.String()).Scan(
		&idStr,
		&email,
		&user.PasswordHash,
		&user.Profile.Name,
		&user.Profile.Location,
		&user.Profile.Gender,
		&user.Profile.Picture,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", idStr, err)
	}
	user.Email = email.String
	user.CreatedAt = time.Unix(createdAt, 0).UTC()
	user.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	if user.Providers, err = r.findProviders(ctx, idStr); err != nil {
		return nil, err
	}
	if user.Tokens, err = r.findTokens(ctx, idStr); err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *SQLiteRepository) findProviders(ctx context.Context, userID string) (map[core.Provider]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider, provider_id
		FROM user_providers
		WHERE user_id = ?
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	providers := map[core.Provider]string{}
	for rows.Next() {
		var provider, providerID string
		if err := rows.Scan(&provider, &providerID); err != nil {
			return nil, err
		}
		providers[core.Provider(provider)] = providerID
	}

	return providers, rows.Err()
}

func (r *SQLiteRepository) findTokens(ctx context.Context, userID string) ([]core.Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT kind, access_token, token_secret
		FROM user_tokens
		WHERE user_id = ?
		ORDER BY position
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []core.Token
	for rows.Next() {
		var token core.Token
		var kind string
		if err := rows.Scan(&kind, &token.AccessToken, &token.TokenSecret); err != nil {
			return nil, err
		}
		token.Kind = core.Provider(kind)
		tokens = append(tokens, token)
	}

	return tokens, rows.Err()
}

func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	return r.findUserBy(ctx, `SELECT id FROM users WHERE email = ?`, email)
}

func (r *SQLiteRepository) FindByProvider(ctx context.Context, provider core.Provider, providerID string) (*core.User, error) {
	return r.findUserBy(ctx, `
		SELECT user_id
		FROM user_providers
		WHERE provider = ? AND provider_id = ?
	`, string(provider), providerID)
}

func (r *SQLiteRepository) findUserBy(ctx context.Context, query string, args ...any) (*core.User, error) {
	var userIDStr string
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&userIDStr)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", userIDStr, err)
	}
	return r.FindByID(ctx, userID)
}

func (r *SQLiteRepository) Save(ctx context.Context, user *core.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	userQuery := `
		INSERT INTO users (id, email, password_hash, profile_name, profile_location, profile_gender, profile_picture, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			email = excluded.email,
			password_hash = excluded.password_hash,
			profile_name = excluded.profile_name,
			profile_location = excluded.profile_location,
			profile_gender = excluded.profile_gender,
			profile_picture = excluded.profile_picture,
			updated_at = excluded.updated_at
	`
	_, err = tx.ExecContext(ctx, userQuery,
		user.ID.String(),
		sql.NullString{String: user.Email, Valid: user.Email != ""},
		user.PasswordHash,
		user.Profile.Name,
		user.Profile.Location,
		user.Profile.Gender,
		user.Profile.Picture,
		user.CreatedAt.Unix(),
		user.UpdatedAt.Unix(),
	)
	if err != nil {
		return translateSQLiteError(err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_providers WHERE user_id = ?`, user.ID.String()); err != nil {
		return err
	}
	providerQuery := `
		INSERT INTO user_providers (user_id, provider, provider_id)
		VALUES (?, ?, ?)
	`
	for provider, providerID := range user.Providers {
		if _, err := tx.ExecContext(ctx, providerQuery, user.ID.String(), string(provider), providerID); err != nil {
			return translateSQLiteError(err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_tokens WHERE user_id = ?`, user.ID.String()); err != nil {
		return err
	}
	tokenQuery := `
		INSERT INTO user_tokens (user_id, position, kind, access_token, token_secret)
		VALUES (?, ?, ?, ?, ?)
	`
	for i, token := range user.Tokens {
		if _, err := tx.ExecContext(ctx, tokenQuery, user.ID.String(), i, string(token.Kind), token.AccessToken, token.TokenSecret); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func translateSQLiteError(err error) error {
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
	}
	return err
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "UNIQUE constraint failed") ||
		strings.Contains(errMsg, "UNIQUE") ||
		strings.Contains(errMsg, "unique") ||
		strings.Contains(errMsg, "duplicate key")
}
