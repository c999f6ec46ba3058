package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"accountd/core"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	ID              string  `gorm:"primaryKey;type:varchar(36)"`
	Email           *string `gorm:"uniqueIndex:idx_users_email"`
	PasswordHash    string
	ProfileName     string
	ProfileLocation string
	ProfileGender   string
	ProfilePicture  string
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`

	Providers []providerRecord `gorm:"foreignKey:UserID;references:ID"`
	Tokens    []tokenRecord    `gorm:"foreignKey:UserID;references:ID"`
}

func (userRecord) TableName() string { return "users" }

type providerRecord struct {
	UserID     string `gorm:"primaryKey;type:varchar(36)"`
	Provider   string `gorm:"primaryKey;uniqueIndex:idx_user_providers_identity,priority:1"`
	ProviderID string `gorm:"not null;uniqueIndex:idx_user_providers_identity,priority:2"`
}

func (providerRecord) TableName() string { return "user_providers" }

type tokenRecord struct {
	UserID      string `gorm:"primaryKey;type:varchar(36)"`
	Position    int    `gorm:"primaryKey;autoIncrement:false"`
	Kind        string `gorm:"index"`
	AccessToken string
	TokenSecret string
}

func (tokenRecord) TableName() string { return "user_tokens" }

// GormRepository stores users through gorm. Production deployments point it
// at PostgreSQL; any gorm dialector with unique index support works.
type GormRepository struct {
	db *gorm.DB
}

func NewPostgresRepository(dsn string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	repo := NewGormRepository(db)
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return repo, nil
}

// NewGormRepository wraps an already opened connection. The caller is
// responsible for running Migrate.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Migrate() error {
	return r.db.AutoMigrate(&userRecord{}, &providerRecord{}, &tokenRecord{})
}

func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *GormRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	var record userRecord
	err := r.db.WithContext(ctx).
		Preload("Providers").
		Preload("Tokens", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&record, "id = ?", id.String()).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return record.toUser()
}

func (r *GormRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	var record userRecord
	err := r.db.WithContext(ctx).Select("id").First(&record, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.findByRecordID(ctx, record.ID)
}

func (r *GormRepository) FindByProvider(ctx context.Context, provider core.Provider, providerID string) (*core.User, error) {
	var link providerRecord
	err := r.db.WithContext(ctx).
		First(&link, "provider = ? AND provider_id = ?", string(provider), providerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r.findByRecordID(ctx, link.UserID)
}

func (r *GormRepository) findByRecordID(ctx context.Context, rawID string) (*core.User, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", rawID, err)
	}
	return r.FindByID(ctx, id)
}

func (r *GormRepository) Save(ctx context.Context, user *core.User) error {
	record := newUserRecord(user)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Omit(clause.Associations).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "id"}},
				DoUpdates: clause.AssignmentColumns([]string{
					"email", "password_hash", "profile_name", "profile_location",
					"profile_gender", "profile_picture", "updated_at",
				}),
			}).
			Create(&record).Error
		if err != nil {
			return err
		}

		if err := tx.Where("user_id = ?", record.ID).Delete(&providerRecord{}).Error; err != nil {
			return err
		}
		if len(record.Providers) > 0 {
			if err := tx.Create(&record.Providers).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("user_id = ?", record.ID).Delete(&tokenRecord{}).Error; err != nil {
			return err
		}
		if len(record.Tokens) > 0 {
			if err := tx.Create(&record.Tokens).Error; err != nil {
				return err
			}
		}
		return nil
	})

	if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %v", core.ErrAlreadyExists, err)
	}
	return err
}

func newUserRecord(user *core.User) userRecord {
	record := userRecord{
		ID:              user.ID.String(),
		PasswordHash:    user.PasswordHash,
		ProfileName:     user.Profile.Name,
		ProfileLocation: user.Profile.Location,
		ProfileGender:   user.Profile.Gender,
		ProfilePicture:  user.Profile.Picture,
		CreatedAt:       user.CreatedAt.UTC(),
		UpdatedAt:       user.UpdatedAt.UTC(),
	}
	if user.Email != "" {
		email := user.Email
		record.Email = &email
	}
	for provider, providerID := range user.Providers {
		record.Providers = append(record.Providers, providerRecord{
			UserID:     record.ID,
			Provider:   string(provider),
			ProviderID: providerID,
		})
	}
	for i, token := range user.Tokens {
		record.Tokens = append(record.Tokens, tokenRecord{
			UserID:      record.ID,
			Position:    i,
			Kind:        string(token.Kind),
			AccessToken: token.AccessToken,
			TokenSecret: token.TokenSecret,
		})
	}
	return record
}

func (r *userRecord) toUser() (*core.User, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", r.ID, err)
	}

	user := &core.User{
		ID:           id,
		PasswordHash: r.PasswordHash,
		Providers:    make(map[core.Provider]string, len(r.Providers)),
		Profile: core.Profile{
			Name:     r.ProfileName,
			Location: r.ProfileLocation,
			Gender:   r.ProfileGender,
			Picture:  r.ProfilePicture,
		},
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
	if r.Email != nil {
		user.Email = *r.Email
	}
	for _, link := range r.Providers {
		user.Providers[core.Provider(link.Provider)] = link.ProviderID
	}
	for _, token := range r.Tokens {
		user.Tokens = append(user.Tokens, core.Token{
			Kind:        core.Provider(token.Kind),
			AccessToken: token.AccessToken,
			TokenSecret: token.TokenSecret,
		})
	}
	return user, nil
}
