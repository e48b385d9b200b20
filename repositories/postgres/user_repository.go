package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"go.uber.org/zap"
)

const userColumns = `id, stable_id, display_name, profile_picture_url, created_at, updated_at`

// UserRepository implements the repositories.UserRepository interface
type UserRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *DB, logger *zap.Logger) repositories.UserRepository {
	return &UserRepository{
		db:     db,
		logger: logger,
	}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		user.ID,
		user.StableID,
		user.DisplayName,
		user.ProfilePictureURL,
		user.CreatedAt,
		user.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create user: %w", translateError(err))
	}

	r.logger.Debug("user created", zap.String("id", user.ID.String()), zap.String("stable_id", user.StableID))
	return nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := r.scanOne(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

// FindByStableID retrieves a user by provider-derived stable id
func (r *UserRepository) FindByStableID(ctx context.Context, stableID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE stable_id = $1`

	user, err := r.scanOne(ctx, query, stableID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by stable id: %w", err)
	}
	return user, nil
}

func (r *UserRepository) scanOne(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	executor := GetExecutor(ctx, r.db)
	user := &models.User{}

	err := executor.QueryRowContext(ctx, query, arg).Scan(
		&user.ID,
		&user.StableID,
		&user.DisplayName,
		&user.ProfilePictureURL,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(err)
	}
	return user, nil
}
