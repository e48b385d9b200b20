package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"go.uber.org/zap"
)

// FileRepository implements the repositories.FileRepository interface
type FileRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewFileRepository creates a new file repository
func NewFileRepository(db *DB, logger *zap.Logger) repositories.FileRepository {
	return &FileRepository{
		db:     db,
		logger: logger,
	}
}

// Create stores a new file
func (r *FileRepository) Create(ctx context.Context, file *models.File) error {
	query := `
		INSERT INTO files (id, owner_id, name, content_type, size, data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	executor := GetExecutor(ctx, r.db)
	_, err := executor.ExecContext(ctx, query,
		file.ID,
		file.OwnerID,
		file.Name,
		file.ContentType,
		file.Size,
		file.Data,
		file.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", translateError(err))
	}

	r.logger.Debug("file stored",
		zap.String("id", file.ID.String()),
		zap.String("owner_id", file.OwnerID.String()),
		zap.Int64("size", file.Size))
	return nil
}

// GetByID retrieves a file including its content
func (r *FileRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.File, error) {
	query := `
		SELECT id, owner_id, name, content_type, size, data, created_at
		FROM files
		WHERE id = $1
	`

	executor := GetExecutor(ctx, r.db)
	file := &models.File{}

	err := executor.QueryRowContext(ctx, query, id).Scan(
		&file.ID,
		&file.OwnerID,
		&file.Name,
		&file.ContentType,
		&file.Size,
		&file.Data,
		&file.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get file %s: %w", id, translateError(err))
	}

	return file, nil
}

// ListByOwner retrieves file metadata for a user, newest first
func (r *FileRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.File, error) {
	query := `
		SELECT id, owner_id, name, content_type, size, created_at
		FROM files
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`

	executor := GetExecutor(ctx, r.db)
	rows, err := executor.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer rows.Close()

	files := make([]*models.File, 0)
	for rows.Next() {
		file := &models.File{}
		if err := rows.Scan(
			&file.ID,
			&file.OwnerID,
			&file.Name,
			&file.ContentType,
			&file.Size,
			&file.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, file)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating file rows: %w", err)
	}

	return files, nil
}
