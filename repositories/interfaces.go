package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/upb/filevault/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate is returned when an insert violates a unique constraint
	ErrDuplicate = errors.New("record already exists")
)

// TransactionManager manages database transactions
type TransactionManager interface {
	// Begin starts a new transaction
	Begin(ctx context.Context) (Transaction, error)

	// InTransaction executes a function within a transaction
	// Automatically commits if function succeeds, rolls back on error
	InTransaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error
}

// Transaction represents a database transaction
type Transaction interface {
	// Commit commits the transaction
	Commit() error

	// Rollback rolls back the transaction
	Rollback() error

	// Context returns the transaction context
	Context() context.Context
}

// UserRepository handles user data operations
type UserRepository interface {
	// Create creates a new user. Returns ErrDuplicate when the stable id is taken.
	Create(ctx context.Context, user *models.User) error

	// GetByID retrieves a user by ID
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// FindByStableID retrieves a user by provider-derived stable id.
	// Returns ErrNotFound when no user matches; any other error means the store is unavailable.
	FindByStableID(ctx context.Context, stableID string) (*models.User, error)
}

// FileRepository handles file data operations
type FileRepository interface {
	// Create stores a new file
	Create(ctx context.Context, file *models.File) error

	// GetByID retrieves a file including its content
	GetByID(ctx context.Context, id uuid.UUID) (*models.File, error)

	// ListByOwner retrieves file metadata for a user, newest first. Data is not loaded.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.File, error)
}

// Repositories aggregates all repository interfaces
type Repositories struct {
	Users UserRepository
	Files FileRepository
}
