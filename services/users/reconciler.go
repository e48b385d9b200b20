package users

import (
	"context"
	"errors"

	"github.com/upb/filevault/identity"
	"github.com/upb/filevault/internal/observability"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"github.com/upb/filevault/services"
	"go.uber.org/zap"
)

// Reconciler maps a canonical identity onto a durable user, creating it on first login.
// It is the only writer of users.
type Reconciler struct {
	users  repositories.UserRepository
	txMgr  repositories.TransactionManager
	logger *zap.Logger
}

// NewReconciler creates a new Reconciler
func NewReconciler(users repositories.UserRepository, txMgr repositories.TransactionManager, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		users:  users,
		txMgr:  txMgr,
		logger: logger,
	}
}

// Reconcile returns the user whose stable id matches id, creating it when absent.
// An existing user is returned unchanged: login does not refresh profile fields.
func (r *Reconciler) Reconcile(ctx context.Context, id identity.CanonicalIdentity) (*models.User, error) {
	// No best-effort upsert for an empty identity: a row keyed by "" would be shared by
	// every login whose provider returned no id.
	if id.StableID == "" {
		return nil, services.ErrInvalidIdentity
	}

	created := false
	user, err := services.WithTransactionResult(ctx, r.txMgr, func(ctx context.Context) (*models.User, error) {
		existing, err := r.users.FindByStableID(ctx, id.StableID)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}

		user := models.NewUser(id.StableID, id.DisplayName, id.ProfilePictureURL)
		if err := r.users.Create(ctx, user); err != nil {
			return nil, err
		}
		created = true
		return user, nil
	})

	if errors.Is(err, repositories.ErrDuplicate) {
		// a concurrent first login inserted the row; theirs is authoritative
		r.logger.Debug("user created concurrently, re-reading",
			zap.String("stable_id", id.StableID))
		user, err = r.users.FindByStableID(ctx, id.StableID)
		created = false
	}
	if err != nil {
		r.logger.Error("user reconciliation failed",
			zap.String("stable_id", id.StableID),
			zap.Error(err))
		return nil, services.ErrUserStoreUnavailable.Wrap(err)
	}

	if created {
		observability.RecordUserCreated()
		r.logger.Info("user created on first login",
			zap.String("user_id", user.ID.String()),
			zap.String("stable_id", user.StableID))
	}

	return user, nil
}

// FindByStableID resolves the subject of a session token.
// Returns a not_found DomainError for unknown users and an unavailable one when the store fails.
func (r *Reconciler) FindByStableID(ctx context.Context, stableID string) (*models.User, error) {
	user, err := r.users.FindByStableID(ctx, stableID)
	if err == nil {
		return user, nil
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, services.NewDomainError(services.ErrorTypeNotFound, "user not found", err)
	}
	return nil, services.ErrUserStoreUnavailable.Wrap(err)
}
