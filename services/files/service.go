package files

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/upb/filevault/internal/observability"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"github.com/upb/filevault/services"
	"github.com/upb/filevault/utils"
	"go.uber.org/zap"
)

// genericContentType is what browsers send when they do not know better
const genericContentType = "application/octet-stream"

// Service stores and serves files owned by authenticated users
type Service struct {
	files    repositories.FileRepository
	users    repositories.UserRepository
	maxBytes int64
	logger   *zap.Logger
}

// NewService creates a new file Service
func NewService(files repositories.FileRepository, users repositories.UserRepository, maxBytes int64, logger *zap.Logger) *Service {
	return &Service{
		files:    files,
		users:    users,
		maxBytes: maxBytes,
		logger:   logger,
	}
}

// MaxBytes is the upload size limit
func (s *Service) MaxBytes() int64 {
	return s.maxBytes
}

// Store saves data as a new file owned by the user with ownerStableID
func (s *Service) Store(ctx context.Context, ownerStableID, name, contentType string, data []byte) (*models.File, error) {
	if len(data) == 0 {
		return nil, services.ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, services.NewDomainError(services.ErrorTypeTooLarge, "file exceeds upload limit", nil).
			WithDetail("max_bytes", s.maxBytes)
	}

	owner, err := s.owner(ctx, ownerStableID)
	if err != nil {
		return nil, err
	}

	file := models.NewFile(owner.ID, cleanName(name), detectContentType(contentType, data), data)
	if err := utils.ValidateStruct(file); err != nil {
		return nil, services.NewDomainError(services.ErrorTypeValidation, "invalid file metadata", err).
			WithDetail("fields", utils.GetValidationFields(err))
	}

	if err := s.files.Create(ctx, file); err != nil {
		return nil, services.ErrFileStoreUnavailable.Wrap(err)
	}

	observability.RecordUpload(file.Size)
	s.logger.Info("file stored",
		zap.String("file_id", file.ID.String()),
		zap.String("owner", ownerStableID),
		zap.String("content_type", file.ContentType),
		zap.Int64("size", file.Size))

	return file, nil
}

// ListByOwner returns metadata for every file the user owns, newest first
func (s *Service) ListByOwner(ctx context.Context, ownerStableID string) ([]models.FileInfo, error) {
	owner, err := s.owner(ctx, ownerStableID)
	if err != nil {
		return nil, err
	}

	files, err := s.files.ListByOwner(ctx, owner.ID)
	if err != nil {
		return nil, services.ErrFileStoreUnavailable.Wrap(err)
	}

	infos := make([]models.FileInfo, 0, len(files))
	for _, f := range files {
		infos = append(infos, f.Info())
	}
	return infos, nil
}

// Get returns a file with its content. Files owned by someone else are reported as not found.
func (s *Service) Get(ctx context.Context, ownerStableID string, id uuid.UUID) (*models.File, error) {
	owner, err := s.owner(ctx, ownerStableID)
	if err != nil {
		return nil, err
	}

	file, err := s.files.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrFileNotFound
		}
		return nil, services.ErrFileStoreUnavailable.Wrap(err)
	}

	if file.OwnerID != owner.ID {
		s.logger.Warn("file access denied",
			zap.String("file_id", id.String()),
			zap.String("requester", ownerStableID))
		return nil, services.ErrFileNotFound
	}

	return file, nil
}

func (s *Service) owner(ctx context.Context, stableID string) (*models.User, error) {
	user, err := s.users.FindByStableID(ctx, stableID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, services.ErrUserNotFound
		}
		return nil, services.ErrUserStoreUnavailable.Wrap(err)
	}
	return user, nil
}

// cleanName strips any client-supplied directory components
func cleanName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(path.Base(name))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func detectContentType(declared string, data []byte) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != genericContentType {
		return declared
	}
	return mimetype.Detect(data).String()
}
