package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/filevault/internal/observability"
	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/services"
	"github.com/upb/filevault/utils"
	"go.uber.org/zap"
)

const (
	// UploadFieldName is the multipart field carrying the file
	UploadFieldName = "file"

	// multipartOverhead allows for boundaries and part headers on top of the file itself
	multipartOverhead = 64 << 10
)

// FileService is the file operations the handlers need
type FileService interface {
	Store(ctx context.Context, ownerStableID, name, contentType string, data []byte) (*models.File, error)
	ListByOwner(ctx context.Context, ownerStableID string) ([]models.FileInfo, error)
	Get(ctx context.Context, ownerStableID string, id uuid.UUID) (*models.File, error)
	MaxBytes() int64
}

// FileHandler handles file upload, listing and download
type FileHandler struct {
	files  FileService
	logger *zap.Logger
}

// NewFileHandler creates a new FileHandler
func NewFileHandler(files FileService, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		files:  files,
		logger: logger,
	}
}

// HandleList handles GET /api/files
func (h *FileHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	infos, err := h.files.ListByOwner(r.Context(), principal.StableID)
	if err != nil {
		HandleServiceError(w, err, observability.ForRequest(r.Context(), h.logger))
		return
	}

	_ = utils.WriteOK(w, infos)
}

// HandleUpload handles POST /api/files/upload
func (h *FileHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	logger := observability.ForRequest(r.Context(), h.logger)
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	maxBytes := h.files.MaxBytes()
	if r.ContentLength > maxBytes+multipartOverhead {
		HandleServiceError(w, services.ErrFileTooLarge, logger)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	if err := r.ParseMultipartForm(maxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			HandleServiceError(w, services.ErrFileTooLarge, logger)
			return
		}
		HandleValidationError(w, errors.New("request must be multipart/form-data"), logger)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	part, header, err := r.FormFile(UploadFieldName)
	if err != nil {
		HandleValidationError(w, errors.New("missing multipart field \""+UploadFieldName+"\""), logger)
		return
	}
	defer part.Close()

	data, err := io.ReadAll(io.LimitReader(part, maxBytes+1))
	if err != nil {
		logger.Warn("failed to read upload", zap.Error(err))
		HandleValidationError(w, errors.New("failed to read uploaded file"), logger)
		return
	}

	file, err := h.files.Store(r.Context(), principal.StableID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	_ = utils.WriteCreated(w, file.Info())
}

// HandleDownload handles GET /api/files/{id}
func (h *FileHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := observability.ForRequest(r.Context(), h.logger)
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	id, err := utils.ParseUUID(chi.URLParam(r, "id"))
	if err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return
	}

	file, err := h.files.Get(r.Context(), principal.StableID, id)
	if err != nil {
		HandleServiceError(w, err, logger)
		return
	}

	if err := utils.WriteAttachment(w, file.Name, file.ContentType, file.Data); err != nil {
		logger.Warn("download interrupted", zap.String("file_id", id.String()), zap.Error(err))
	}
}
