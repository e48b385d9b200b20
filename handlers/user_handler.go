package handlers

import (
	"net/http"

	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/utils"
	"go.uber.org/zap"
)

// CurrentUserResponse is the response body for GET /api/users/me
type CurrentUserResponse struct {
	DisplayName    string `json:"displayName"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture"`
}

// UserHandler serves the authenticated user's profile
type UserHandler struct {
	logger *zap.Logger
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(logger *zap.Logger) *UserHandler {
	return &UserHandler{logger: logger}
}

// HandleCurrentUser returns the principal attached by the authenticator
func (h *UserHandler) HandleCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := utils.WriteOK(w, CurrentUserResponse{
		DisplayName:    principal.DisplayName,
		Email:          principal.StableID,
		ProfilePicture: principal.ProfilePictureURL,
	}); err != nil {
		h.logger.Error("failed to write current user response", zap.Error(err))
	}
}
