package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/timecapsule/internal/models"
)

// UserService defines the user operations required by the HTTP handlers.
type UserService interface {
	List(ctx context.Context) ([]models.UserView, error)
	Create(ctx context.Context, email, password string) (models.UserView, error)
	Get(ctx context.Context, id string) (models.UserView, error)
	// Update changes the non-nil fields and returns models.ErrNoFields when
	// both are nil.
	Update(ctx context.Context, id string, email, password *string) (models.UserView, error)
	Delete(ctx context.Context, id string) error
}

// UserHandler handles the /users endpoints.
type UserHandler struct {
	// UserService performs the underlying user operations.
	UserService UserService
	// Log receives 500 errors.
	Log *zap.Logger
}

// CreateUserRequest is the JSON payload of POST /users. PasswordHash carries
// the plain password; it is hashed before storage.
type CreateUserRequest struct {
	Email        string `json:"email" validate:"required,email"`
	PasswordHash string `json:"passwordHash" validate:"required,min=8,max=72"`
}

// UpdateUserRequest is the JSON payload of PATCH /users/{id}.
type UpdateUserRequest struct {
	Email        *string `json:"email" validate:"omitnil,email"`
	PasswordHash *string `json:"passwordHash" validate:"omitnil,min=8,max=72"`
}

// List responds with all users.
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.UserService.List(r.Context())
	if err != nil {
		respondServiceError(w, h.Log, err, "User", "Error fetching users")
		return
	}
	respondJSON(w, http.StatusOK, users)
}

// Create registers a new user.
func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.UserService.Create(r.Context(), req.Email, req.PasswordHash)
	if err != nil {
		respondServiceError(w, h.Log, err, "User", "Error creating user")
		return
	}
	respondJSON(w, http.StatusCreated, user)
}

// Get responds with one user.
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	user, err := h.UserService.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.Log, err, "User", "Error fetching user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Update changes a user's email and/or password.
func (h *UserHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.UserService.Update(r.Context(), chi.URLParam(r, "id"), req.Email, req.PasswordHash)
	if err != nil {
		respondServiceError(w, h.Log, err, "User", "Error updating user")
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// Delete removes a user together with the capsules they own.
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.UserService.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, h.Log, err, "User", "Error deleting user")
		return
	}
	respondMessage(w, "User deleted successfully")
}
