package http

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/atinyakov/timecapsule/internal/middleware"
	"github.com/atinyakov/timecapsule/internal/models"
	"github.com/atinyakov/timecapsule/internal/service"
)

// multipartOverhead is allowed on top of the file size for part headers and
// boundaries.
const multipartOverhead = 1 << 20

// CapsuleService defines the capsule operations required by the HTTP handlers.
type CapsuleService interface {
	Create(ctx context.Context, who models.Identity, title string, unlockAt time.Time) (models.CapsuleView, error)
	List(ctx context.Context, who models.Identity) (models.CapsuleList, error)
	Get(ctx context.Context, who models.Identity, id string) (models.CapsuleView, error)
	Update(ctx context.Context, who models.Identity, id string, title *string, unlockAt *time.Time) (models.CapsuleView, error)
	Delete(ctx context.Context, who models.Identity, id string) error
	UpsertContent(ctx context.Context, who models.Identity, id, message, contentType string) (models.CapsuleContent, error)
	AddMedia(ctx context.Context, who models.Identity, id string, up *models.Upload) (models.CapsuleMedia, error)
	AddRecipients(ctx context.Context, who models.Identity, id string, emails []string) ([]models.CapsuleRecipient, error)
	RemoveRecipient(ctx context.Context, who models.Identity, id, recipientID string) error
}

// CapsuleHandler handles the /capsules endpoints. Every route expects an
// identity placed in the context by middleware.Authenticate.
type CapsuleHandler struct {
	CapsuleService CapsuleService
	Log            *zap.Logger
}

// CreateCapsuleRequest is the JSON payload of POST /capsules.
type CreateCapsuleRequest struct {
	Title    string `json:"title" validate:"notblank"`
	UnlockAt string `json:"unlockAt" validate:"required,iso8601"`
}

// UpdateCapsuleRequest is the JSON payload of PATCH /capsules/{id}.
type UpdateCapsuleRequest struct {
	Title    *string `json:"title" validate:"omitnil,notblank"`
	UnlockAt *string `json:"unlockAt" validate:"omitnil,iso8601"`
}

// ContentRequest is the JSON payload of POST /capsules/{id}/content.
type ContentRequest struct {
	Message     string `json:"message" validate:"notblank"`
	ContentType string `json:"contentType"`
}

// RecipientInput is one invited address.
type RecipientInput struct {
	Email string `json:"email" validate:"required,email"`
}

// RecipientsRequest is the JSON payload of POST /capsules/{id}/recipients.
type RecipientsRequest struct {
	Recipients []RecipientInput `json:"recipients" validate:"required,min=1,dive"`
}

func (h *CapsuleHandler) identity(w http.ResponseWriter, r *http.Request) (models.Identity, bool) {
	who, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return who, ok
}

// Create stores a new capsule owned by the caller.
func (h *CapsuleHandler) Create(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req CreateCapsuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	unlockAt, _ := parseISO8601(req.UnlockAt)

	c, err := h.CapsuleService.Create(r.Context(), who, req.Title, unlockAt)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error creating capsule")
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// List responds with the caller's capsules.
func (h *CapsuleHandler) List(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	list, err := h.CapsuleService.List(r.Context(), who)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error listing capsules")
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// Get responds with one capsule the caller may read.
func (h *CapsuleHandler) Get(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	c, err := h.CapsuleService.Get(r.Context(), who, chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error fetching capsule")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Update changes the title and/or unlock time of the caller's capsule.
func (h *CapsuleHandler) Update(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req UpdateCapsuleRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	var unlockAt *time.Time
	if req.UnlockAt != nil {
		t, _ := parseISO8601(*req.UnlockAt)
		unlockAt = &t
	}

	c, err := h.CapsuleService.Update(r.Context(), who, chi.URLParam(r, "id"), req.Title, unlockAt)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error updating capsule")
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Delete removes the caller's capsule and everything attached to it.
func (h *CapsuleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	if err := h.CapsuleService.Delete(r.Context(), who, chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error deleting capsule")
		return
	}
	respondMessage(w, "Capsule deleted")
}

// UpsertContent creates or replaces the capsule message.
func (h *CapsuleHandler) UpsertContent(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req ContentRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	content, err := h.CapsuleService.UpsertContent(r.Context(), who, chi.URLParam(r, "id"), req.Message, req.ContentType)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error upserting capsule content")
		return
	}
	respondJSON(w, http.StatusCreated, content)
}

// AddMedia accepts a multipart upload in the "file" field.
func (h *CapsuleHandler) AddMedia(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, service.MaxUploadSize+multipartOverhead)
	// A body that is not multipart is treated like a form without the file.
	err := r.ParseMultipartForm(multipartOverhead)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondError(w, http.StatusBadRequest, "File too large")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	var up *models.Upload
	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		up = newUpload(file, header)
	}

	media, err := h.CapsuleService.AddMedia(r.Context(), who, chi.URLParam(r, "id"), up)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error saving media")
		return
	}
	respondJSON(w, http.StatusCreated, media)
}

func newUpload(file multipart.File, header *multipart.FileHeader) *models.Upload {
	return &models.Upload{
		Filename:     header.Filename,
		DeclaredType: header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
	}
}

// AddRecipients invites email addresses to the capsule.
func (h *CapsuleHandler) AddRecipients(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	var req RecipientsRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	emails := make([]string, 0, len(req.Recipients))
	for _, rc := range req.Recipients {
		emails = append(emails, rc.Email)
	}

	recipients, err := h.CapsuleService.AddRecipients(r.Context(), who, chi.URLParam(r, "id"), emails)
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error adding recipients")
		return
	}
	respondJSON(w, http.StatusCreated, recipients)
}

// RemoveRecipient deletes one recipient of the capsule.
func (h *CapsuleHandler) RemoveRecipient(w http.ResponseWriter, r *http.Request) {
	who, ok := h.identity(w, r)
	if !ok {
		return
	}
	err := h.CapsuleService.RemoveRecipient(r.Context(), who, chi.URLParam(r, "id"), chi.URLParam(r, "recipientId"))
	if err != nil {
		respondServiceError(w, h.Log, err, "Capsule", "Error deleting recipient")
		return
	}
	respondMessage(w, "Recipient deleted")
}
