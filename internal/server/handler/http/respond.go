// Package http exposes the time capsule API over HTTP.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/timecapsule/internal/models"
)

// FieldError is one entry of a 400 validation response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("iso8601", func(fl validator.FieldLevel) bool {
		_, err := parseISO8601(fl.Field().String())
		return err == nil
	})
	return v
}

// isoLayouts are tried in order; layouts without a zone are read as UTC.
var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseISO8601 accepts RFC 3339 timestamps, extended or basic zone offsets
// with or without seconds, dates, and local date-times without a zone.
func parseISO8601(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not an ISO-8601 date: %q", s)
}

// decodeAndValidate reads a JSON body into dst and validates it. On failure
// it writes the 400 response and returns false.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			respondError(w, http.StatusBadRequest, err.Error())
			return false
		}
		out := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, FieldError{Field: fieldPath(fe), Message: fieldMessage(fe)})
		}
		respondJSON(w, http.StatusBadRequest, map[string][]FieldError{"errors": out})
		return false
	}
	return true
}

// fieldPath drops the request struct name: "recipients[0].email".
func fieldPath(fe validator.FieldError) string {
	_, path, ok := strings.Cut(fe.Namespace(), ".")
	if !ok {
		return fe.Field()
	}
	return path
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "notblank":
		return fe.Field() + " must not be empty"
	case "email":
		return "Valid email is required"
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at most %s item(s)", fe.Field(), fe.Param())
		}
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "iso8601":
		return fe.Field() + " must be a valid ISO date"
	default:
		return fe.Field() + " is invalid"
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondMessage(w http.ResponseWriter, msg string) {
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// respondServiceError maps domain errors to their HTTP status. entity names
// the addressed record in 404 bodies; anything unrecognised is logged and
// reported as a 500 with failure as the message.
func respondServiceError(w http.ResponseWriter, log *zap.Logger, err error, entity, failure string) {
	switch {
	case errors.Is(err, models.ErrRecipientNotFound):
		respondError(w, http.StatusNotFound, "Recipient not found")
	case errors.Is(err, models.ErrNotFound):
		respondError(w, http.StatusNotFound, entity+" not found")
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		respondError(w, http.StatusBadRequest, "Password must be at most 72 bytes")
	case errors.Is(err, models.ErrDuplicateEmail):
		respondError(w, http.StatusConflict, "Email already in use")
	case errors.Is(err, models.ErrUnknownUser):
		respondError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, models.ErrLockedOrUnauthorized):
		respondError(w, http.StatusForbidden, "Locked or unauthorized")
	case errors.Is(err, models.ErrForbidden):
		respondError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, models.ErrNoFields):
		respondError(w, http.StatusBadRequest, "No fields to update")
	case errors.Is(err, models.ErrNoFile):
		respondError(w, http.StatusBadRequest, "No file uploaded")
	case errors.Is(err, models.ErrFileTooLarge):
		respondError(w, http.StatusBadRequest, "File too large")
	case errors.Is(err, models.ErrUnsupportedMedia):
		respondError(w, http.StatusBadRequest, "Only images/audio/video allowed")
	default:
		log.Error(failure, zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error":   failure,
			"details": err.Error(),
		})
	}
}
