package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRecipientNotFound is the ErrNotFound returned for a missing recipient.
	ErrRecipientNotFound = fmt.Errorf("recipient %w", ErrNotFound)
	// ErrDuplicateEmail is returned when a user email is already taken.
	ErrDuplicateEmail = errors.New("email already in use")
	// ErrUnknownUser is returned when a record references a user that does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrLockedOrUnauthorized denies a capsule read without saying why.
	ErrLockedOrUnauthorized = errors.New("locked or unauthorized")
	// ErrForbidden denies a capsule write to anyone but the owner.
	ErrForbidden = errors.New("forbidden")
	// ErrNoFields is returned by partial updates that change nothing.
	ErrNoFields = errors.New("no fields to update")
	// ErrNoFile is returned when a media upload carries no file.
	ErrNoFile = errors.New("no file uploaded")
	// ErrFileTooLarge is returned when an upload exceeds the size limit.
	ErrFileTooLarge = errors.New("file too large")
	// ErrUnsupportedMedia is returned for uploads that are not image, audio or video.
	ErrUnsupportedMedia = errors.New("only images/audio/video allowed")
)
