// Package models defines the core data structures for users, capsules and
// everything attached to a capsule.
package models

import (
	"io"
	"time"
)

// DefaultContentType is stored when a capsule message is saved without an
// explicit content type.
const DefaultContentType = "text/markdown"

// User represents an application user with credentials.
type User struct {
	// ID is the unique identifier for the user.
	ID string `json:"id"`
	// Email is the unique login address of the user.
	Email string `json:"email"`
	// PasswordHash is the bcrypt hash of the user's password.
	PasswordHash string `json:"-"`
	// CreatedAt is when the user signed up.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the profile or password last changed.
	UpdatedAt time.Time `json:"updatedAt"`
}

// Capsule is a titled container that becomes readable after UnlockAt.
type Capsule struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// UnlockAt is the scheduled unlock time.
	UnlockAt time.Time `json:"unlockAt"`
	// IsUnlocked is the stored manual override. It is not the effective
	// state; see access.EffectiveUnlocked.
	IsUnlocked bool `json:"isUnlocked"`
	// OwnerID references the creating user and never changes.
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`

	// Relations, populated only by detail and list queries.
	Content    *CapsuleContent    `json:"-"`
	Media      []CapsuleMedia     `json:"-"`
	Recipients []CapsuleRecipient `json:"-"`
}

// CapsuleContent is the single message of a capsule.
type CapsuleContent struct {
	ID          string    `json:"id"`
	CapsuleID   string    `json:"capsuleId"`
	Message     string    `json:"message"`
	ContentType string    `json:"contentType"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CapsuleMedia points at an uploaded file attached to a capsule.
type CapsuleMedia struct {
	ID        string    `json:"id"`
	CapsuleID string    `json:"capsuleId"`
	FileURL   string    `json:"fileUrl"`
	FileType  string    `json:"fileType"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// CapsuleRecipient grants an email address read access to an unlocked capsule.
type CapsuleRecipient struct {
	ID        string    `json:"id"`
	CapsuleID string    `json:"capsuleId"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Identity is the acting caller of a request.
type Identity struct {
	// ID is the caller's user id. Never empty for an authenticated request.
	ID string
	// Email is optional; recipient matching needs it.
	Email string
}

// CapsulePatch carries the optional fields of a capsule update.
type CapsulePatch struct {
	Title    *string
	UnlockAt *time.Time
}

// Empty reports whether the patch changes nothing.
func (p CapsulePatch) Empty() bool {
	return p.Title == nil && p.UnlockAt == nil
}

// UserPatch carries the optional fields of a user update. PasswordHash must
// already be hashed.
type UserPatch struct {
	Email        *string
	PasswordHash *string
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Email == nil && p.PasswordHash == nil
}

// Upload is a single file received from a client.
type Upload struct {
	// Filename is the client-supplied original name.
	Filename string
	// DeclaredType is the Content-Type the client sent for the part.
	DeclaredType string
	// Size is the declared size in bytes.
	Size int64
	// Body streams the file contents.
	Body io.Reader
}
