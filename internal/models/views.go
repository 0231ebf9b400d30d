package models

import "time"

// UserView is the client-facing projection of a User. It has no field for
// the password hash, so no route can leak it.
type UserView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewUserView projects u for a response.
func NewUserView(u User) UserView {
	return UserView{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// NewUserViews projects every user in users.
func NewUserViews(users []User) []UserView {
	views := make([]UserView, 0, len(users))
	for _, u := range users {
		views = append(views, NewUserView(u))
	}
	return views
}

// CapsuleView is the client-facing projection of a Capsule. IsUnlocked holds
// the effective state and Message is either the real message or the locked
// placeholder.
type CapsuleView struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	UnlockAt    time.Time          `json:"unlockAt"`
	IsUnlocked  bool               `json:"isUnlocked"`
	OwnerID     string             `json:"ownerId"`
	CreatedAt   time.Time          `json:"createdAt"`
	Message     *string            `json:"message"`
	ContentType string             `json:"contentType,omitempty"`
	Media       []CapsuleMedia     `json:"media"`
	Recipients  []CapsuleRecipient `json:"recipients"`
}

// CapsuleList is the response of the capsule listing.
type CapsuleList struct {
	Items []CapsuleView `json:"items"`
	Total int           `json:"total"`
}
