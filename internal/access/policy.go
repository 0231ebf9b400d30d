// Package access decides what a caller may see or do with a capsule.
//
// A capsule is effectively unlocked when its override flag is set or its
// unlock time has passed. The owner may always read and is the only one who
// may write. A recipient may read only once the capsule is effectively
// unlocked. Every other read is denied with models.ErrLockedOrUnauthorized,
// which deliberately does not tell an outsider whether they are invited.
package access

import (
	"strings"
	"time"

	"github.com/atinyakov/timecapsule/internal/models"
)

const placeholderLayout = "2006-01-02T15:04:05.000Z07:00"

// EffectiveUnlocked reports whether c is unlocked at now.
func EffectiveUnlocked(c *models.Capsule, now time.Time) bool {
	return c.IsUnlocked || !now.Before(c.UnlockAt)
}

// IsOwner reports whether who created c.
func IsOwner(c *models.Capsule, who models.Identity) bool {
	return who.ID != "" && c.OwnerID == who.ID
}

// IsRecipient reports whether who's email is on c's recipient list.
// A caller without an email is never a recipient.
func IsRecipient(c *models.Capsule, who models.Identity) bool {
	email := strings.ToLower(strings.TrimSpace(who.Email))
	if email == "" {
		return false
	}
	for _, r := range c.Recipients {
		if strings.ToLower(strings.TrimSpace(r.Email)) == email {
			return true
		}
	}
	return false
}

// CanRead returns nil when who may read the full record of c at now.
// c must have its recipients loaded.
func CanRead(c *models.Capsule, who models.Identity, now time.Time) error {
	if IsOwner(c, who) {
		return nil
	}
	if IsRecipient(c, who) && EffectiveUnlocked(c, now) {
		return nil
	}
	return models.ErrLockedOrUnauthorized
}

// CanWrite returns nil when who may modify c.
func CanWrite(c *models.Capsule, who models.Identity) error {
	if IsOwner(c, who) {
		return nil
	}
	return models.ErrForbidden
}

// LockedPlaceholder is shown instead of the message of a locked capsule.
func LockedPlaceholder(unlockAt time.Time) string {
	return "🔒 Locked until " + unlockAt.UTC().Format(placeholderLayout)
}

// View projects c for a reader at now, masking the message while locked.
func View(c *models.Capsule, now time.Time) models.CapsuleView {
	unlocked := EffectiveUnlocked(c, now)
	v := models.CapsuleView{
		ID:         c.ID,
		Title:      c.Title,
		UnlockAt:   c.UnlockAt,
		IsUnlocked: unlocked,
		OwnerID:    c.OwnerID,
		CreatedAt:  c.CreatedAt,
		Media:      c.Media,
		Recipients: c.Recipients,
	}
	if v.Media == nil {
		v.Media = []models.CapsuleMedia{}
	}
	if v.Recipients == nil {
		v.Recipients = []models.CapsuleRecipient{}
	}

	switch {
	case !unlocked:
		msg := LockedPlaceholder(c.UnlockAt)
		v.Message = &msg
	case c.Content != nil:
		msg := c.Content.Message
		v.Message = &msg
		v.ContentType = c.Content.ContentType
	}
	return v
}
