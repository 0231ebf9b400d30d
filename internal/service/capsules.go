package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/atinyakov/timecapsule/internal/access"
	"github.com/atinyakov/timecapsule/internal/models"
	"github.com/atinyakov/timecapsule/internal/storage"
)

// MaxUploadSize is the largest media file accepted, in bytes.
const MaxUploadSize = 5 << 20

// sniffLen is how much of an upload is read to detect its type.
const sniffLen = 3072

var allowedMediaPrefixes = []string{"image/", "audio/", "video/"}

// CapsuleRepository defines the persistence operations needed by the CapsuleService.
type CapsuleRepository interface {
	// CreateCapsule returns models.ErrUnknownUser when the owner does not exist.
	CreateCapsule(ctx context.Context, c models.Capsule) (models.Capsule, error)
	// GetCapsule returns the capsule row without relations, or models.ErrNotFound.
	GetCapsule(ctx context.Context, id string) (*models.Capsule, error)
	// GetCapsuleDetails returns the capsule with content, media and recipients.
	GetCapsuleDetails(ctx context.Context, id string) (*models.Capsule, error)
	ListCapsulesByOwner(ctx context.Context, ownerID string) ([]*models.Capsule, error)
	UpdateCapsule(ctx context.Context, id string, patch models.CapsulePatch) (*models.Capsule, error)
	// DeleteCapsule removes the capsule and all its dependents atomically.
	DeleteCapsule(ctx context.Context, id string) error
	UpsertContent(ctx context.Context, cc models.CapsuleContent) (models.CapsuleContent, error)
	CreateMedia(ctx context.Context, m models.CapsuleMedia) (models.CapsuleMedia, error)
	UpsertRecipients(ctx context.Context, recipients []models.CapsuleRecipient) ([]models.CapsuleRecipient, error)
	DeleteRecipient(ctx context.Context, capsuleID, recipientID string) error
}

// CapsuleService implements capsule use cases and applies the access policy.
type CapsuleService struct {
	repo  CapsuleRepository
	files storage.Store
	now   func() time.Time
}

// CapsuleOption customises a CapsuleService.
type CapsuleOption func(*CapsuleService)

// WithClock replaces the wall clock used for unlock decisions and timestamps.
func WithClock(now func() time.Time) CapsuleOption {
	return func(s *CapsuleService) { s.now = now }
}

// NewCapsuleService constructs a CapsuleService storing uploads in files.
func NewCapsuleService(repo CapsuleRepository, files storage.Store, opts ...CapsuleOption) *CapsuleService {
	s := &CapsuleService{repo: repo, files: files, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a new locked capsule owned by who.
func (s *CapsuleService) Create(ctx context.Context, who models.Identity, title string, unlockAt time.Time) (models.CapsuleView, error) {
	now := s.now()
	c, err := s.repo.CreateCapsule(ctx, models.Capsule{
		ID:         uuid.NewString(),
		Title:      strings.TrimSpace(title),
		UnlockAt:   unlockAt.UTC(),
		IsUnlocked: false,
		OwnerID:    who.ID,
		CreatedAt:  now.UTC(),
	})
	if err != nil {
		return models.CapsuleView{}, err
	}
	return access.View(&c, now), nil
}

// List returns who's own capsules, newest first, with messages masked while locked.
func (s *CapsuleService) List(ctx context.Context, who models.Identity) (models.CapsuleList, error) {
	capsules, err := s.repo.ListCapsulesByOwner(ctx, who.ID)
	if err != nil {
		return models.CapsuleList{}, err
	}
	now := s.now()
	items := make([]models.CapsuleView, 0, len(capsules))
	for _, c := range capsules {
		items = append(items, access.View(c, now))
	}
	return models.CapsuleList{Items: items, Total: len(items)}, nil
}

// Get returns a capsule if who may read it.
func (s *CapsuleService) Get(ctx context.Context, who models.Identity, id string) (models.CapsuleView, error) {
	c, err := s.repo.GetCapsuleDetails(ctx, id)
	if err != nil {
		return models.CapsuleView{}, err
	}
	now := s.now()
	if err := access.CanRead(c, who, now); err != nil {
		return models.CapsuleView{}, err
	}
	return access.View(c, now), nil
}

// Update changes the title and/or unlock time of who's capsule.
func (s *CapsuleService) Update(ctx context.Context, who models.Identity, id string, title *string, unlockAt *time.Time) (models.CapsuleView, error) {
	if _, err := s.owned(ctx, who, id); err != nil {
		return models.CapsuleView{}, err
	}

	var patch models.CapsulePatch
	if title != nil {
		t := strings.TrimSpace(*title)
		patch.Title = &t
	}
	if unlockAt != nil {
		u := unlockAt.UTC()
		patch.UnlockAt = &u
	}
	if patch.Empty() {
		return models.CapsuleView{}, models.ErrNoFields
	}

	c, err := s.repo.UpdateCapsule(ctx, id, patch)
	if err != nil {
		return models.CapsuleView{}, err
	}
	return access.View(c, s.now()), nil
}

// Delete removes who's capsule with its content, media and recipients.
func (s *CapsuleService) Delete(ctx context.Context, who models.Identity, id string) error {
	if _, err := s.owned(ctx, who, id); err != nil {
		return err
	}
	return s.repo.DeleteCapsule(ctx, id)
}

// UpsertContent creates or replaces the message of who's capsule.
func (s *CapsuleService) UpsertContent(ctx context.Context, who models.Identity, id, message, contentType string) (models.CapsuleContent, error) {
	if _, err := s.owned(ctx, who, id); err != nil {
		return models.CapsuleContent{}, err
	}
	contentType = strings.TrimSpace(contentType)
	if contentType == "" {
		contentType = models.DefaultContentType
	}
	return s.repo.UpsertContent(ctx, models.CapsuleContent{
		ID:          uuid.NewString(),
		CapsuleID:   id,
		Message:     message,
		ContentType: contentType,
		UpdatedAt:   s.now().UTC(),
	})
}

// AddMedia stores an uploaded image, audio or video file and attaches it to
// who's capsule. up may be nil when the request carried no file.
func (s *CapsuleService) AddMedia(ctx context.Context, who models.Identity, id string, up *models.Upload) (models.CapsuleMedia, error) {
	if _, err := s.owned(ctx, who, id); err != nil {
		return models.CapsuleMedia{}, err
	}
	if up == nil || up.Body == nil {
		return models.CapsuleMedia{}, models.ErrNoFile
	}
	if up.Size > MaxUploadSize {
		return models.CapsuleMedia{}, models.ErrFileTooLarge
	}

	fileType, body, err := sniff(up)
	if err != nil {
		return models.CapsuleMedia{}, err
	}
	if !allowedMedia(fileType) {
		return models.CapsuleMedia{}, models.ErrUnsupportedMedia
	}

	now := s.now()
	counted := &countingReader{r: io.LimitReader(body, MaxUploadSize+1)}
	url, err := s.files.Save(ctx, storage.SanitizeName(up.Filename, now), counted)
	if err != nil {
		return models.CapsuleMedia{}, err
	}
	if counted.n > MaxUploadSize {
		return models.CapsuleMedia{}, errors.Join(models.ErrFileTooLarge, s.files.Remove(ctx, url))
	}

	media, err := s.repo.CreateMedia(ctx, models.CapsuleMedia{
		ID:        uuid.NewString(),
		CapsuleID: id,
		FileURL:   url,
		FileType:  fileType,
		Size:      counted.n,
		CreatedAt: now.UTC(),
	})
	if err != nil {
		return models.CapsuleMedia{}, errors.Join(err, s.files.Remove(ctx, url))
	}
	return media, nil
}

// AddRecipients invites emails to who's capsule. Emails are normalised to
// lower case; adding an address twice keeps a single recipient.
func (s *CapsuleService) AddRecipients(ctx context.Context, who models.Identity, id string, emails []string) ([]models.CapsuleRecipient, error) {
	if _, err := s.owned(ctx, who, id); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	seen := make(map[string]bool, len(emails))
	recipients := make([]models.CapsuleRecipient, 0, len(emails))
	for _, e := range emails {
		email := strings.ToLower(strings.TrimSpace(e))
		if email == "" || seen[email] {
			continue
		}
		seen[email] = true
		recipients = append(recipients, models.CapsuleRecipient{
			ID:        uuid.NewString(),
			CapsuleID: id,
			Email:     email,
			CreatedAt: now,
		})
	}
	if len(recipients) == 0 {
		return []models.CapsuleRecipient{}, nil
	}
	return s.repo.UpsertRecipients(ctx, recipients)
}

// RemoveRecipient deletes one recipient of who's capsule.
func (s *CapsuleService) RemoveRecipient(ctx context.Context, who models.Identity, id, recipientID string) error {
	if _, err := s.owned(ctx, who, id); err != nil {
		return err
	}
	return s.repo.DeleteRecipient(ctx, id, recipientID)
}

// owned loads the capsule and checks that who may modify it.
func (s *CapsuleService) owned(ctx context.Context, who models.Identity, id string) (*models.Capsule, error) {
	c, err := s.repo.GetCapsule(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := access.CanWrite(c, who); err != nil {
		return nil, err
	}
	return c, nil
}

// sniff detects the media type of up from its first bytes, falling back to
// the declared type when the content is not recognised. The returned reader
// yields the whole body again.
func sniff(up *models.Upload) (string, io.Reader, error) {
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(up.Body, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return "", nil, err
	}
	head = head[:n]

	detected := mimetype.Detect(head)
	fileType := detected.String()
	if detected.Is("application/octet-stream") && up.DeclaredType != "" {
		fileType = up.DeclaredType
	}
	if i := strings.IndexByte(fileType, ';'); i >= 0 {
		fileType = fileType[:i]
	}
	return strings.ToLower(strings.TrimSpace(fileType)), io.MultiReader(bytes.NewReader(head), up.Body), nil
}

func allowedMedia(fileType string) bool {
	for _, p := range allowedMediaPrefixes {
		if strings.HasPrefix(fileType, p) {
			return true
		}
	}
	return false
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
