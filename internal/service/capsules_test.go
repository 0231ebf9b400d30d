package service_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atinyakov/timecapsule/internal/models"
	"github.com/atinyakov/timecapsule/internal/service"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

var (
	owner     = models.Identity{ID: "owner", Email: "owner@example.com"}
	recipient = models.Identity{ID: "friend", Email: "friend@example.com"}
	stranger  = models.Identity{ID: "stranger", Email: "stranger@example.com"}
)

type mockCapsuleRepo struct {
	CreateCapsuleFunc       func(ctx context.Context, c models.Capsule) (models.Capsule, error)
	GetCapsuleFunc          func(ctx context.Context, id string) (*models.Capsule, error)
	GetCapsuleDetailsFunc   func(ctx context.Context, id string) (*models.Capsule, error)
	ListCapsulesByOwnerFunc func(ctx context.Context, ownerID string) ([]*models.Capsule, error)
	UpdateCapsuleFunc       func(ctx context.Context, id string, patch models.CapsulePatch) (*models.Capsule, error)
	DeleteCapsuleFunc       func(ctx context.Context, id string) error
	UpsertContentFunc       func(ctx context.Context, cc models.CapsuleContent) (models.CapsuleContent, error)
	CreateMediaFunc         func(ctx context.Context, m models.CapsuleMedia) (models.CapsuleMedia, error)
	UpsertRecipientsFunc    func(ctx context.Context, rs []models.CapsuleRecipient) ([]models.CapsuleRecipient, error)
	DeleteRecipientFunc     func(ctx context.Context, capsuleID, recipientID string) error
}

func (m *mockCapsuleRepo) CreateCapsule(ctx context.Context, c models.Capsule) (models.Capsule, error) {
	return m.CreateCapsuleFunc(ctx, c)
}
func (m *mockCapsuleRepo) GetCapsule(ctx context.Context, id string) (*models.Capsule, error) {
	return m.GetCapsuleFunc(ctx, id)
}
func (m *mockCapsuleRepo) GetCapsuleDetails(ctx context.Context, id string) (*models.Capsule, error) {
	return m.GetCapsuleDetailsFunc(ctx, id)
}
func (m *mockCapsuleRepo) ListCapsulesByOwner(ctx context.Context, ownerID string) ([]*models.Capsule, error) {
	return m.ListCapsulesByOwnerFunc(ctx, ownerID)
}
func (m *mockCapsuleRepo) UpdateCapsule(ctx context.Context, id string, patch models.CapsulePatch) (*models.Capsule, error) {
	return m.UpdateCapsuleFunc(ctx, id, patch)
}
func (m *mockCapsuleRepo) DeleteCapsule(ctx context.Context, id string) error {
	return m.DeleteCapsuleFunc(ctx, id)
}
func (m *mockCapsuleRepo) UpsertContent(ctx context.Context, cc models.CapsuleContent) (models.CapsuleContent, error) {
	return m.UpsertContentFunc(ctx, cc)
}
func (m *mockCapsuleRepo) CreateMedia(ctx context.Context, md models.CapsuleMedia) (models.CapsuleMedia, error) {
	return m.CreateMediaFunc(ctx, md)
}
func (m *mockCapsuleRepo) UpsertRecipients(ctx context.Context, rs []models.CapsuleRecipient) ([]models.CapsuleRecipient, error) {
	return m.UpsertRecipientsFunc(ctx, rs)
}
func (m *mockCapsuleRepo) DeleteRecipient(ctx context.Context, capsuleID, recipientID string) error {
	return m.DeleteRecipientFunc(ctx, capsuleID, recipientID)
}

// memStore keeps saved files in memory.
type memStore struct {
	files   map[string][]byte
	removed []string
	saveErr error
}

func newMemStore() *memStore { return &memStore{files: map[string][]byte{}} }

func (s *memStore) Save(_ context.Context, name string, body io.Reader) (string, error) {
	if s.saveErr != nil {
		return "", s.saveErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	url := "/uploads/" + name
	s.files[url] = b
	return url, nil
}

func (s *memStore) Remove(_ context.Context, url string) error {
	delete(s.files, url)
	s.removed = append(s.removed, url)
	return nil
}

func lockedCapsule() *models.Capsule {
	return &models.Capsule{
		ID:        "cap-1",
		Title:     "to future me",
		UnlockAt:  fixedNow.AddDate(1, 0, 0),
		OwnerID:   owner.ID,
		CreatedAt: fixedNow.Add(-time.Hour),
		Content:   &models.CapsuleContent{Message: "secret", ContentType: models.DefaultContentType},
		Recipients: []models.CapsuleRecipient{
			{ID: "r1", CapsuleID: "cap-1", Email: recipient.Email},
		},
	}
}

func ownedRepo() *mockCapsuleRepo {
	return &mockCapsuleRepo{
		GetCapsuleFunc: func(_ context.Context, id string) (*models.Capsule, error) {
			if id != "cap-1" {
				return nil, models.ErrNotFound
			}
			c := lockedCapsule()
			c.Content, c.Recipients = nil, nil
			return c, nil
		},
	}
}

func TestCapsuleService_Create(t *testing.T) {
	var stored models.Capsule
	repo := &mockCapsuleRepo{
		CreateCapsuleFunc: func(_ context.Context, c models.Capsule) (models.Capsule, error) {
			stored = c
			return c, nil
		},
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

	unlockAt := time.Date(2030, 1, 1, 3, 0, 0, 0, time.FixedZone("UTC+3", 3*60*60))
	v, err := svc.Create(context.Background(), owner, "  hello  ", unlockAt)
	require.NoError(t, err)

	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "hello", stored.Title)
	assert.Equal(t, owner.ID, stored.OwnerID)
	assert.False(t, stored.IsUnlocked)
	assert.Equal(t, time.UTC, stored.UnlockAt.Location())
	assert.True(t, stored.UnlockAt.Equal(unlockAt))

	assert.False(t, v.IsUnlocked)
	require.NotNil(t, v.Message)
	assert.True(t, strings.HasPrefix(*v.Message, "🔒 Locked until 2030-01-01T00:00:00.000Z"))
}

func TestCapsuleService_CreateUnknownOwner(t *testing.T) {
	repo := &mockCapsuleRepo{
		CreateCapsuleFunc: func(context.Context, models.Capsule) (models.Capsule, error) {
			return models.Capsule{}, models.ErrUnknownUser
		},
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))
	_, err := svc.Create(context.Background(), models.Identity{ID: "ghost"}, "t", fixedNow)
	assert.ErrorIs(t, err, models.ErrUnknownUser)
}

func TestCapsuleService_ListMasksLocked(t *testing.T) {
	unlocked := lockedCapsule()
	unlocked.ID = "cap-2"
	unlocked.UnlockAt = fixedNow.Add(-time.Minute)

	var gotOwner string
	repo := &mockCapsuleRepo{
		ListCapsulesByOwnerFunc: func(_ context.Context, ownerID string) ([]*models.Capsule, error) {
			gotOwner = ownerID
			return []*models.Capsule{unlocked, lockedCapsule()}, nil
		},
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

	list, err := svc.List(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, gotOwner)
	require.Equal(t, 2, list.Total)
	require.Len(t, list.Items, 2)

	assert.True(t, list.Items[0].IsUnlocked)
	assert.Equal(t, "secret", *list.Items[0].Message)
	assert.False(t, list.Items[1].IsUnlocked)
	assert.NotEqual(t, "secret", *list.Items[1].Message)
}

func TestCapsuleService_ListEmpty(t *testing.T) {
	repo := &mockCapsuleRepo{
		ListCapsulesByOwnerFunc: func(context.Context, string) ([]*models.Capsule, error) { return nil, nil },
	}
	list, err := service.NewCapsuleService(repo, newMemStore()).List(context.Background(), owner)
	require.NoError(t, err)
	assert.NotNil(t, list.Items)
	assert.Zero(t, list.Total)
}

func TestCapsuleService_Get(t *testing.T) {
	forced := lockedCapsule()
	forced.IsUnlocked = true

	tests := []struct {
		name        string
		capsule     *models.Capsule
		who         models.Identity
		wantErr     error
		wantMessage string
	}{
		{"owner sees placeholder while locked", lockedCapsule(), owner, nil, "🔒 Locked until 2027-03-14T12:00:00.000Z"},
		{"recipient denied while locked", lockedCapsule(), recipient, models.ErrLockedOrUnauthorized, ""},
		{"recipient reads after override", forced, recipient, nil, "secret"},
		{"stranger denied", forced, stranger, models.ErrLockedOrUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockCapsuleRepo{
				GetCapsuleDetailsFunc: func(context.Context, string) (*models.Capsule, error) { return tt.capsule, nil },
			}
			svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

			v, err := svc.Get(context.Background(), tt.who, "cap-1")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, v.Message)
			assert.Equal(t, tt.wantMessage, *v.Message)
		})
	}
}

func TestCapsuleService_GetNotFound(t *testing.T) {
	repo := &mockCapsuleRepo{
		GetCapsuleDetailsFunc: func(context.Context, string) (*models.Capsule, error) { return nil, models.ErrNotFound },
	}
	_, err := service.NewCapsuleService(repo, newMemStore()).Get(context.Background(), owner, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCapsuleService_Update(t *testing.T) {
	var gotPatch models.CapsulePatch
	repo := ownedRepo()
	repo.UpdateCapsuleFunc = func(_ context.Context, id string, patch models.CapsulePatch) (*models.Capsule, error) {
		gotPatch = patch
		c := lockedCapsule()
		if patch.Title != nil {
			c.Title = *patch.Title
		}
		return c, nil
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))
	ctx := context.Background()

	_, err := svc.Update(ctx, owner, "cap-1", nil, nil)
	assert.ErrorIs(t, err, models.ErrNoFields)

	title := " renamed "
	v, err := svc.Update(ctx, owner, "cap-1", &title, nil)
	require.NoError(t, err)
	require.NotNil(t, gotPatch.Title)
	assert.Equal(t, "renamed", *gotPatch.Title)
	assert.Nil(t, gotPatch.UnlockAt)
	assert.Equal(t, "renamed", v.Title)

	_, err = svc.Update(ctx, recipient, "cap-1", &title, nil)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = svc.Update(ctx, owner, "missing", &title, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCapsuleService_Delete(t *testing.T) {
	deleted := ""
	repo := ownedRepo()
	repo.DeleteCapsuleFunc = func(_ context.Context, id string) error {
		deleted = id
		return nil
	}
	svc := service.NewCapsuleService(repo, newMemStore())

	require.ErrorIs(t, svc.Delete(context.Background(), stranger, "cap-1"), models.ErrForbidden)
	assert.Empty(t, deleted)

	require.NoError(t, svc.Delete(context.Background(), owner, "cap-1"))
	assert.Equal(t, "cap-1", deleted)
}

func TestCapsuleService_UpsertContentDefaultsType(t *testing.T) {
	var got models.CapsuleContent
	repo := ownedRepo()
	repo.UpsertContentFunc = func(_ context.Context, cc models.CapsuleContent) (models.CapsuleContent, error) {
		got = cc
		return cc, nil
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

	_, err := svc.UpsertContent(context.Background(), owner, "cap-1", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultContentType, got.ContentType)
	assert.Equal(t, "cap-1", got.CapsuleID)

	_, err = svc.UpsertContent(context.Background(), owner, "cap-1", "hi", "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.ContentType)

	_, err = svc.UpsertContent(context.Background(), recipient, "cap-1", "hi", "")
	assert.ErrorIs(t, err, models.ErrForbidden)
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func TestCapsuleService_AddMedia(t *testing.T) {
	repo := ownedRepo()
	var created models.CapsuleMedia
	repo.CreateMediaFunc = func(_ context.Context, m models.CapsuleMedia) (models.CapsuleMedia, error) {
		created = m
		return m, nil
	}
	files := newMemStore()
	svc := service.NewCapsuleService(repo, files, service.WithClock(clock))

	media, err := svc.AddMedia(context.Background(), owner, "cap-1", &models.Upload{
		Filename:     "my holiday photo.png",
		DeclaredType: "application/octet-stream",
		Size:         int64(len(pngHeader)),
		Body:         bytes.NewReader(pngHeader),
	})
	require.NoError(t, err)

	wantURL := "/uploads/1773489600000-my-holiday-photo.png"
	assert.Equal(t, wantURL, media.FileURL)
	assert.Equal(t, "image/png", media.FileType)
	assert.Equal(t, int64(len(pngHeader)), media.Size)
	assert.Equal(t, created, media)
	assert.Equal(t, pngHeader, files.files[wantURL], "stored bytes must match the upload")
}

func TestCapsuleService_AddMediaFallsBackToDeclaredType(t *testing.T) {
	repo := ownedRepo()
	repo.CreateMediaFunc = func(_ context.Context, m models.CapsuleMedia) (models.CapsuleMedia, error) { return m, nil }
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

	body := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02, 0x03, 0x04}
	media, err := svc.AddMedia(context.Background(), owner, "cap-1", &models.Upload{
		Filename:     "clip.ogg",
		DeclaredType: "Audio/Ogg; codecs=opus",
		Size:         int64(len(body)),
		Body:         bytes.NewReader(body),
	})
	require.NoError(t, err)
	assert.Equal(t, "audio/ogg", media.FileType)
}

func TestCapsuleService_AddMediaRejects(t *testing.T) {
	repo := ownedRepo()
	repo.CreateMediaFunc = func(context.Context, models.CapsuleMedia) (models.CapsuleMedia, error) {
		t.Fatal("CreateMedia must not be called")
		return models.CapsuleMedia{}, nil
	}

	tests := []struct {
		name    string
		who     models.Identity
		upload  *models.Upload
		wantErr error
	}{
		{"not owner", recipient, &models.Upload{Filename: "a.png", Body: bytes.NewReader(pngHeader)}, models.ErrForbidden},
		{"no file", owner, nil, models.ErrNoFile},
		{"declared too large", owner, &models.Upload{Filename: "a.png", Size: service.MaxUploadSize + 1, Body: bytes.NewReader(pngHeader)}, models.ErrFileTooLarge},
		{"text disguised as image", owner, &models.Upload{Filename: "a.png", DeclaredType: "image/png", Body: strings.NewReader("just some plain text")}, models.ErrUnsupportedMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := newMemStore()
			svc := service.NewCapsuleService(repo, files, service.WithClock(clock))
			_, err := svc.AddMedia(context.Background(), tt.who, "cap-1", tt.upload)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, files.files)
		})
	}
}

func TestCapsuleService_AddMediaOversizedBody(t *testing.T) {
	repo := ownedRepo()
	repo.CreateMediaFunc = func(context.Context, models.CapsuleMedia) (models.CapsuleMedia, error) {
		t.Fatal("CreateMedia must not be called")
		return models.CapsuleMedia{}, nil
	}
	files := newMemStore()
	svc := service.NewCapsuleService(repo, files, service.WithClock(clock))

	body := append(append([]byte{}, pngHeader...), make([]byte, service.MaxUploadSize)...)
	_, err := svc.AddMedia(context.Background(), owner, "cap-1", &models.Upload{
		Filename: "big.png",
		Size:     10,
		Body:     bytes.NewReader(body),
	})
	assert.ErrorIs(t, err, models.ErrFileTooLarge)
	assert.Empty(t, files.files)
	assert.Len(t, files.removed, 1)
}

func TestCapsuleService_AddMediaRemovesFileOnRepoFailure(t *testing.T) {
	dbErr := errors.New("insert failed")
	repo := ownedRepo()
	repo.CreateMediaFunc = func(context.Context, models.CapsuleMedia) (models.CapsuleMedia, error) {
		return models.CapsuleMedia{}, dbErr
	}
	files := newMemStore()
	svc := service.NewCapsuleService(repo, files, service.WithClock(clock))

	_, err := svc.AddMedia(context.Background(), owner, "cap-1", &models.Upload{
		Filename: "a.png",
		Body:     bytes.NewReader(pngHeader),
	})
	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, files.files)
	assert.Equal(t, []string{"/uploads/1773489600000-a.png"}, files.removed)
}

func TestCapsuleService_AddRecipients(t *testing.T) {
	var got []models.CapsuleRecipient
	repo := ownedRepo()
	repo.UpsertRecipientsFunc = func(_ context.Context, rs []models.CapsuleRecipient) ([]models.CapsuleRecipient, error) {
		got = rs
		return rs, nil
	}
	svc := service.NewCapsuleService(repo, newMemStore(), service.WithClock(clock))

	out, err := svc.AddRecipients(context.Background(), owner, "cap-1",
		[]string{"A@Example.com", "a@example.com ", "b@example.com"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a@example.com", got[0].Email)
	assert.Equal(t, "b@example.com", got[1].Email)
	for _, r := range got {
		assert.Equal(t, "cap-1", r.CapsuleID)
		assert.NotEmpty(t, r.ID)
	}
	assert.Len(t, out, 2)

	_, err = svc.AddRecipients(context.Background(), stranger, "cap-1", []string{"x@example.com"})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestCapsuleService_RemoveRecipient(t *testing.T) {
	var gotCapsule, gotRecipient string
	repo := ownedRepo()
	repo.DeleteRecipientFunc = func(_ context.Context, capsuleID, recipientID string) error {
		gotCapsule, gotRecipient = capsuleID, recipientID
		if recipientID == "missing" {
			return models.ErrNotFound
		}
		return nil
	}
	svc := service.NewCapsuleService(repo, newMemStore())

	require.NoError(t, svc.RemoveRecipient(context.Background(), owner, "cap-1", "r1"))
	assert.Equal(t, "cap-1", gotCapsule)
	assert.Equal(t, "r1", gotRecipient)

	assert.ErrorIs(t, svc.RemoveRecipient(context.Background(), owner, "cap-1", "missing"), models.ErrNotFound)
	assert.ErrorIs(t, svc.RemoveRecipient(context.Background(), recipient, "cap-1", "r1"), models.ErrForbidden)
}
