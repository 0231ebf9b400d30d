// Package service provides the business logic of the time capsule API,
// delegating persistence to repository interfaces.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atinyakov/timecapsule/internal/models"
)

// PasswordCost is the bcrypt cost used for new password hashes.
const PasswordCost = 10

// UserRepository defines the persistence operations needed by the UserService.
type UserRepository interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	// CreateUser returns models.ErrDuplicateEmail when the email is taken.
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	// GetUser returns models.ErrNotFound for an unknown id.
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateUser(ctx context.Context, id string, patch models.UserPatch, at time.Time) (models.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// UserService manages user accounts. It only ever hands out models.UserView.
type UserService struct {
	repo UserRepository
	now  func() time.Time
}

// NewUserService constructs a UserService with the provided repository.
func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo, now: time.Now}
}

// List returns all users.
func (s *UserService) List(ctx context.Context) ([]models.UserView, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewUserViews(users), nil
}

// Create hashes password and stores a new user.
func (s *UserService) Create(ctx context.Context, email, password string) (models.UserView, error) {
	hash, err := hashPassword(password)
	if err != nil {
		return models.UserView{}, err
	}
	u, err := s.repo.CreateUser(ctx, models.User{
		ID:           uuid.NewString(),
		Email:        strings.TrimSpace(email),
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		return models.UserView{}, err
	}
	return models.NewUserView(u), nil
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, id string) (models.UserView, error) {
	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return models.UserView{}, err
	}
	return models.NewUserView(u), nil
}

// Update changes the email and/or password of a user. Nil arguments are left
// untouched; if both are nil it returns models.ErrNoFields.
func (s *UserService) Update(ctx context.Context, id string, email, password *string) (models.UserView, error) {
	var patch models.UserPatch
	if email != nil && strings.TrimSpace(*email) != "" {
		e := strings.TrimSpace(*email)
		patch.Email = &e
	}
	if password != nil && *password != "" {
		hash, err := hashPassword(*password)
		if err != nil {
			return models.UserView{}, err
		}
		patch.PasswordHash = &hash
	}
	if patch.Empty() {
		return models.UserView{}, models.ErrNoFields
	}

	u, err := s.repo.UpdateUser(ctx, id, patch, s.now().UTC())
	if err != nil {
		return models.UserView{}, err
	}
	return models.NewUserView(u), nil
}

// Delete removes a user and everything they own.
func (s *UserService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteUser(ctx, id)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
