package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/castline/backend/internal/models"
	"github.com/castline/backend/internal/store"
	"github.com/castline/backend/pkg/id"
)

var (
	ErrEmailTaken   = errors.New("email already registered")
	ErrUserNotFound = errors.New("user not found")
)

// Repository handles user persistence.
type Repository struct {
	store store.Store
}

// NewRepository creates an auth repository.
func NewRepository(st store.Store) *Repository {
	return &Repository{store: st}
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	var u *models.User
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUserByID(ctx, userID)
		return err
	})
	return u, notFound(err)
}

// GetByEmail returns a user by email, matched case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u *models.User
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		u, err = tx.GetUserByEmail(ctx, strings.TrimSpace(email))
		return err
	})
	return u, notFound(err)
}

// Create inserts a new user. The email is stored lowercased.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string) (*models.User, error) {
	u := &models.User{
		ID:           id.New(id.PrefixUser),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		Name:         strings.TrimSpace(name),
		PasswordHash: passwordHash,
	}
	err := r.store.InTx(ctx, func(tx store.Tx) error {
		return tx.CreateUser(ctx, u)
	})
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrEmailTaken
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
