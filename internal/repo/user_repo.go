package repo

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the lookup key
	ErrNotFound = errors.New("user not found")
	// ErrAlreadyExists is returned by CreateIfAbsent when the email is taken
	ErrAlreadyExists = errors.New("user already exists")
	// ErrConflict is returned when an update keeps losing to concurrent writers
	ErrConflict = errors.New("concurrent update conflict")
)

// UpdateFunc mutates u in place. Returning an error aborts the update and
// nothing is written; the error is passed back to the caller unchanged.
type UpdateFunc func(u *model.User) error

// UserRepo defines the credential store. Email and pending step-up session
// id are unique secondary keys. Update is an atomic read-modify-write of one
// record, so attempt counters and history appends never lose updates.
type UserRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (model.User, error)
	GetByEmail(ctx context.Context, email string) (model.User, error)
	GetByPendingSession(ctx context.Context, sessionID uuid.UUID) (model.User, error)
	CreateIfAbsent(ctx context.Context, user model.User) (model.User, error)
	Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (model.User, error)
}
