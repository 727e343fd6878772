package repo

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/model"
)

// MemoryUserRepo keeps users in process memory. Records are stored in their
// persisted document form so callers never share slices with the store.
type MemoryUserRepo struct {
	mu       sync.RWMutex
	users    map[uuid.UUID]model.UserDocument
	emails   map[string]uuid.UUID
	sessions map[string]uuid.UUID
}

// NewMemoryUserRepo creates an empty in-memory store
func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{
		users:    make(map[uuid.UUID]model.UserDocument),
		emails:   make(map[string]uuid.UUID),
		sessions: make(map[string]uuid.UUID),
	}
}

func (r *MemoryUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.load(id)
}

func (r *MemoryUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.emails[email]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return r.load(id)
}

func (r *MemoryUserRepo) GetByPendingSession(ctx context.Context, sessionID uuid.UUID) (model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.sessions[sessionID.String()]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return r.load(id)
}

func (r *MemoryUserRepo) CreateIfAbsent(ctx context.Context, user model.User) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.emails[user.Email]; taken {
		return model.User{}, ErrAlreadyExists
	}
	if _, taken := r.users[user.ID]; taken {
		return model.User{}, ErrAlreadyExists
	}

	doc := model.ToDocument(user)
	r.users[user.ID] = doc
	r.emails[user.Email] = user.ID
	if sid := doc.PendingSessionID(); sid != "" {
		r.sessions[sid] = user.ID
	}
	return r.load(user.ID)
}

func (r *MemoryUserRepo) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	user, err := model.FromDocument(current)
	if err != nil {
		return model.User{}, fmt.Errorf("decode user: %w", err)
	}

	if err := fn(&user); err != nil {
		return model.User{}, err
	}
	// id and email are immutable keys
	user.ID, user.Email = id, current.Email

	updated := model.ToDocument(user)
	if old := current.PendingSessionID(); old != "" && old != updated.PendingSessionID() {
		delete(r.sessions, old)
	}
	if sid := updated.PendingSessionID(); sid != "" {
		r.sessions[sid] = id
	}
	r.users[id] = updated

	return r.load(id)
}

// load must be called with r.mu held
func (r *MemoryUserRepo) load(id uuid.UUID) (model.User, error) {
	doc, ok := r.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return model.FromDocument(doc)
}
