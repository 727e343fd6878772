package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/repo"
)

// DefaultHistorySize is the number of confirmed logins kept per user
const DefaultHistorySize = 10

// Guard runs on the locked record before a login is committed. Returning
// false keeps whatever the guard changed but skips the commit; an error
// aborts the whole update.
type Guard func(u *model.User) (bool, error)

// ProfileUpdater records confirmed logins
type ProfileUpdater struct {
	users       repo.UserRepo
	historySize int
}

// NewProfileUpdater creates a new profile updater
func NewProfileUpdater(users repo.UserRepo, historySize int) *ProfileUpdater {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &ProfileUpdater{users: users, historySize: historySize}
}

// Commit applies entry to the user in one store update: the history append,
// LastLogin and the transition to Active (which clears any pending step-up).
// committed is false when guard declined.
func (p *ProfileUpdater) Commit(ctx context.Context, userID uuid.UUID, entry model.LoginEntry, guard Guard) (user model.User, committed bool, err error) {
	user, err = p.users.Update(ctx, userID, func(u *model.User) error {
		committed = false
		if guard != nil {
			ok, err := guard(u)
			if err != nil || !ok {
				return err
			}
		}
		p.apply(u, entry)
		committed = true
		return nil
	})
	return user, committed, err
}

func (p *ProfileUpdater) apply(u *model.User, entry model.LoginEntry) {
	u.LoginHistory = appendHistory(u.LoginHistory, entry, p.historySize)
	last := entry
	u.LastLogin = &last
	u.State = model.Active{}
}

// appendHistory appends entry and evicts the oldest entries beyond size
func appendHistory(history []model.LoginEntry, entry model.LoginEntry, size int) []model.LoginEntry {
	out := make([]model.LoginEntry, 0, len(history)+1)
	out = append(out, history...)
	out = append(out, entry)
	if len(out) > size {
		out = out[len(out)-size:]
	}
	return out
}
