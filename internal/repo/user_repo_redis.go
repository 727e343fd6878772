package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stepguard/server/internal/model"
)

const (
	userKeyPrefix    = "usr"
	emailKeyPrefix   = "usr:email"
	sessionKeyPrefix = "usr:stepup"

	maxTxRetries = 8
)

// RedisUserRepo stores each user as a JSON document with two index keys
// (email -> id, pending session -> id). Writes use WATCH/MULTI so concurrent
// updates of one record are serialised optimistically.
type RedisUserRepo struct {
	redis *redis.Client
}

// NewRedisUserRepo creates a new RedisUserRepo instance
func NewRedisUserRepo(redisClient *redis.Client) *RedisUserRepo {
	return &RedisUserRepo{redis: redisClient}
}

func userKey(id uuid.UUID) string        { return userKeyPrefix + ":" + id.String() }
func emailKey(email string) string       { return emailKeyPrefix + ":" + email }
func sessionKey(sessionID string) string { return sessionKeyPrefix + ":" + sessionID }

func (r *RedisUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	doc, err := getDocument(ctx, r.redis, userKey(id))
	if err != nil {
		return model.User{}, err
	}
	return model.FromDocument(doc)
}

func (r *RedisUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	id, err := r.lookupIndex(ctx, emailKey(email))
	if err != nil {
		return model.User{}, err
	}
	return r.GetByID(ctx, id)
}

func (r *RedisUserRepo) GetByPendingSession(ctx context.Context, sessionID uuid.UUID) (model.User, error) {
	id, err := r.lookupIndex(ctx, sessionKey(sessionID.String()))
	if err != nil {
		return model.User{}, err
	}
	user, err := r.GetByID(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if pending, ok := user.PendingStepUp(); !ok || pending.SessionID != sessionID {
		return model.User{}, ErrNotFound
	}
	return user, nil
}

func (r *RedisUserRepo) CreateIfAbsent(ctx context.Context, user model.User) (model.User, error) {
	doc := model.ToDocument(user)
	encoded, err := json.Marshal(doc)
	if err != nil {
		return model.User{}, fmt.Errorf("encode user: %w", err)
	}

	eKey := emailKey(user.Email)
	uKey := userKey(user.ID)

	err = r.withRetry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, eKey, uKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAlreadyExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, uKey, encoded, 0)
			pipe.Set(ctx, eKey, user.ID.String(), 0)
			if sid := doc.PendingSessionID(); sid != "" {
				pipe.Set(ctx, sessionKey(sid), user.ID.String(), 0)
			}
			return nil
		})
		return err
	}, eKey, uKey)
	if err != nil {
		return model.User{}, err
	}
	return model.FromDocument(doc)
}

func (r *RedisUserRepo) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (model.User, error) {
	key := userKey(id)
	var result model.UserDocument

	err := r.withRetry(ctx, func(tx *redis.Tx) error {
		current, err := getDocument(ctx, tx, key)
		if err != nil {
			return err
		}
		user, err := model.FromDocument(current)
		if err != nil {
			return fmt.Errorf("decode user: %w", err)
		}

		if err := fn(&user); err != nil {
			return err
		}
		// id and email are immutable keys
		user.ID, user.Email = id, current.Email

		updated := model.ToDocument(user)
		encoded, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}

		oldSID, newSID := current.PendingSessionID(), updated.PendingSessionID()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			if oldSID != "" && oldSID != newSID {
				pipe.Del(ctx, sessionKey(oldSID))
			}
			if newSID != "" {
				pipe.Set(ctx, sessionKey(newSID), id.String(), 0)
			}
			return nil
		})
		if err != nil {
			return err
		}
		result = updated
		return nil
	}, key)
	if err != nil {
		return model.User{}, err
	}
	return model.FromDocument(result)
}

// withRetry runs fn in a WATCH transaction, retrying when a watched key changes
func (r *RedisUserRepo) withRetry(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.redis.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrConflict
}

func (r *RedisUserRepo) lookupIndex(ctx context.Context, key string) (uuid.UUID, error) {
	raw, err := r.redis.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("read index %s: %w", key, err)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user ID: %w", err)
	}
	return id, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getDocument(ctx context.Context, c stringGetter, key string) (model.UserDocument, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.UserDocument{}, ErrNotFound
		}
		return model.UserDocument{}, fmt.Errorf("read user: %w", err)
	}
	var doc model.UserDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.UserDocument{}, fmt.Errorf("decode user: %w", err)
	}
	return doc, nil
}
