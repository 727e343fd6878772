package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stepguard/server/internal/model"
)

const userColumns = `
	id, email, password_hash, email_verified, signup_otp, pending_step_up,
	login_attempts, last_login, login_history, created_at
`

// PostgresUserRepo stores users in one row each; nested state lives in JSONB columns
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo creates a new PostgresUserRepo instance
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresUserRepo) GetByID(ctx context.Context, id uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByEmail(ctx context.Context, email string) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (r *PostgresUserRepo) GetByPendingSession(ctx context.Context, sessionID uuid.UUID) (model.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE pending_session_id = $1`, sessionID)
	return scanUser(row)
}

// CreateIfAbsent inserts the user unless the email (or id) already exists
func (r *PostgresUserRepo) CreateIfAbsent(ctx context.Context, user model.User) (model.User, error) {
	cols, err := encodeColumns(model.ToDocument(user))
	if err != nil {
		return model.User{}, err
	}

	var idStr string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, email, password_hash, email_verified, signup_otp, pending_step_up,
		                   pending_session_id, login_attempts, last_login, login_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT DO NOTHING
		RETURNING id
	`, user.ID, user.Email, user.PasswordHash, cols.emailVerified, cols.signupOTP, cols.pendingStepUp,
		cols.pendingSessionID, cols.loginAttempts, cols.lastLogin, cols.loginHistory, user.CreatedAt,
	).Scan(&idStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrAlreadyExists
		}
		return model.User{}, fmt.Errorf("insert user: %w", err)
	}

	return r.GetByID(ctx, user.ID)
}

// Update locks the row for the duration of fn and writes the result back in the same transaction
func (r *PostgresUserRepo) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (model.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.User{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	user, err := scanUser(tx.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return model.User{}, err
	}
	email := user.Email

	if err := fn(&user); err != nil {
		return model.User{}, err
	}
	// id and email are immutable keys
	user.ID, user.Email = id, email

	cols, err := encodeColumns(model.ToDocument(user))
	if err != nil {
		return model.User{}, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2,
		    email_verified = $3,
		    signup_otp = $4,
		    pending_step_up = $5,
		    pending_session_id = $6,
		    login_attempts = $7,
		    last_login = $8,
		    login_history = $9,
		    updated_at = now()
		WHERE id = $1
	`, id, user.PasswordHash, cols.emailVerified, cols.signupOTP, cols.pendingStepUp,
		cols.pendingSessionID, cols.loginAttempts, cols.lastLogin, cols.loginHistory)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.User{}, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return model.User{}, fmt.Errorf("update user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return model.User{}, fmt.Errorf("commit: %w", err)
	}
	return user, nil
}

// encodedColumns holds JSONB values as text; lib/pq would send []byte as bytea
type encodedColumns struct {
	emailVerified    bool
	signupOTP        any
	pendingStepUp    any
	pendingSessionID any
	loginAttempts    string
	lastLogin        any
	loginHistory     string
}

func encodeColumns(doc model.UserDocument) (encodedColumns, error) {
	cols := encodedColumns{emailVerified: doc.EmailVerified}
	var err error

	if doc.SignupOTP != nil {
		if cols.signupOTP, err = jsonText(doc.SignupOTP); err != nil {
			return cols, fmt.Errorf("encode signup_otp: %w", err)
		}
	}
	if doc.PendingStepUp != nil {
		if cols.pendingStepUp, err = jsonText(doc.PendingStepUp); err != nil {
			return cols, fmt.Errorf("encode pending_step_up: %w", err)
		}
		cols.pendingSessionID = doc.PendingStepUp.SessionID
	}
	if doc.LastLogin != nil {
		if cols.lastLogin, err = jsonText(doc.LastLogin); err != nil {
			return cols, fmt.Errorf("encode last_login: %w", err)
		}
	}

	attempts := doc.LoginAttempts
	if attempts == nil {
		attempts = []time.Time{}
	}
	if cols.loginAttempts, err = jsonText(attempts); err != nil {
		return cols, fmt.Errorf("encode login_attempts: %w", err)
	}

	history := doc.LoginHistory
	if history == nil {
		history = []model.EntryDocument{}
	}
	if cols.loginHistory, err = jsonText(history); err != nil {
		return cols, fmt.Errorf("encode login_history: %w", err)
	}
	return cols, nil
}

func jsonText(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func scanUser(row rowScanner) (model.User, error) {
	var (
		doc                          model.UserDocument
		signupOTP, stepUp, lastLogin []byte
		attempts, history            []byte
	)
	err := row.Scan(
		&doc.ID,
		&doc.Email,
		&doc.PasswordHash,
		&doc.EmailVerified,
		&signupOTP,
		&stepUp,
		&attempts,
		&lastLogin,
		&history,
		&doc.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("failed to query user: %w", err)
	}

	if err := decodeOptional(signupOTP, &doc.SignupOTP); err != nil {
		return model.User{}, fmt.Errorf("decode signup_otp: %w", err)
	}
	if err := decodeOptional(stepUp, &doc.PendingStepUp); err != nil {
		return model.User{}, fmt.Errorf("decode pending_step_up: %w", err)
	}
	if err := decodeOptional(lastLogin, &doc.LastLogin); err != nil {
		return model.User{}, fmt.Errorf("decode last_login: %w", err)
	}
	if err := decodeOptional(attempts, &doc.LoginAttempts); err != nil {
		return model.User{}, fmt.Errorf("decode login_attempts: %w", err)
	}
	if err := decodeOptional(history, &doc.LoginHistory); err != nil {
		return model.User{}, fmt.Errorf("decode login_history: %w", err)
	}

	return model.FromDocument(doc)
}

func decodeOptional(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dst)
}
