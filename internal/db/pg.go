package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// extractDBName returns the database name from URL path ("/stepguard" -> "stepguard").
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

// Open establishes a connection to PostgreSQL and configures the connection pool.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	dbName := extractDBName(u)
	host := u.Hostname()
	port := u.Port()
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}

	logger.Info("db connect target", "source", "db", "host", host, "port", port, "db", dbName, "dsn", redactDSN(databaseURL))

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()

		if isDatabaseDoesNotExist(err) {
			return nil, fmt.Errorf("database %q not found on host=%s port=%s: %w", dbName, host, port, err)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
