package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/auth"
	"github.com/stepguard/server/internal/repo"
)

type contextKey string

const userIDKey contextKey = "user_id"

// TokenVerifier parses and validates bearer tokens
type TokenVerifier interface {
	VerifyToken(tokenString string) (*auth.JWTClaims, error)
}

// AuthMiddleware admits requests carrying a valid access token whose subject
// still exists in the store, and puts the subject's id on the context.
func AuthMiddleware(verifier TokenVerifier, users repo.UserRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, reason := bearerToken(r.Header.Get("Authorization"))
			if reason != "" {
				respondWithError(w, http.StatusUnauthorized, reason)
				return
			}

			claims, err := verifier.VerifyToken(token)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if _, err := users.GetByID(r.Context(), claims.UserID); err != nil {
				respondWithError(w, http.StatusUnauthorized, "user not found")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken returns the token or a reason it could not be read
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", "invalid authorization header format"
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", "missing token"
	}
	return token, ""
}

// GetUserID returns the authenticated user id set by AuthMiddleware
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
