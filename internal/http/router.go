package http

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stepguard/server/internal/http/handlers"
	"github.com/stepguard/server/internal/middleware"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

// NewRouter creates a new HTTP router with all routes configured.
// ipLimiter throttles the public /auth endpoints per client IP; nil disables it.
// Forwarding headers only name the client when the peer is one of proxies.
func NewRouter(
	authHandler *handlers.AuthHandler,
	verifier middleware.TokenVerifier,
	userRepo repo.UserRepo,
	ipLimiter *middleware.RateLimiter,
	proxies risk.TrustedProxies,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler()
	r.Get("/health", healthHandler.ServeHTTP)

	r.Route("/auth", func(r chi.Router) {
		if ipLimiter != nil {
			r.Use(middleware.RateLimitMiddleware(ipLimiter, middleware.IPKey(proxies)))
		}
		r.Post("/signup", authHandler.HandleSignup)
		r.Post("/signup/verify", authHandler.HandleVerifySignup)
		r.Post("/signup/resend", authHandler.HandleResendSignupOTP)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/login/verify", authHandler.HandleVerifyLogin)
	})

	// Protected routes (require valid JWT)
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(verifier, userRepo))
		r.Get("/me", authHandler.HandleMe)
	})

	return r
}
