package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/stepguard/server/internal/auth"
	"github.com/stepguard/server/internal/config"
	"github.com/stepguard/server/internal/db"
	httphandler "github.com/stepguard/server/internal/http"
	"github.com/stepguard/server/internal/http/handlers"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/middleware"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/notify"
	"github.com/stepguard/server/internal/repo"
	"github.com/stepguard/server/internal/risk"
)

const (
	ipUS = "203.0.113.10"
	ipFR = "198.51.100.7"

	chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

func ptr(f float64) *float64 { return &f }

// mapLocator resolves a fixed set of test addresses
type mapLocator map[string]model.Location

func (m mapLocator) Lookup(ip net.IP) (model.Location, error) {
	loc, ok := m[ip.String()]
	if !ok {
		return model.Location{}, errors.New("address not in test database")
	}
	return loc, nil
}

var testLocations = mapLocator{
	ipUS: {Country: "US", Region: "CA", City: "San Francisco", Timezone: "America/Los_Angeles", Lat: ptr(37.77), Lon: ptr(-122.42)},
	ipFR: {Country: "FR", Region: "IDF", City: "Paris", Timezone: "Europe/Paris", Lat: ptr(48.85), Lon: ptr(2.35)},
}

// captureNotifier records every message so tests can read the codes
type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *captureNotifier) SendOTP(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureNotifier) lastCode(t *testing.T, to string) string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].To == to {
			return c.sent[i].Code
		}
	}
	t.Fatalf("no code sent to %s", to)
	return ""
}

// testServer holds the server and its captured notifications
type testServer struct {
	Server   *httptest.Server
	Notifier *captureNotifier
}

// loopback is the peer address of every httptest client; trusting it lets
// tests pick the client IP through X-Forwarded-For.
var loopback = mustProxies("127.0.0.1, ::1")

func mustProxies(s string) risk.TrustedProxies {
	p, err := risk.ParseTrustedProxies(s)
	if err != nil {
		panic(err)
	}
	return p
}

func newTestServer(t *testing.T, users repo.UserRepo) *testServer {
	t.Helper()
	notifier := &captureNotifier{}
	server := httptest.NewServer(newTestRouter(t, users, notifier, loopback))
	t.Cleanup(server.Close)
	return &testServer{Server: server, Notifier: notifier}
}

func newTestRouter(t *testing.T, users repo.UserRepo, notifier notify.Notifier, proxies risk.TrustedProxies) http.Handler {
	t.Helper()

	cfg := config.Defaults()
	jwtService := auth.NewJWTService("test-jwt-secret-at-least-32-characters-long", cfg.TokenTTL)
	authService := auth.NewService(
		users,
		auth.NewBcryptHasher(bcrypt.MinCost),
		jwtService,
		notifier,
		auth.NewOTPManager("test-otp-salt", cfg.OTP.TTL, cfg.OTP.MaxAttempts),
		risk.NewAssessor(cfg.Risk),
		auth.Options{
			RateLimitWindow:      cfg.RateLimit.Window,
			RateLimitMaxAttempts: cfg.RateLimit.MaxAttempts,
			HistorySize:          cfg.RateLimit.HistorySize,
		},
		logging.Discard(),
	)
	authHandler := handlers.NewAuthHandler(authService, risk.NewExtractor(testLocations, proxies), logging.Discard())

	ipLimiter := middleware.NewRateLimiter(time.Minute, 1000)
	t.Cleanup(ipLimiter.Stop)

	return httphandler.NewRouter(authHandler, jwtService, users, ipLimiter, proxies, logging.Discard())
}

// storeFactories lists every backend the flow tests run against
func storeFactories() map[string]func(t *testing.T) repo.UserRepo {
	return map[string]func(t *testing.T) repo.UserRepo{
		"memory":   func(t *testing.T) repo.UserRepo { return repo.NewMemoryUserRepo() },
		"redis":    redisStore,
		"postgres": postgresStore,
	}
}

func redisStore(t *testing.T) repo.UserRepo {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return repo.NewRedisUserRepo(client)
}

func postgresStore(t *testing.T) repo.UserRepo {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping postgres flow")
	}
	ctx := context.Background()
	database, err := db.Open(ctx, dsn, logging.Discard())
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database), "migrations must run successfully")
	_, err = database.ExecContext(ctx, "TRUNCATE TABLE users")
	require.NoError(t, err, "truncate users")
	return repo.NewPostgresUserRepo(database)
}

func (s *testServer) BaseURL() string { return s.Server.URL }

// post sends a JSON body from the given client address
func (s *testServer) post(t *testing.T, path, clientIP string, body any) (*http.Response, string) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, s.BaseURL()+path, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", chromeUA)
	if clientIP != "" {
		req.Header.Set("X-Forwarded-For", clientIP)
	}
	return s.do(t, req)
}

func (s *testServer) get(t *testing.T, path, token string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.BaseURL()+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return s.do(t, req)
}

func (s *testServer) do(t *testing.T, req *http.Request) (*http.Response, string) {
	t.Helper()
	resp, err := s.Server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}
