package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stepguard/server/internal/auth"
	"github.com/stepguard/server/internal/logging"
	"github.com/stepguard/server/internal/middleware"
	"github.com/stepguard/server/internal/model"
	"github.com/stepguard/server/internal/risk"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	authService *auth.Service
	extractor   *risk.Extractor
	logger      *slog.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *auth.Service, extractor *risk.Extractor, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		extractor:   extractor,
		logger:      logger.With("source", "http"),
	}
}

// credentialsRequest is the request body for POST /auth/signup and /auth/login
type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// emailRequest is the request body for POST /auth/signup/resend
type emailRequest struct {
	Email string `json:"email"`
}

// verifySignupRequest is the request body for POST /auth/signup/verify
type verifySignupRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

// verifyLoginRequest is the request body for POST /auth/login/verify
type verifyLoginRequest struct {
	SessionID string `json:"session_id"`
	OTP       string `json:"otp"`
}

// signupResponse is the JSON response for signup and resend
type signupResponse struct {
	Message string `json:"message"`
	UserID  string `json:"user_id"`
	Email   string `json:"email"`
	// OTP is only present when the verification email could not be sent
	OTP string `json:"otp,omitempty"`
}

// tokenResponse is the JSON response for a completed login
type tokenResponse struct {
	Status      string       `json:"status"`
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        userResponse `json:"user"`
}

// stepUpResponse is the JSON response when a login needs an OTP
type stepUpResponse struct {
	Status    string   `json:"status"`
	SessionID string   `json:"session_id"`
	Reasons   []string `json:"reasons"`
	Delivered bool     `json:"delivered"`
	Message   string   `json:"message"`
}

// userResponse is the user object in API responses
type userResponse struct {
	ID            string          `json:"id"`
	Email         string          `json:"email"`
	EmailVerified bool            `json:"email_verified"`
	CreatedAt     time.Time       `json:"created_at"`
	LastLogin     *entryResponse  `json:"last_login,omitempty"`
	LoginHistory  []entryResponse `json:"login_history,omitempty"`
}

type entryResponse struct {
	Timestamp time.Time        `json:"timestamp"`
	IP        string           `json:"ip"`
	Location  locationResponse `json:"location"`
	Device    deviceResponse   `json:"device"`
}

type locationResponse struct {
	Country  string   `json:"country"`
	Region   string   `json:"region"`
	City     string   `json:"city"`
	Timezone string   `json:"timezone,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
}

type deviceResponse struct {
	Browser     string `json:"browser"`
	OS          string `json:"os"`
	DeviceType  string `json:"deviceType"`
	DeviceModel string `json:"deviceModel"`
}

// HandleSignup handles POST /auth/signup
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.authService.Signup(r.Context(), req.Email, req.Password)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, newSignupResponse(result))
}

// HandleResendSignupOTP handles POST /auth/signup/resend
func (h *AuthHandler) HandleResendSignupOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.authService.ResendSignupOTP(r.Context(), req.Email)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, newSignupResponse(result))
}

// HandleVerifySignup handles POST /auth/signup/verify
func (h *AuthHandler) HandleVerifySignup(w http.ResponseWriter, r *http.Request) {
	var req verifySignupRequest
	if !decodeBody(w, r, &req) {
		return
	}

	user, err := h.authService.ConfirmSignupOTP(r.Context(), req.Email, strings.TrimSpace(req.OTP))
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, map[string]any{
		"message": "email_verified",
		"user":    newUserResponse(user, false),
	})
}

// HandleLogin handles POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.authService.Login(r.Context(), auth.LoginInput{
		Email:    req.Email,
		Password: req.Password,
		Signals:  h.extractor.Extract(r),
	})
	if err != nil {
		if auth.KindOf(err) == auth.KindInvalidCredentials {
			h.logger.InfoContext(r.Context(), "login rejected", "email", logging.MaskEmail(req.Email))
		}
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	h.respondLogin(w, result)
}

// HandleVerifyLogin handles POST /auth/login/verify
func (h *AuthHandler) HandleVerifyLogin(w http.ResponseWriter, r *http.Request) {
	var req verifyLoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sessionID, err := uuid.Parse(strings.TrimSpace(req.SessionID))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "session_id must be a UUID")
		return
	}

	result, err := h.authService.ConfirmLoginOTP(r.Context(), sessionID, strings.TrimSpace(req.OTP))
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	h.respondLogin(w, result)
}

// HandleMe handles GET /me (protected). Returns the authenticated user with login history.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.authService.GetProfile(r.Context(), userID)
	if err != nil {
		respondWithServiceError(w, r, h.logger, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, newUserResponse(user, true))
}

func (h *AuthHandler) respondLogin(w http.ResponseWriter, result auth.LoginResult) {
	if result.Status == auth.StatusStepUpRequired {
		msg := "verification_code_sent"
		if !result.Delivered {
			msg = "verification_code_not_sent"
		}
		respondJSON(w, h.logger, http.StatusAccepted, stepUpResponse{
			Status:    string(result.Status),
			SessionID: result.SessionID.String(),
			Reasons:   result.Reasons,
			Delivered: result.Delivered,
			Message:   msg,
		})
		return
	}

	respondJSON(w, h.logger, http.StatusOK, tokenResponse{
		Status:      string(result.Status),
		AccessToken: result.Token,
		TokenType:   "bearer",
		ExpiresAt:   result.ExpiresAt,
		User:        newUserResponse(result.User, false),
	})
}

func newSignupResponse(result auth.SignupResult) signupResponse {
	resp := signupResponse{
		Message: "verification_code_sent",
		UserID:  result.UserID.String(),
		Email:   result.Email,
	}
	if !result.Delivered {
		resp.Message = "verification_code_not_sent"
		resp.OTP = result.FallbackCode
	}
	return resp
}

func newUserResponse(u model.User, withHistory bool) userResponse {
	resp := userResponse{
		ID:            u.ID.String(),
		Email:         u.Email,
		EmailVerified: u.EmailVerified(),
		CreatedAt:     u.CreatedAt,
	}
	if u.LastLogin != nil {
		e := newEntryResponse(*u.LastLogin)
		resp.LastLogin = &e
	}
	if withHistory {
		resp.LoginHistory = make([]entryResponse, 0, len(u.LoginHistory))
		for _, e := range u.LoginHistory {
			resp.LoginHistory = append(resp.LoginHistory, newEntryResponse(e))
		}
	}
	return resp
}

func newEntryResponse(e model.LoginEntry) entryResponse {
	return entryResponse{
		Timestamp: e.Timestamp,
		IP:        e.IP,
		Location: locationResponse{
			Country:  e.Location.Country,
			Region:   e.Location.Region,
			City:     e.Location.City,
			Timezone: e.Location.Timezone,
			Lat:      e.Location.Lat,
			Lon:      e.Location.Lon,
		},
		Device: deviceResponse{
			Browser:     e.Device.Browser,
			OS:          e.Device.OS,
			DeviceType:  e.Device.DeviceType,
			DeviceModel: e.Device.DeviceModel,
		},
	}
}
