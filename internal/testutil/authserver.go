package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/okazan/clauth/internal/models"
)

// AuthServer is an in-process fake of the remote auth API. It issues
// real signed JWT access tokens, rotates refresh tokens on every
// refresh and counts calls, so tests can assert on the exact number of
// refresh attempts the client performed.
type AuthServer struct {
	*httptest.Server

	// Account the fake knows about
	User     models.User
	Password string

	// Signing key for minted access tokens
	SigningKey string

	mu            sync.Mutex
	accessToken   string
	refreshToken  string
	refreshDelay  time.Duration
	forbidAccess  bool
	refreshCalls  int
	logoutCalls   int
	meCalls       int
	totalRequests int
}

func NewAuthServer() *AuthServer {
	s := &AuthServer{
		User:       models.User{ID: "u1", Email: "a@b.com", Name: "Alice", CreatedAt: time.Now().UTC().Truncate(time.Second)},
		Password:   "secret1",
		SigningKey: "test-signing-key",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/auth/register", s.register)
	mux.HandleFunc("POST /v1/auth/login", s.login)
	mux.HandleFunc("POST /v1/auth/refresh", s.refresh)
	mux.HandleFunc("POST /v1/auth/logout", s.logout)
	mux.HandleFunc("GET /v1/users/me", s.me)
	mux.HandleFunc("GET /v1/ping", s.ping)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(s.counting(mux))
	return s
}

// counting wraps the mux to count every request the client sends
func (s *AuthServer) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.totalRequests++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

// ExpireAccess invalidates the current access token, so the next
// authenticated request gets a 401 and the client must refresh
func (s *AuthServer) ExpireAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
}

// ForbidAccess makes every protected endpoint answer 401 regardless of
// the token, including after a successful refresh
func (s *AuthServer) ForbidAccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forbidAccess = true
}

// SetUserName renames the account server-side, so tests can observe
// the client picking up a fresher user projection
func (s *AuthServer) SetUserName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.User.Name = name
}

// SeedRefresh installs a refresh token as the currently valid one, as
// if a previous process had signed in
func (s *AuthServer) SeedRefresh(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = token
}

// SetRefreshDelay delays every refresh response, used to hold a
// refresh in flight while concurrent callers pile up
func (s *AuthServer) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

func (s *AuthServer) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *AuthServer) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls
}

func (s *AuthServer) MeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meCalls
}

func (s *AuthServer) TotalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRequests
}

// CurrentAccess returns the access token the server considers valid
func (s *AuthServer) CurrentAccess() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// CurrentRefresh returns the refresh token the server considers valid
func (s *AuthServer) CurrentRefresh() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// issuePair mints a signed access token and a fresh refresh token and
// makes them the only valid pair. Callers must hold s.mu.
func (s *AuthServer) issuePair() (access string, refresh string, err error) {
	claims := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   s.User.ID,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
	}
	access, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.SigningKey))
	if err != nil {
		return "", "", err
	}

	refresh = "refresh-" + uuid.NewString()
	s.accessToken = access
	s.refreshToken = refresh
	return access, refresh, nil
}

func (s *AuthServer) register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Email == s.User.Email {
		writeErr(w, http.StatusConflict, "email_taken", nil)
		return
	}

	s.User = models.User{ID: "u2", Email: req.Email, Name: req.Name, CreatedAt: time.Now().UTC().Truncate(time.Second)}
	s.Password = req.Password

	access, refresh, err := s.issuePair()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          s.User,
	})
}

func (s *AuthServer) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.Email != s.User.Email || req.Password != s.Password {
		writeErr(w, http.StatusUnauthorized, "invalid_credentials", nil)
		return
	}

	access, refresh, err := s.issuePair()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          s.User,
	})
}

func (s *AuthServer) refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", nil)
		return
	}

	s.mu.Lock()
	delay := s.refreshDelay
	s.refreshCalls++
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refreshToken == "" || req.RefreshToken != s.refreshToken {
		writeErr(w, http.StatusUnauthorized, "invalid_refresh_token", nil)
		return
	}

	access, refresh, err := s.issuePair()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "internal", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
	})
}

func (s *AuthServer) logout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logoutCalls++
	if req.RefreshToken == s.refreshToken {
		s.refreshToken = ""
		s.accessToken = ""
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *AuthServer) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.meCalls++
	s.mu.Unlock()

	if !s.authorized(r) {
		writeErr(w, http.StatusUnauthorized, "invalid_token", nil)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, s.User)
}

func (s *AuthServer) ping(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		writeErr(w, http.StatusUnauthorized, "invalid_token", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *AuthServer) authorized(r *http.Request) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.forbidAccess {
		return false
	}

	bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return bearer != "" && bearer == s.accessToken
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errCode string, details any) {
	writeJSON(w, code, map[string]any{
		"error":   errCode,
		"message": fmt.Sprintf("%d %s", code, http.StatusText(code)),
		"details": details,
	})
}
