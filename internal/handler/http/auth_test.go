package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/domain"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/service"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/token"
	apperrors "github.com/amandeep-boot/simple-auth-file-microservices/pkg/errors"
	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/health"
	"github.com/amandeep-boot/simple-auth-file-microservices/pkg/middleware"
)

// ============================================================================
// In-memory fakes
//
// The handler tests drive full request/response cycles through the real
// router and service; only the stores are replaced. The fakes honor the
// same contracts as the PostgreSQL repositories: atomic one-shot consume,
// idempotent revoke, expiry checked at read time.
// ============================================================================

type memUserRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.User
	byEmail map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{
		byID:    make(map[string]*domain.User),
		byEmail: make(map[string]*domain.User),
	}
}

func (r *memUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byEmail[u.Email]; ok {
		return apperrors.AlreadyExists("user", "email", u.Email)
	}
	cp := *u
	r.byID[u.ID] = &cp
	r.byEmail[u.Email] = &cp
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byEmail[email]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memUserRepo) UpdatePassword(_ context.Context, id, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.byID[id]
	if !ok {
		return apperrors.NotFound("user", id)
	}
	u.PasswordHash = passwordHash
	return nil
}

type memRefreshRecord struct {
	userID    string
	expiresAt time.Time
}

type memRefreshRepo struct {
	mu     sync.Mutex
	byHash map[string]memRefreshRecord
}

func newMemRefreshRepo() *memRefreshRepo {
	return &memRefreshRepo{byHash: make(map[string]memRefreshRecord)}
}

func (r *memRefreshRepo) Create(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byHash[tokenHash]; ok {
		return apperrors.AlreadyExists("refresh token", "hash", tokenHash)
	}
	r.byHash[tokenHash] = memRefreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (r *memRefreshRepo) Consume(_ context.Context, tokenHash string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byHash[tokenHash]
	if !ok || !rec.expiresAt.After(time.Now()) {
		return "", apperrors.ErrNotFound
	}
	delete(r.byHash, tokenHash)
	return rec.userID, nil
}

func (r *memRefreshRepo) Revoke(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byHash, tokenHash)
	return nil
}

func (r *memRefreshRepo) RevokeAllForUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, rec := range r.byHash {
		if rec.userID == userID {
			delete(r.byHash, h)
		}
	}
	return nil
}

func (r *memRefreshRepo) DeleteExpired(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for h, rec := range r.byHash {
		if !rec.expiresAt.After(time.Now()) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Test fixture
// ============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	router      http.Handler
	userRepo    *memUserRepo
	refreshRepo *memRefreshRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := newTestLogger()
	userRepo := newMemUserRepo()
	refreshRepo := newMemRefreshRepo()
	tokens := token.NewManager("test-secret-key-for-testing", 15*time.Minute, 7*24*time.Hour)

	svc := service.NewAuthService(userRepo, refreshRepo, tokens, nil, nil, logger, bcrypt.MinCost)
	router := NewRouter(svc, health.NewHandler(), logger, middleware.CORSConfig{Environment: "development"})

	return &fixture{router: router, userRepo: userRepo, refreshRepo: refreshRepo}
}

func (f *fixture) do(t *testing.T, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
	return env
}

func (f *fixture) register(t *testing.T, email, password string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/register", RegisterRequest{Email: email, Password: password}, "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) login(t *testing.T, email, password string) TokenPairResponse {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/auth/login", LoginRequest{Email: email, Password: password}, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	env := decodeEnvelope(t, rec)
	var resp LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	return resp.Tokens
}

// ============================================================================
// Register
// ============================================================================

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register",
		RegisterRequest{Email: "alice@example.com", Password: "correct horse battery"}, "")
	require.Equal(t, http.StatusCreated, rec.Code)

	env := decodeEnvelope(t, rec)
	var user UserResponse
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEmpty(t, user.ID)
	assert.NotContains(t, rec.Body.String(), "password", "no credential material in the response")
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register",
		RegisterRequest{Email: "alice@example.com", Password: "another password"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegister_DuplicateEmailDifferentCase(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/register",
		RegisterRequest{Email: "ALICE@Example.COM", Password: "another password"}, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "email uniqueness is case-insensitive")
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{"missing email", RegisterRequest{Password: "correct horse battery"}},
		{"bad email", RegisterRequest{Email: "nope", Password: "correct horse battery"}},
		{"short password", RegisterRequest{Email: "alice@example.com", Password: "short"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/auth/register", tc.req, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestRegister_RequiresJSONContentType(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", bytes.NewBufferString("email=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

// ============================================================================
// Login
// ============================================================================

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	tokens := f.login(t, "alice@example.com", "correct horse battery")
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), tokens.ExpiresIn)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	wrongPassword := f.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "alice@example.com", Password: "wrong password"}, "")
	unknownEmail := f.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "ghost@example.com", Password: "correct horse battery"}, "")

	assert.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	assert.Equal(t, http.StatusUnauthorized, unknownEmail.Code)

	// Identical bodies: the response must not reveal which factor failed.
	wp := decodeEnvelope(t, wrongPassword)
	ue := decodeEnvelope(t, unknownEmail)
	require.NotNil(t, wp.Error)
	require.NotNil(t, ue.Error)
	assert.Equal(t, wp.Error.Code, ue.Error.Code)
	assert.Equal(t, wp.Error.Message, ue.Error.Message)
}

func TestLogin_CaseInsensitiveEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	tokens := f.login(t, "Alice@EXAMPLE.com", "correct horse battery")
	assert.NotEmpty(t, tokens.AccessToken)
}

// ============================================================================
// Validate
// ============================================================================

func TestValidate_Success(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodGet, "/api/v1/auth/validate", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var resp ValidateResponse
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.NotEmpty(t, resp.UserID)
}

func TestValidate_UniformRejection(t *testing.T) {
	f := newFixture(t)

	for name, bearer := range map[string]string{
		"missing":   "",
		"malformed": "not-a-jwt",
		"forged":    "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiJ4In0.forged",
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/api/v1/auth/validate", nil, bearer)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			env := decodeEnvelope(t, rec)
			require.NotNil(t, env.Error)
			assert.Equal(t, "UNAUTHORIZED", env.Error.Code)
			assert.Equal(t, "unauthorized", env.Error.Message)
		})
	}
}

// ============================================================================
// Refresh
// ============================================================================

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var fresh TokenPairResponse
	require.NoError(t, json.Unmarshal(env.Data, &fresh))
	assert.NotEmpty(t, fresh.AccessToken)
	assert.NotEqual(t, tokens.RefreshToken, fresh.RefreshToken)
}

func TestRefresh_ReplayFails(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	first := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: tokens.RefreshToken}, "")
	require.Equal(t, http.StatusOK, first.Code)

	replay := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, replay.Code, "a refresh token is single-use")
}

func TestRefresh_UnknownToken(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: "never-issued"}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Logout
// ============================================================================

func TestLogout_TerminatesSession(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: tokens.RefreshToken}, tokens.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code)

	refresh := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: tokens.RefreshToken}, "")
	assert.Equal(t, http.StatusUnauthorized, refresh.Code)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	first := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: tokens.RefreshToken}, "")
	second := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: tokens.RefreshToken}, "")

	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, http.StatusNoContent, second.Code)
}

func TestLogout_OtherSessionsSurvive(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")

	sessionA := f.login(t, "alice@example.com", "correct horse battery")
	sessionB := f.login(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: sessionA.RefreshToken}, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	refreshB := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: sessionB.RefreshToken}, "")
	assert.Equal(t, http.StatusOK, refreshB.Code, "logout revokes one session only")
}

// ============================================================================
// Profile
// ============================================================================

func TestMe_Success(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	env := decodeEnvelope(t, rec)
	var user UserResponse
	require.NoError(t, json.Unmarshal(env.Data, &user))
	assert.Equal(t, "alice@example.com", user.Email)
}

func TestMe_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/users/me", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Change password
// ============================================================================

func TestChangePassword_RevokesAllSessions(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "old password 123")

	sessionA := f.login(t, "alice@example.com", "old password 123")
	sessionB := f.login(t, "alice@example.com", "old password 123")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "old password 123", NewPassword: "new password 456"},
		sessionA.AccessToken)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	// Both outstanding sessions die with the old credential.
	for _, tokens := range []TokenPairResponse{sessionA, sessionB} {
		refresh := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
			RefreshRequest{RefreshToken: tokens.RefreshToken}, "")
		assert.Equal(t, http.StatusUnauthorized, refresh.Code)
	}

	// The new password works, the old one does not.
	f.login(t, "alice@example.com", "new password 456")
	old := f.do(t, http.MethodPost, "/api/v1/auth/login",
		LoginRequest{Email: "alice@example.com", Password: "old password 123"}, "")
	assert.Equal(t, http.StatusUnauthorized, old.Code)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newFixture(t)
	f.register(t, "alice@example.com", "old password 123")
	tokens := f.login(t, "alice@example.com", "old password 123")

	rec := f.do(t, http.MethodPost, "/api/v1/auth/change-password",
		ChangePasswordRequest{CurrentPassword: "not the password", NewPassword: "new password 456"},
		tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// ============================================================================
// Full session lifecycle
// ============================================================================

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)

	// Register and log in.
	f.register(t, "alice@example.com", "correct horse battery")
	tokens := f.login(t, "alice@example.com", "correct horse battery")

	// Access token validates.
	rec := f.do(t, http.MethodGet, "/api/v1/auth/validate", nil, tokens.AccessToken)
	require.Equal(t, http.StatusOK, rec.Code)

	// Rotate the session a few times; each refresh token works exactly once.
	current := tokens.RefreshToken
	for i := 0; i < 3; i++ {
		rec := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
			RefreshRequest{RefreshToken: current}, "")
		require.Equal(t, http.StatusOK, rec.Code)

		env := decodeEnvelope(t, rec)
		var fresh TokenPairResponse
		require.NoError(t, json.Unmarshal(env.Data, &fresh))

		replay := f.do(t, http.MethodPost, "/api/v1/auth/refresh",
			RefreshRequest{RefreshToken: current}, "")
		require.Equal(t, http.StatusUnauthorized, replay.Code)

		current = fresh.RefreshToken
	}

	// Log out and confirm the session is dead.
	rec = f.do(t, http.MethodPost, "/api/v1/auth/logout",
		LogoutRequest{RefreshToken: current}, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/auth/refresh",
		RefreshRequest{RefreshToken: current}, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
