// Package service implements the session protocol: registration, login,
// token refresh with rotation, logout, and access token validation. All
// shared mutable state lives in the stores; correctness under concurrency
// rests on their atomic operations, not on in-process locks.
package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/denylist"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/domain"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/event"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/repository"
	"github.com/amandeep-boot/simple-auth-file-microservices/internal/token"
	apperrors "github.com/amandeep-boot/simple-auth-file-microservices/pkg/errors"
)

// minPasswordLength is the minimum password length required.
const minPasswordLength = 8

// invalidCredentialMsg is the single message for every login failure so the
// response never reveals whether the email or the password was wrong.
const invalidCredentialMsg = "invalid email or password"

// invalidRefreshMsg is the single message for every refresh failure: missing,
// expired, and already-consumed tokens are indistinguishable to the caller.
const invalidRefreshMsg = "invalid or expired refresh token"

// AuthService implements the business logic for auth operations.
type AuthService struct {
	userRepo    repository.UserRepository
	refreshRepo repository.RefreshTokenRepository
	tokens      *token.Manager
	deny        denylist.Denylist
	producer    *event.Producer
	logger      *slog.Logger
	bcryptCost  int
}

// NewAuthService creates a new auth service. deny may be nil, in which case
// access token validation is fully stateless.
func NewAuthService(
	userRepo repository.UserRepository,
	refreshRepo repository.RefreshTokenRepository,
	tokens *token.Manager,
	deny denylist.Denylist,
	producer *event.Producer,
	logger *slog.Logger,
	bcryptCost int,
) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		refreshRepo: refreshRepo,
		tokens:      tokens,
		deny:        deny,
		producer:    producer,
		logger:      logger,
		bcryptCost:  bcryptCost,
	}
}

// AccessTTL returns the validity window of minted access tokens.
func (s *AuthService) AccessTTL() time.Duration {
	return s.tokens.AccessTTL()
}

// Register creates a new user account with a bcrypt-hashed password.
func (s *AuthService) Register(ctx context.Context, email, password string) (*domain.User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		PasswordHash: string(hashed),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.withRetry(ctx, func() error {
		return s.userRepo.Create(ctx, user)
	}); err != nil {
		return nil, storeErr(err)
	}

	// Publish registration event (non-blocking on failure).
	if s.producer != nil {
		if err := s.producer.PublishUserRegistered(ctx, user); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.registered event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
	)

	return user, nil
}

// Login authenticates a user and mints a new access/refresh pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, *domain.TokenPair, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, nil, apperrors.Unauthorized(invalidCredentialMsg)
	}
	if password == "" {
		return nil, nil, apperrors.Unauthorized(invalidCredentialMsg)
	}

	var user *domain.User
	if err := s.withRetry(ctx, func() error {
		var err error
		user, err = s.userRepo.GetByEmail(ctx, email)
		return err
	}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil, apperrors.Unauthorized(invalidCredentialMsg)
		}
		return nil, nil, storeErr(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperrors.Unauthorized(invalidCredentialMsg)
	}

	pair, err := s.issuePair(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
	)

	return user, pair, nil
}

// Refresh rotates a session: the presented refresh token is consumed
// atomically and a fresh pair is issued. A replayed, expired, or unknown
// token fails terminally and the caller must log in again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, apperrors.Unauthorized(invalidRefreshMsg)
	}

	var userID string
	if err := s.withRetry(ctx, func() error {
		var err error
		userID, err = s.refreshRepo.Consume(ctx, token.Hash(refreshToken))
		return err
	}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized(invalidRefreshMsg)
		}
		return nil, storeErr(err)
	}

	pair, err := s.issuePair(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "session refreshed",
		slog.String("user_id", userID),
	)

	return pair, nil
}

// Logout terminates one session by revoking its refresh token. Other
// sessions of the same user are untouched. When a denylist is configured
// and the caller presented its access token, that token is denylisted for
// its remaining lifetime; otherwise it simply dies at its own expiry.
// Logout is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken, accessToken string) error {
	if refreshToken != "" {
		if err := s.withRetry(ctx, func() error {
			return s.refreshRepo.Revoke(ctx, token.Hash(refreshToken))
		}); err != nil {
			return storeErr(err)
		}
	}

	if s.deny != nil && accessToken != "" {
		if claims, err := s.tokens.VerifyAccess(accessToken); err == nil {
			ttl := time.Until(claims.ExpiresAt.Time)
			if err := s.deny.Add(ctx, claims.ID, ttl); err != nil {
				s.logger.ErrorContext(ctx, "failed to denylist access token",
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return nil
}

// Validate verifies an access token and returns the user ID it asserts.
// It is a pure read: no session state changes and, unless a denylist is
// configured, no store is consulted. Externally every failure is the same
// unauthorized error; the concrete reason is logged for diagnostics only.
func (s *AuthService) Validate(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.tokens.VerifyAccess(accessToken)
	if err != nil {
		s.logger.DebugContext(ctx, "access token rejected",
			slog.String("reason", err.Error()),
		)
		return "", apperrors.Unauthorized("unauthorized")
	}

	if s.deny != nil {
		revoked, err := s.deny.Contains(ctx, claims.ID)
		if err != nil {
			// Fail closed: an unreachable denylist never grants access.
			s.logger.ErrorContext(ctx, "denylist lookup failed, denying",
				slog.String("error", err.Error()),
			)
			return "", apperrors.Unauthorized("unauthorized")
		}
		if revoked {
			return "", apperrors.Unauthorized("unauthorized")
		}
	}

	return claims.UserID(), nil
}

// Profile retrieves the authenticated user's record. Identity attributes
// live in the store, not in token claims, so profile reads stay current.
func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	var user *domain.User
	if err := s.withRetry(ctx, func() error {
		var err error
		user, err = s.userRepo.GetByID(ctx, userID)
		return err
	}); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("user", userID)
		}
		return nil, storeErr(err)
	}
	return user, nil
}

// ChangePassword rotates the user's credential and terminates every
// outstanding session so stolen refresh tokens die with the old password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	if currentPassword == newPassword {
		return apperrors.InvalidInput("new password must be different from current password")
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.Unauthorized("unauthorized")
		}
		return storeErr(err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apperrors.Unauthorized("current password is incorrect")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return apperrors.Internal(err)
	}

	if err := s.userRepo.UpdatePassword(ctx, userID, string(hashed)); err != nil {
		return storeErr(err)
	}

	if err := s.refreshRepo.RevokeAllForUser(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to revoke sessions after password change",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	if s.producer != nil {
		if err := s.producer.PublishUserPasswordChanged(ctx, userID); err != nil {
			s.logger.ErrorContext(ctx, "failed to publish user.password_changed event",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "password changed",
		slog.String("user_id", userID),
	)

	return nil
}

// issuePair mints an access token and a fresh refresh token and records the
// refresh token hash in the ledger. A hash collision on insert (vanishingly
// unlikely) is resolved by generating a new value once.
func (s *AuthService) issuePair(ctx context.Context, userID string) (*domain.TokenPair, error) {
	accessToken, err := s.tokens.IssueAccess(userID)
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	expiresAt := time.Now().UTC().Add(s.tokens.RefreshTTL())

	for attempt := 0; attempt < 2; attempt++ {
		refreshToken, err := s.tokens.NewRefreshValue()
		if err != nil {
			return nil, apperrors.Internal(err)
		}

		err = s.refreshRepo.Create(ctx, userID, token.Hash(refreshToken), expiresAt)
		if err == nil {
			return &domain.TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
		}
		if !errors.Is(err, apperrors.ErrAlreadyExists) {
			return nil, storeErr(err)
		}
	}

	return nil, apperrors.Internal(errors.New("refresh token collision"))
}

// withRetry runs op, retrying once on errors that are not application errors.
// Application errors (not found, conflict) are deterministic and final.
func (s *AuthService) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) || errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if ctx.Err() != nil {
		return err
	}

	s.logger.WarnContext(ctx, "store operation failed, retrying once",
		slog.String("error", err.Error()),
	)
	return op()
}

// storeErr maps a store failure to its external form: application errors
// pass through, everything else becomes 503 so callers fail closed and may
// retry with backoff.
func storeErr(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.ServiceUnavailable(err)
}

// normalizeEmail lowercases, trims, and syntactically validates an email
// address. Uniqueness is case-insensitive because the normalized form is
// what the store indexes.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperrors.InvalidInput("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", apperrors.InvalidInput("email is not valid")
	}
	return email, nil
}

// validatePassword checks the minimum length policy.
func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apperrors.InvalidInput("password must be at least 8 characters")
	}
	return nil
}
