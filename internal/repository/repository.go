package repository

import (
	"context"
	"time"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/domain"
)

// UserRepository defines the interface for identity persistence operations.
type UserRepository interface {
	// Create inserts a new user. Email uniqueness is enforced by the store
	// as an atomic check-and-insert; a duplicate fails and never overwrites.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their case-normalized email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// UpdatePassword replaces the stored password hash for the user.
	// Identities are otherwise immutable after registration.
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// RefreshTokenRepository defines the interface for the refresh token ledger.
// It is the source of truth for session lifetime: a record past its expiry
// is logically absent regardless of sweep timing.
type RefreshTokenRepository interface {
	// Create stores a new refresh token hash for one session.
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error

	// Consume atomically removes an unexpired token record and returns the
	// owning user ID. A missing, expired, or already-consumed token fails
	// identically, so concurrent refreshes of the same token resolve to
	// exactly one winner.
	Consume(ctx context.Context, tokenHash string) (string, error)

	// Revoke deletes one session's record. Other sessions of the same user
	// are unaffected. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, tokenHash string) error

	// RevokeAllForUser deletes every session record for the user.
	RevokeAllForUser(ctx context.Context, userID string) error

	// DeleteExpired removes records past their expiry and reports how many.
	// It is an optimization only; Consume never returns expired records.
	DeleteExpired(ctx context.Context) (int64, error)
}
