package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/amandeep-boot/simple-auth-file-microservices/internal/repository"
)

// Sweeper periodically deletes expired refresh token records. It reclaims
// storage only: expiry is enforced at read time by the store queries, so a
// delayed or skipped sweep never extends a session.
type Sweeper struct {
	repo     repository.RefreshTokenRepository
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper that runs at the given interval.
func NewSweeper(repo repository.RefreshTokenRepository, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		repo:     repo,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled. It is intended to run in its own
// goroutine for the lifetime of the process.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("refresh token sweeper started",
		slog.Duration("interval", s.interval),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh token sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	deleted, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "sweep failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "swept expired refresh tokens",
			slog.Int64("deleted", deleted),
		)
	}
}
