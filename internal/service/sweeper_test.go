package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
)

func TestSweeper_DeletesOnTick(t *testing.T) {
	repo := &mockRefreshTokenRepository{}
	repo.On("DeleteExpired", mock.Anything).Return(int64(3), nil)

	s := NewSweeper(repo, 10*time.Millisecond, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	repo.AssertCalled(t, "DeleteExpired", mock.Anything)
}

func TestSweeper_SurvivesStoreErrors(t *testing.T) {
	repo := &mockRefreshTokenRepository{}
	repo.On("DeleteExpired", mock.Anything).Return(int64(0), errors.New("connection refused"))

	s := NewSweeper(repo, 10*time.Millisecond, newTestLogger())

	// Run must keep ticking through failures and return only on cancel.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	repo.AssertCalled(t, "DeleteExpired", mock.Anything)
}

func TestSweeper_StopsOnCancel(t *testing.T) {
	repo := &mockRefreshTokenRepository{}
	repo.On("DeleteExpired", mock.Anything).Return(int64(0), nil)

	s := NewSweeper(repo, time.Hour, newTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	repo.AssertNotCalled(t, "DeleteExpired")
}
