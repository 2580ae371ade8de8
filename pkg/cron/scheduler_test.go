package cron

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecoverer struct {
	mu    sync.Mutex
	calls []ReaperConfig
	err   error
}

func (f *fakeRecoverer) RecoverStale(_ context.Context, staleAfter time.Duration, maxAttempts, limit int) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ReaperConfig{StaleAfter: staleAfter, MaxAttempts: maxAttempts, BatchSize: limit})
	return 1, 0, f.err
}

func (f *fakeRecoverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScheduler_RunNowPassesConfig(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewScheduler(rec, ReaperConfig{Schedule: "@every 1h", StaleAfter: 30 * time.Minute, MaxAttempts: 3}, discardLogger())

	s.RunNow()

	require.Equal(t, 1, rec.count())
	assert.Equal(t, 30*time.Minute, rec.calls[0].StaleAfter)
	assert.Equal(t, 3, rec.calls[0].MaxAttempts)
	assert.Equal(t, 100, rec.calls[0].BatchSize)
}

func TestScheduler_RunNowSurvivesErrors(t *testing.T) {
	rec := &fakeRecoverer{err: errors.New("db down")}
	s := NewScheduler(rec, ReaperConfig{Schedule: "@every 1h"}, discardLogger())

	assert.NotPanics(t, s.RunNow)
	assert.Equal(t, 1, rec.count())
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeRecoverer{}, ReaperConfig{Schedule: "not a schedule"}, discardLogger())
	assert.Error(t, s.Start())
}

func TestScheduler_StartStop(t *testing.T) {
	rec := &fakeRecoverer{}
	s := NewScheduler(rec, ReaperConfig{Schedule: "@every 1s"}, discardLogger())

	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return rec.count() > 0 }, 3*time.Second, 50*time.Millisecond)
	<-s.Stop().Done()
}
