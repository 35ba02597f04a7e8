package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/telemetry"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type recordingPurger struct {
	mu    sync.Mutex
	calls []time.Time
	n     int64
	err   error
}

func (p *recordingPurger) DeleteExpiredVerificationTokens(_ context.Context, now time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, now)
	return p.n, p.err
}

func (p *recordingPurger) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewVerificationTokenCleaner_DefaultInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Minute} {
		c := NewVerificationTokenCleaner(&recordingPurger{}, interval)
		if c.interval != time.Hour {
			t.Errorf("interval(%v) = %v, want 1h", interval, c.interval)
		}
	}
	c := NewVerificationTokenCleaner(&recordingPurger{}, 10*time.Minute)
	if c.interval != 10*time.Minute {
		t.Errorf("interval = %v, want 10m", c.interval)
	}
}

// ---------------------------------------------------------------------------
// Start / Stop lifecycle
// ---------------------------------------------------------------------------

func TestVerificationTokenCleaner_RunsImmediatelyAndStops(t *testing.T) {
	p := &recordingPurger{}
	c := NewVerificationTokenCleaner(p, time.Hour)

	done := make(chan struct{})
	go func() {
		c.Start(context.Background())
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for p.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("cleaner did not run on start")
		case <-time.After(5 * time.Millisecond):
		}
	}

	c.Stop()
	c.Stop()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestVerificationTokenCleaner_ContextCancel(t *testing.T) {
	c := NewVerificationTokenCleaner(&recordingPurger{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancel")
	}
}

// ---------------------------------------------------------------------------
// runOnce
// ---------------------------------------------------------------------------

func TestRunOnce_CountsPurgedTokens(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	p := &recordingPurger{n: 4}
	c := NewVerificationTokenCleaner(p, time.Hour)
	c.now = func() time.Time { return fixed }

	before := testutil.ToFloat64(telemetry.VerificationTokensPurgedTotal)
	c.runOnce(context.Background())

	if got := testutil.ToFloat64(telemetry.VerificationTokensPurgedTotal) - before; got != 4 {
		t.Errorf("purged counter delta = %v, want 4", got)
	}
	if len(p.calls) != 1 || !p.calls[0].Equal(fixed) {
		t.Errorf("calls = %v, want one call at %v", p.calls, fixed)
	}
}

func TestRunOnce_ErrorIsLoggedOnly(t *testing.T) {
	p := &recordingPurger{err: errors.New("db down")}
	c := NewVerificationTokenCleaner(p, time.Hour)

	before := testutil.ToFloat64(telemetry.VerificationTokensPurgedTotal)
	c.runOnce(context.Background())
	if got := testutil.ToFloat64(telemetry.VerificationTokensPurgedTotal) - before; got != 0 {
		t.Errorf("purged counter delta = %v, want 0", got)
	}
}

func TestRunOnce_WithUserRepository(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM verification_tokens WHERE expires_at").
		WillReturnResult(sqlmock.NewResult(0, 2))

	repo := repositories.NewUserRepository(sqlx.NewDb(db, "postgres"))
	NewVerificationTokenCleaner(repo, time.Hour).runOnce(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
