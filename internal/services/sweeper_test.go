package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarttransit/afc-backend/internal/config"
)

// stubExpirer fails listing failures times before returning ids. ExpireOne
// fails for ids in broken.
type stubExpirer struct {
	mu       sync.Mutex
	ids      []uuid.UUID
	broken   map[uuid.UUID]bool
	failures int
	lists    int
	expired  []uuid.UUID
}

func (s *stubExpirer) ExpiryCandidates(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	if s.lists <= s.failures {
		return nil, errors.New("connection reset")
	}
	return s.ids, nil
}

func (s *stubExpirer) ExpireOne(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.broken[id] {
		return false, errors.New("row locked")
	}
	s.expired = append(s.expired, id)
	return true, nil
}

func sweeperConfig() config.SweeperConfig {
	return config.SweeperConfig{
		BatchSize:      100,
		Workers:        4,
		RetryAttempts:  3,
		RetryBaseDelay: time.Second,
		RetryMaxDelay:  1500 * time.Millisecond,
	}
}

func newTestSweeper(jobs ...SweepJob) (*SweeperService, *[]time.Duration) {
	s := NewSweeperService(sweeperConfig(), quietLogger(), jobs...)
	s.now = fixedClock(testNow)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return s, &slept
}

// sweepAt runs one sweep over expirer as of now
func sweepAt(t *testing.T, expirer Expirer, now time.Time) int {
	t.Helper()
	s, _ := newTestSweeper(SweepJob{Name: "lifecycle", Schedule: "0 * * * * *", Expirer: expirer})
	s.now = fixedClock(now)
	n, err := s.RunOnce(context.Background(), "lifecycle")
	require.NoError(t, err)
	return n
}

func TestSweeper_RunOnceSkipsBrokenEntities(t *testing.T) {
	bad := uuid.New()
	expirer := &stubExpirer{
		ids:    []uuid.UUID{uuid.New(), bad, uuid.New()},
		broken: map[uuid.UUID]bool{bad: true},
	}
	s, _ := newTestSweeper(SweepJob{Name: "tickets", Schedule: "0 * * * * *", Expirer: expirer})

	n, err := s.RunOnce(context.Background(), "tickets")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, expirer.expired, 2)

	_, err = s.RunOnce(context.Background(), "parcels")
	assert.Error(t, err)
}

func TestSweeper_RunRetriesWithBackoff(t *testing.T) {
	expirer := &stubExpirer{ids: []uuid.UUID{uuid.New()}, failures: 2}
	job := SweepJob{Name: "payments", Schedule: "0 * * * * *", Expirer: expirer}
	s, slept := newTestSweeper(job)

	s.run(job)

	assert.Equal(t, 3, expirer.lists)
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond}, *slept)
	assert.Len(t, expirer.expired, 1)
}

func TestSweeper_RunGivesUpAfterRetryAttempts(t *testing.T) {
	expirer := &stubExpirer{failures: 10}
	job := SweepJob{Name: "bookings", Schedule: "0 * * * * *", Expirer: expirer}
	s, slept := newTestSweeper(job)

	s.run(job)

	assert.Equal(t, 3, expirer.lists)
	assert.Len(t, *slept, 2)
}

func TestSweeper_ExpiresBookingHolds(t *testing.T) {
	f := newBookingFixture(t)
	booking, err := f.svc.Create(context.Background(), uuid.New(), bookingRequest())
	require.NoError(t, err)

	s, _ := newTestSweeper(SweepJob{Name: "bookings", Schedule: "*/30 * * * * *", Expirer: f.svc})
	s.now = fixedClock(testNow.Add(time.Hour))

	n, err := s.RunOnce(context.Background(), "bookings")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, _ := f.bookings.GetByID(context.Background(), booking.ID)
	assert.True(t, stored.Status.IsTerminal())
}

func TestSweeper_StartRejectsBadSchedule(t *testing.T) {
	s, _ := newTestSweeper(SweepJob{Name: "tickets", Schedule: "every minute", Expirer: &stubExpirer{}})
	assert.Error(t, s.Start())

	ok, _ := newTestSweeper(SweepJob{Name: "tickets", Schedule: "0 */5 * * * *", Expirer: &stubExpirer{}})
	require.NoError(t, ok.Start())
	ok.Stop()
}
