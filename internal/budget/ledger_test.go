package budget

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	return &Config{
		DefaultDailyBudget: 100.0,
		DefaultTotalBudget: 1000.0,
		AlertThreshold:     0.8,
		ReservationTTL:     5 * time.Minute,
	}
}

func TestReserveAndConfirm(t *testing.T) {
	l := NewLedger(testConfig())

	resID, err := l.Reserve("camp-1", "imp-1", 10.0)
	require.NoError(t, err)
	require.NotEmpty(t, resID)

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.Reserved)
	assert.Equal(t, 90.0, snap.Available)
	assert.Equal(t, 0.0, snap.DailySpent)

	require.NoError(t, l.Confirm(resID, 7.5))

	snap, err = l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.Reserved)
	assert.Equal(t, 7.5, snap.DailySpent)
	assert.Equal(t, 7.5, snap.TotalSpent)
	assert.Equal(t, 92.5, snap.Available)
}

func TestReserveInsufficientBudget(t *testing.T) {
	l := NewLedger(testConfig())

	_, err := l.Reserve("camp-1", "imp-1", 100.01)
	assert.ErrorIs(t, err, ErrInsufficientBudget)

	_, err = l.Reserve("camp-1", "imp-1", 0)
	assert.ErrorIs(t, err, ErrInsufficientBudget)

	// Reservations count against headroom
	_, err = l.Reserve("camp-1", "imp-1", 60.0)
	require.NoError(t, err)
	_, err = l.Reserve("camp-1", "imp-2", 60.0)
	assert.ErrorIs(t, err, ErrInsufficientBudget)
}

func TestConfirmChargesAtMostReserved(t *testing.T) {
	l := NewLedger(testConfig())

	resID, err := l.Reserve("camp-1", "imp-1", 10.0)
	require.NoError(t, err)

	// Clearing price above the reservation is capped
	require.NoError(t, l.Confirm(resID, 25.0))

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.DailySpent)
}

func TestSettleExactlyOnce(t *testing.T) {
	l := NewLedger(testConfig())

	resID, err := l.Reserve("camp-1", "imp-1", 10.0)
	require.NoError(t, err)

	require.NoError(t, l.Confirm(resID, 10.0))
	assert.ErrorIs(t, l.Confirm(resID, 10.0), ErrUnknownReservation)
	assert.ErrorIs(t, l.Release(resID), ErrUnknownReservation)

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, snap.TotalSpent)
}

func TestReleaseRestoresHeadroom(t *testing.T) {
	l := NewLedger(testConfig())

	resID, err := l.Reserve("camp-1", "imp-1", 40.0)
	require.NoError(t, err)
	require.NoError(t, l.Release(resID))

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.Reserved)
	assert.Equal(t, 100.0, snap.Available)
	assert.Equal(t, 0.0, snap.DailySpent)
}

func TestConcurrentReservationsNeverOverspend(t *testing.T) {
	l := NewLedger(testConfig())

	// 200 workers racing for 100.0 of daily headroom in 5.0 chunks;
	// at most 20 can win.
	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if resID, err := l.Reserve("camp-1", "imp", 5.0); err == nil {
				granted.Add(1)
				_ = l.Confirm(resID, 5.0)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), granted.Load())

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.DailySpent)
	assert.Equal(t, 0.0, snap.Reserved)
	assert.GreaterOrEqual(t, snap.Available, 0.0)
}

func TestCleanupExpiredRestoresBudget(t *testing.T) {
	l := NewLedger(testConfig())

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	resID, err := l.Reserve("camp-1", "imp-1", 30.0)
	require.NoError(t, err)

	// Not yet expired
	now = now.Add(4 * time.Minute)
	assert.Equal(t, 0, l.CleanupExpired())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, l.CleanupExpired())

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.Reserved)
	assert.Equal(t, 100.0, snap.Available)

	// The expired reservation can no longer be settled
	assert.ErrorIs(t, l.Confirm(resID, 30.0), ErrUnknownReservation)
}

func TestDailyRollover(t *testing.T) {
	l := NewLedger(testConfig())

	now := time.Date(2025, 6, 1, 23, 50, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	resID, err := l.Reserve("camp-1", "imp-1", 80.0)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(resID, 80.0))

	assert.False(t, l.Check("camp-1", 30.0))

	// Crossing midnight UTC resets daily spend but not total spend
	now = now.Add(20 * time.Minute)
	assert.True(t, l.Check("camp-1", 30.0))

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, snap.DailySpent)
	assert.Equal(t, 80.0, snap.TotalSpent)
}

func TestTotalBudgetOutlivesRollover(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultDailyBudget = 1000.0
	cfg.DefaultTotalBudget = 100.0
	l := NewLedger(cfg)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time { return now })

	resID, err := l.Reserve("camp-1", "imp-1", 100.0)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(resID, 100.0))

	now = now.Add(48 * time.Hour)
	assert.False(t, l.Check("camp-1", 1.0))
}

func TestSetCampaignBudget(t *testing.T) {
	l := NewLedger(testConfig())

	l.SetCampaignBudget("camp-1", 500.0, 5000.0)
	assert.True(t, l.Check("camp-1", 400.0))

	snap, err := l.Snapshot("camp-1")
	require.NoError(t, err)
	assert.Equal(t, 500.0, snap.DailyBudget)
	assert.Equal(t, 5000.0, snap.TotalBudget)
}

func TestAlertFiresOnceAtThreshold(t *testing.T) {
	l := NewLedger(testConfig())

	var mu sync.Mutex
	var alerts []string
	l.SetAlertFunc(func(campaignID, kind string, spent, budget float64) {
		mu.Lock()
		alerts = append(alerts, campaignID+"/"+kind)
		mu.Unlock()
	})

	// 80 of 100 daily crosses the 0.8 threshold
	resID, err := l.Reserve("camp-1", "imp-1", 80.0)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(resID, 80.0))

	// Further spend does not re-alert for the same period
	resID, err = l.Reserve("camp-1", "imp-2", 10.0)
	require.NoError(t, err)
	require.NoError(t, l.Confirm(resID, 10.0))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"camp-1/daily"}, alerts)
}

func TestSnapshotUnknownCampaign(t *testing.T) {
	l := NewLedger(testConfig())
	_, err := l.Snapshot("nope")
	assert.ErrorIs(t, err, ErrUnknownCampaign)
}

func TestStats(t *testing.T) {
	l := NewLedger(testConfig())

	a, err := l.Reserve("camp-1", "imp-1", 10.0)
	require.NoError(t, err)
	b, err := l.Reserve("camp-2", "imp-2", 10.0)
	require.NoError(t, err)

	require.NoError(t, l.Confirm(a, 10.0))
	require.NoError(t, l.Release(b))

	stats := l.Stats()
	assert.Equal(t, 2, stats["campaignsTracked"])
	assert.Equal(t, 0, stats["pendingReservations"])
	assert.Equal(t, int64(2), stats["reservationsCreated"])
	assert.Equal(t, int64(1), stats["reservationsConfirmed"])
	assert.Equal(t, int64(1), stats["reservationsReleased"])
}
