package service

import (
	"context"
	"sync"
	"testing"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLedger(t *testing.T) (*AvailabilityLedger, *memory.SessionRepository, *memory.AvailabilityRepository) {
	t.Helper()
	sessions := memory.NewSessionRepository()
	avail := memory.NewAvailabilityRepository()
	return NewAvailabilityLedger(sessions, avail, clock.Fake(epoch), zap.NewNop()), sessions, avail
}

func TestSlotsMatch(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"11:30-12:00", "11:30-12:00", true},
		{"11:30", "11:30-12:00", true},
		{"11:30-12:00", "11:30", true},
		{"11:30 – 12:00", "11:30-12:00", true},
		{" 11:30—12:00 ", "11:30-12:00", true},
		// префиксное совпадение ловит и соседние времена
		{"11:3", "11:30", true},
		{"11:30", "12:00", false},
		{"11:30-12:00", "11:00-11:30", false},
		{"", "11:30", false},
		{"  ", "", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SlotsMatch(tt.a, tt.b), "%q vs %q", tt.a, tt.b)
	}
}

func TestTryClaimRemovesMatchingSlot(t *testing.T) {
	ctx := context.Background()
	ledger, _, avail := newTestLedger(t)

	claimed, ok, err := ledger.TryClaim(ctx, "vol", testDate, "11:30", "")
	require.NoError(t, err)
	assert.False(t, ok, "no availability for the day")
	assert.Empty(t, claimed)

	_, err = ledger.Replace(ctx, "vol", testDate, []string{"14:00-14:30", "11:30 – 12:00"})
	require.NoError(t, err)

	claimed, ok, err = ledger.TryClaim(ctx, "vol", testDate, "11:30", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "11:30 – 12:00", claimed)

	day, err := avail.Get(ctx, "vol", testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00-14:30"}, day.Slots)

	_, ok, err = ledger.TryClaim(ctx, "vol", testDate, "11:30-12:00", "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ledger.TryClaim(ctx, "vol", testDate, "", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTryClaimRefusesSlotHeldByActiveSession(t *testing.T) {
	ctx := context.Background()
	ledger, sessions, _ := newTestLedger(t)

	require.NoError(t, sessions.Create(ctx, &model.Session{
		ID:            "held",
		CounterpartID: "vol",
		Status:        model.SessionStatusScheduled,
		Final:         &model.FinalSlot{Date: testDate, TimeOrRange: "11:30", ClaimedSlot: testSlot},
	}))

	// слот вернули в доступность, но он всё ещё занят активной сессией
	_, err := ledger.Replace(ctx, "vol", testDate, []string{testSlot})
	require.NoError(t, err)

	_, ok, err := ledger.TryClaim(ctx, "vol", testDate, testSlot, "")
	require.NoError(t, err)
	assert.False(t, ok)

	available, err := ledger.IsAvailable(ctx, "vol", testDate, testSlot)
	require.NoError(t, err)
	assert.False(t, available)

	_, ok, err = ledger.TryClaim(ctx, "vol", testDate, testSlot, "held")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestConcurrentTryClaimSingleWinner(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)
	_, err := ledger.Replace(ctx, "vol", testDate, []string{testSlot})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := ledger.TryClaim(ctx, "vol", testDate, "11:30", "")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger, _, avail := newTestLedger(t)
	_, err := ledger.Replace(ctx, "vol", testDate, []string{"14:00-14:30"})
	require.NoError(t, err)

	ledger.Release(ctx, "vol", testDate, testSlot)
	ledger.Release(ctx, "vol", testDate, "11:30 - 12:00")
	ledger.Release(ctx, "vol", testDate, "")

	day, err := avail.Get(ctx, "vol", testDate)
	require.NoError(t, err)
	assert.Equal(t, []string{testSlot, "14:00-14:30"}, day.Slots)

	// день без доступности создаётся при возврате
	ledger.Release(ctx, "vol", "2025-10-10", "09:00")
	day, err = avail.Get(ctx, "vol", "2025-10-10")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00"}, day.Slots)
}

func TestToggleAndReplace(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)

	day, err := ledger.Replace(ctx, "vol", testDate, []string{"14:00", " 11:30 ", "11:30", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"11:30", "14:00"}, day.Slots)

	day, err = ledger.Toggle(ctx, "vol", testDate, "11:30")
	require.NoError(t, err)
	assert.Equal(t, []string{"14:00"}, day.Slots)

	day, err = ledger.Toggle(ctx, "vol", testDate, "09:00-09:30")
	require.NoError(t, err)
	assert.Equal(t, []string{"09:00-09:30", "14:00"}, day.Slots)
}

func TestUnsavedClaimBlocksOverlappingEncoding(t *testing.T) {
	ctx := context.Background()
	ledger, _, _ := newTestLedger(t)

	_, err := ledger.Replace(ctx, "vol", testDate, []string{"11:30", "11:30-12:00"})
	require.NoError(t, err)

	claimed, ok, err := ledger.TryClaim(ctx, "vol", testDate, "11:30", "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "11:30", claimed)

	// сессия "a" ещё не сохранена, но второй формат того же слота уже занят
	_, ok, err = ledger.TryClaim(ctx, "vol", testDate, "11:30-12:00", "b")
	require.NoError(t, err)
	assert.False(t, ok)

	available, err := ledger.IsAvailable(ctx, "vol", testDate, "11:30-12:00")
	require.NoError(t, err)
	assert.False(t, available)

	// своя отметка не мешает той же сессии
	_, ok, err = ledger.TryClaim(ctx, "vol", testDate, "11:30-12:00", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ledger.Settle("vol", testDate, "a")
	assert.Empty(t, ledger.holds)
}
