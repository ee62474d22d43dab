package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2025, 10, 9, 10, 0, 0, 0, time.UTC)

type call struct {
	action string
	id     string
	at     time.Time
}

type recordingHandler struct {
	mu    sync.Mutex
	clock clock.Clock
	calls []call
	panic bool
}

func (h *recordingHandler) OnWindowOpen(_ context.Context, id string) {
	h.record("open", id)
}

func (h *recordingHandler) OnFinalize(_ context.Context, id string) {
	h.record("finalize", id)
	if h.panic {
		panic("boom")
	}
}

func (h *recordingHandler) record(action, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call{action: action, id: id, at: h.clock.Now()})
}

func (h *recordingHandler) snapshot() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.calls...)
}

func newTestScheduler(t *testing.T) (*Scheduler, *clock.FakeClock, *recordingHandler) {
	t.Helper()
	clk := clock.Fake(epoch)
	s := New(clk, 10*time.Minute, zap.NewNop())
	h := &recordingHandler{clock: clk}
	s.SetHandler(h)
	t.Cleanup(s.Stop)
	return s, clk, h
}

func TestArmFiresPreOpenAndFinalize(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	start := epoch.Add(time.Hour)
	end := start.Add(30 * time.Minute)
	s.Arm("s1", start, end)
	require.Equal(t, 2, s.Pending("s1"))

	clk.Advance(49 * time.Minute)
	assert.Empty(t, h.snapshot())

	clk.Advance(time.Minute)
	calls := h.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "open", calls[0].action)
	assert.Equal(t, start.Add(-10*time.Minute), calls[0].at)
	assert.Equal(t, 1, s.Pending("s1"))

	clk.Advance(40 * time.Minute)
	calls = h.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "finalize", calls[1].action)
	assert.Equal(t, end, calls[1].at)
	assert.Zero(t, s.Pending("s1"))
	assert.Zero(t, s.Len())
}

func TestDisarmCancelsBothActions(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	s.Disarm("s1")

	assert.Zero(t, s.Pending("s1"))
	assert.Zero(t, clk.Pending())

	clk.Advance(3 * time.Hour)
	assert.Empty(t, h.snapshot())

	// повторный disarm ничего не ломает
	s.Disarm("s1")
}

func TestRearmReplacesTimers(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	newStart := epoch.Add(3 * time.Hour)
	s.Rearm("s1", newStart, newStart.Add(30*time.Minute))

	assert.Equal(t, 2, s.Pending("s1"))
	assert.Equal(t, 2, clk.Pending())

	clk.Advance(2 * time.Hour)
	assert.Empty(t, h.snapshot())

	clk.Advance(2 * time.Hour)
	calls := h.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, newStart.Add(-10*time.Minute), calls[0].at)
	assert.Equal(t, newStart.Add(30*time.Minute), calls[1].at)
}

func TestArmTwiceKeepsOnlyLatest(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	assert.Equal(t, 2, clk.Pending())

	clk.Advance(2 * time.Hour)
	assert.Len(t, h.snapshot(), 2)
}

func TestPastInstantsFireImmediately(t *testing.T) {
	s, _, h := newTestScheduler(t)

	s.Arm("late", epoch.Add(-time.Hour), epoch.Add(-30*time.Minute))

	require.Eventually(t, func() bool {
		return len(h.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	actions := map[string]bool{}
	for _, c := range h.snapshot() {
		actions[c.action] = true
		assert.Equal(t, "late", c.id)
	}
	assert.True(t, actions["open"])
	assert.True(t, actions["finalize"])
}

func TestPreOpenPassedFinalizeInFuture(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	start := epoch.Add(5 * time.Minute)
	s.Arm("s1", start, start.Add(30*time.Minute))

	require.Eventually(t, func() bool {
		return len(h.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "open", h.snapshot()[0].action)
	assert.Equal(t, 1, s.Pending("s1"))

	clk.Advance(time.Hour)
	assert.Len(t, h.snapshot(), 2)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	s, clk, h := newTestScheduler(t)
	h.panic = true

	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	s.Arm("s2", epoch.Add(2*time.Hour), epoch.Add(150*time.Minute))

	assert.NotPanics(t, func() { clk.Advance(3 * time.Hour) })
	assert.Len(t, h.snapshot(), 4)
}

func TestStopDropsEverything(t *testing.T) {
	s, clk, h := newTestScheduler(t)

	s.Arm("s1", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	s.Stop()
	assert.Zero(t, s.Len())

	s.Arm("s2", epoch.Add(time.Hour), epoch.Add(90*time.Minute))
	assert.Zero(t, s.Len())

	clk.Advance(3 * time.Hour)
	assert.Empty(t, h.snapshot())
}
