package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock детерминированные часы для тестов. Время двигается только через Advance.
// Колбэки AfterFunc вызываются синхронно внутри Advance, без удержания блокировки,
// поэтому из них можно снова планировать и отменять таймеры.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	callback func()
	ticks    chan time.Time
	interval time.Duration
	stopped  bool
	fired    bool
}

// Fake создаёт часы, остановленные на initial
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial}
}

// Now возвращает текущее фейковое время
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// AfterFunc регистрирует колбэк. При d <= 0 колбэк выполняется сразу
func (c *FakeClock) AfterFunc(d time.Duration, f func()) Timer {
	if d <= 0 {
		f()
		return &fakeTimer{clock: c, waiter: &fakeWaiter{fired: true}}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{deadline: c.current.Add(d), callback: f}
	c.waiters = append(c.waiters, w)
	return &fakeTimer{clock: c, waiter: w}
}

// NewTicker создаёт тикер, который срабатывает при Advance
func (c *FakeClock) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{
		deadline: c.current.Add(d),
		ticks:    make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	return &fakeTicker{clock: c, waiter: w}
}

// Advance сдвигает время на d и срабатывает все просроченные ожидания по порядку дедлайнов
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		next := c.nextDueLocked(target)
		if next == nil {
			break
		}

		c.current = next.deadline
		if next.interval > 0 {
			select {
			case next.ticks <- next.deadline:
			default:
			}
			next.deadline = next.deadline.Add(next.interval)
			continue
		}

		next.fired = true
		callback := next.callback
		c.mu.Unlock()
		callback()
		c.mu.Lock()
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// Set переводит часы на конкретный момент (только вперёд)
func (c *FakeClock) Set(t time.Time) {
	now := c.Now()
	if t.After(now) {
		c.Advance(t.Sub(now))
	}
}

// Pending возвращает число активных одноразовых таймеров
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.waiters {
		if w.interval == 0 && !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// Tickers возвращает число активных тикеров
func (c *FakeClock) Tickers() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.waiters {
		if w.interval > 0 && !w.stopped {
			n++
		}
	}
	return n
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeWaiter {
	var due []*fakeWaiter
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		if !w.deadline.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].deadline.Before(due[j].deadline)
	})
	return due[0]
}

func (c *FakeClock) compactLocked() {
	alive := c.waiters[:0]
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		alive = append(alive, w)
	}
	c.waiters = alive
}

type fakeTimer struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.waiter.stopped || t.waiter.fired {
		return false
	}
	t.waiter.stopped = true
	return true
}

type fakeTicker struct {
	clock  *FakeClock
	waiter *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.waiter.ticks }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.waiter.stopped = true
}
