// Package scheduler держит отложенные действия сессий: уведомление перед стартом
// и финализацию в конце слота.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/keylock"
	"go.uber.org/zap"
)

const handlerTimeout = 30 * time.Second

// Handler получает срабатывания таймеров
type Handler interface {
	OnWindowOpen(ctx context.Context, sessionID string)
	OnFinalize(ctx context.Context, sessionID string)
}

type action int

const (
	actionPreOpen action = iota
	actionFinalize
)

func (a action) String() string {
	if a == actionPreOpen {
		return "pre_open"
	}
	return "finalize"
}

// entry взведённые таймеры одной сессии
type entry struct {
	generation uint64
	timers     map[action]clock.Timer
	startAt    time.Time
	endAt      time.Time
}

// Scheduler таймеры сессий. Arm/Disarm/Rearm единственные мутаторы
type Scheduler struct {
	clock       clock.Clock
	preOpenLead time.Duration
	logger      *zap.Logger
	locks       *keylock.Locker

	mu         sync.Mutex
	handler    Handler
	entries    map[string]*entry
	generation uint64
	stopped    bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(clk clock.Clock, preOpenLead time.Duration, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:       clk,
		preOpenLead: preOpenLead,
		logger:      logger,
		locks:       keylock.New(),
		entries:     make(map[string]*entry),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// SetHandler задаёт получателя срабатываний. Вызывается один раз при сборке приложения
func (s *Scheduler) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Arm заменяет таймеры сессии: pre-open в start-preOpenLead и finalize в end.
// Прошедшие моменты срабатывают сразу в отдельной горутине
func (s *Scheduler) Arm(sessionID string, start, end time.Time) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.arm(sessionID, start, end)

	s.logger.Info("Session timers armed",
		zap.String("session_id", sessionID),
		zap.Time("pre_open_at", start.Add(-s.preOpenLead)),
		zap.Time("finalize_at", end),
	)
}

// Disarm отменяет оба таймера сессии
func (s *Scheduler) Disarm(sessionID string) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	if s.disarm(sessionID) {
		s.logger.Info("Session timers disarmed", zap.String("session_id", sessionID))
	}
}

// Rearm то же, что Disarm и Arm, одним шагом
func (s *Scheduler) Rearm(sessionID string, start, end time.Time) {
	unlock := s.locks.Lock(sessionID)
	defer unlock()

	s.disarm(sessionID)
	s.arm(sessionID, start, end)

	s.logger.Info("Session timers rearmed",
		zap.String("session_id", sessionID),
		zap.Time("start_at", start),
		zap.Time("end_at", end),
	)
}

// Pending количество ещё не сработавших действий сессии
func (s *Scheduler) Pending(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return 0
	}
	return len(e.timers)
}

// Len количество сессий с взведёнными таймерами
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop отменяет все таймеры. После Stop новые Arm игнорируются
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, e := range s.entries {
		for _, t := range e.timers {
			t.Stop()
		}
		delete(s.entries, id)
	}
	s.mu.Unlock()

	s.cancel()
	s.logger.Info("Scheduler stopped")
}

// arm вызывается под замком сессии. Таймеры создаются под s.mu,
// срабатывание ждёт на s.mu и видит уже записанную запись
func (s *Scheduler) arm(sessionID string, start, end time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}

	if old, ok := s.entries[sessionID]; ok {
		for _, t := range old.timers {
			t.Stop()
		}
	}

	s.generation++
	e := &entry{
		generation: s.generation,
		timers:     make(map[action]clock.Timer, 2),
		startAt:    start,
		endAt:      end,
	}
	s.entries[sessionID] = e

	now := s.clock.Now()
	e.timers[actionPreOpen] = s.schedule(sessionID, e.generation, actionPreOpen, start.Add(-s.preOpenLead).Sub(now))
	e.timers[actionFinalize] = s.schedule(sessionID, e.generation, actionFinalize, end.Sub(now))
}

func (s *Scheduler) disarm(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[sessionID]
	if !ok {
		return false
	}
	for _, t := range e.timers {
		t.Stop()
	}
	delete(s.entries, sessionID)
	return true
}

func (s *Scheduler) schedule(sessionID string, generation uint64, a action, delay time.Duration) clock.Timer {
	if delay <= 0 {
		go s.fire(sessionID, generation, a)
		return firedTimer{}
	}
	return s.clock.AfterFunc(delay, func() {
		s.fire(sessionID, generation, a)
	})
}

// fire проверяет поколение: срабатывание после Rearm/Disarm отбрасывается
func (s *Scheduler) fire(sessionID string, generation uint64, a action) {
	s.mu.Lock()
	e, ok := s.entries[sessionID]
	if !ok || e.generation != generation || s.stopped {
		s.mu.Unlock()
		s.logger.Debug("Stale timer dropped",
			zap.String("session_id", sessionID),
			zap.Stringer("action", a))
		return
	}
	if _, pending := e.timers[a]; !pending {
		s.mu.Unlock()
		return
	}
	delete(e.timers, a)
	if len(e.timers) == 0 {
		delete(s.entries, sessionID)
	}
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.logger.Warn("Timer fired without handler",
			zap.String("session_id", sessionID),
			zap.Stringer("action", a))
		return
	}

	s.run(sessionID, a, handler)
}

func (s *Scheduler) run(sessionID string, a action, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Timer handler panicked",
				zap.String("session_id", sessionID),
				zap.Stringer("action", a),
				zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(s.ctx, handlerTimeout)
	defer cancel()

	s.logger.Debug("Timer fired",
		zap.String("session_id", sessionID),
		zap.Stringer("action", a))

	switch a {
	case actionPreOpen:
		handler.OnWindowOpen(ctx, sessionID)
	case actionFinalize:
		handler.OnFinalize(ctx, sessionID)
	}
}

// firedTimer заглушка для действий, запущенных сразу
type firedTimer struct{}

func (firedTimer) Stop() bool { return false }
