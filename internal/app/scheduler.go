package app

import (
	"context"
	"sync"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"go.uber.org/zap"
)

// SessionRecovery операции восстановления таймеров и добивания просроченных сессий
type SessionRecovery interface {
	RearmAll(ctx context.Context) (int, error)
	SweepOverdue(ctx context.Context) (int, error)
}

// MeetingPruner очистка давно завершённых встреч
type MeetingPruner interface {
	Prune(olderThan time.Duration) int
}

// Recovery фоновые задачи: взвод таймеров при старте и периодическая зачистка
type Recovery struct {
	sessions SessionRecovery
	meetings MeetingPruner
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewRecovery создаёт фоновые задачи. meetings может быть nil
func NewRecovery(sessions SessionRecovery, meetings MeetingPruner, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Recovery {
	return &Recovery{
		sessions: sessions,
		meetings: meetings,
		clock:    clk,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start взводит таймеры всех незавершённых сессий и запускает зачистку
func (r *Recovery) Start(ctx context.Context) {
	r.logger.Info("Starting background recovery", zap.Duration("interval", r.interval))

	armed, err := r.sessions.RearmAll(ctx)
	if err != nil {
		r.logger.Error("Failed to rearm sessions", zap.Error(err))
	} else {
		r.logger.Info("Session timers rearmed", zap.Int("count", armed))
	}

	// Просроченные за время простоя закрываем сразу, не дожидаясь тика
	r.sweep(ctx)

	go r.run(ctx)
}

// Stop останавливает фоновые задачи и ждёт завершения цикла
func (r *Recovery) Stop() {
	r.stopOnce.Do(func() {
		r.logger.Info("Stopping background recovery")
		close(r.stopChan)
	})
	<-r.done
}

func (r *Recovery) run(ctx context.Context) {
	defer close(r.done)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C():
			r.sweep(ctx)
		case <-r.stopChan:
			r.logger.Info("Recovery task stopped")
			return
		case <-ctx.Done():
			r.logger.Info("Recovery task cancelled")
			return
		}
	}
}

func (r *Recovery) sweep(ctx context.Context) {
	expired, err := r.sessions.SweepOverdue(ctx)
	if err != nil {
		r.logger.Error("Failed to sweep overdue sessions", zap.Error(err))
	} else if expired > 0 {
		r.logger.Info("Overdue sessions expired", zap.Int("count", expired))
	}

	if r.meetings != nil {
		if pruned := r.meetings.Prune(24 * time.Hour); pruned > 0 {
			r.logger.Debug("Ended meetings pruned", zap.Int("count", pruned))
		}
	}
}
