package service

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"go.uber.org/zap"
)

// OnWindowOpen срабатывает перед стартом: готовит встречу и уведомляет участников
func (s *SessionService) OnWindowOpen(ctx context.Context, id string) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load session for window open", zap.String("session_id", id), zap.Error(err))
		return
	}
	if sess == nil || sess.Status.IsTerminal() || sess.Final == nil {
		return
	}

	payload := sessionPayload(sess)

	meeting, _, err := s.ensureMeeting(ctx, id)
	if err != nil {
		s.logger.Warn("Failed to prepare meeting before start", zap.String("session_id", id), zap.Error(err))
	} else {
		payload["join_url"] = meeting.JoinURL
	}

	effects := notifyBoth(sess, NotifySessionStarting, payload)
	effects = append(effects, publishBoth(sess, EventSessionStarting)...)
	s.dispatch(ctx, effects)

	s.logger.Info("Session window opened", zap.String("session_id", id))
}

// OnFinalize срабатывает в конце слота. Статус перепроверяется под замком внутри ForceExpire
func (s *SessionService) OnFinalize(ctx context.Context, id string) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load session for finalize", zap.String("session_id", id), zap.Error(err))
		return
	}
	if sess == nil || sess.Status.IsTerminal() {
		return
	}

	expirable := sess.Status == model.SessionStatusScheduled || sess.Status == model.SessionStatusAccepted
	if expirable && !sess.Attendance.AnyoneJoined() {
		if _, err := s.ForceExpire(ctx, model.SystemCaller(), id); err != nil {
			s.logger.Warn("Failed to expire session", zap.String("session_id", id), zap.Error(err))
		}
		return
	}

	// Кто-то пришёл: статус закроет учёт присутствия, встречу завершаем
	s.dispatch(ctx, endMeetingEffects(sess))
}

// RearmAll восстанавливает таймеры после рестарта. Прошедшие моменты сработают сразу
func (s *SessionService) RearmAll(ctx context.Context) (int, error) {
	sessions, err := s.sessions.GetUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("get unfinished sessions: %w", err)
	}

	armed := 0
	for _, sess := range sessions {
		if sess.Final == nil || sess.Status.IsTerminal() {
			continue
		}
		s.timers.Arm(sess.ID, sess.Final.StartAt, sess.Final.EndAt)
		armed++
	}

	s.logger.Info("Session timers restored", zap.Int("count", armed))
	return armed, nil
}

// SweepOverdue завершает сессии, у которых окно входа (конец плюс grace) закрылось,
// а finalize не отработал
func (s *SessionService) SweepOverdue(ctx context.Context) (int, error) {
	sessions, err := s.sessions.GetUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("get unfinished sessions: %w", err)
	}

	now := s.clock.Now()
	expired := 0
	for _, sess := range sessions {
		if sess.Final == nil || sess.Attendance.AnyoneJoined() || !now.After(s.policy.JoinClosesAt(sess.Final.EndAt)) {
			continue
		}
		if sess.Status != model.SessionStatusScheduled && sess.Status != model.SessionStatusAccepted {
			continue
		}

		out, err := s.ForceExpire(ctx, model.SystemCaller(), sess.ID)
		if err != nil {
			s.logger.Warn("Sweep failed to expire session", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		if out.Session.Status == model.SessionStatusExpired {
			expired++
		}
	}

	if expired > 0 {
		s.logger.Info("Overdue sessions expired", zap.Int("count", expired))
	}
	return expired, nil
}
