package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"go.uber.org/zap"
)

// Типы уведомлений
const (
	NotifySessionRequest    = "session_request"
	NotifySessionUpdate     = "session_update"
	NotifyRescheduleRequest = "session_reschedule_request"
	NotifySessionCancelled  = "session_cancelled"
	NotifySessionStarting   = "session_starting"
	NotifyMeetingLinkReady  = "meeting_link_ready"
	NotifySessionExpired    = "session_expired"
	NotifySessionCompleted  = "session_completed"
)

// События шины
const (
	EventSessionCreated   = "session:created"
	EventSessionUpdated   = "session:updated"
	EventSessionScheduled = "session:scheduled"
	EventSessionRejected  = "session:rejected"
	EventSessionCancelled = "session:cancelled"
	EventSessionPresence  = "session:presence"
	EventSessionStarting  = "session:starting"
	EventSessionExpired   = "session:expired"
	EventSessionCompleted = "session:completed"
)

type EffectKind int

const (
	EffectNotify EffectKind = iota
	EffectPublish
	EffectArm
	EffectRearm
	EffectDisarm
	EffectRelease
	EffectEndMeeting
)

func (k EffectKind) String() string {
	switch k {
	case EffectNotify:
		return "notify"
	case EffectPublish:
		return "publish"
	case EffectArm:
		return "arm"
	case EffectRearm:
		return "rearm"
	case EffectDisarm:
		return "disarm"
	case EffectRelease:
		return "release"
	case EffectEndMeeting:
		return "end_meeting"
	}
	return "unknown"
}

// Effect побочное действие, выполняемое после сохранения перехода
type Effect struct {
	Kind      EffectKind
	SessionID string
	UserID    string
	Name      string // тип уведомления или имя события
	Payload   map[string]any
	StartAt   time.Time
	EndAt     time.Time
	OwnerID   string
	Date      string
	Slot      string
	MeetingID string
}

func notifyEffect(userID, kind string, payload map[string]any) Effect {
	return Effect{Kind: EffectNotify, UserID: userID, Name: kind, Payload: payload}
}

func armEffect(sessionID string, start, end time.Time) Effect {
	return Effect{Kind: EffectArm, SessionID: sessionID, StartAt: start, EndAt: end}
}

func rearmEffect(sessionID string, start, end time.Time) Effect {
	return Effect{Kind: EffectRearm, SessionID: sessionID, StartAt: start, EndAt: end}
}

func disarmEffect(sessionID string) Effect {
	return Effect{Kind: EffectDisarm, SessionID: sessionID}
}

func releaseEffect(ownerID, date, slot string) Effect {
	return Effect{Kind: EffectRelease, OwnerID: ownerID, Date: date, Slot: slot}
}

// endMeetingEffects пусто, если встречи нет
func endMeetingEffects(sess *model.Session) []Effect {
	if sess.Final == nil || sess.Final.Meeting == nil || sess.Final.Meeting.MeetingID == "" {
		return nil
	}
	return []Effect{{Kind: EffectEndMeeting, SessionID: sess.ID, MeetingID: sess.Final.Meeting.MeetingID}}
}

// publishBoth событие обоим участникам
func publishBoth(sess *model.Session, event string) []Effect {
	payload := map[string]any{
		"session_id": sess.ID,
		"status":     string(sess.Status),
		"session":    sess.Clone(),
	}
	return []Effect{
		{Kind: EffectPublish, UserID: sess.RequesterID, Name: event, Payload: payload},
		{Kind: EffectPublish, UserID: sess.CounterpartID, Name: event, Payload: payload},
	}
}

// notifyBoth уведомление обоим участникам
func notifyBoth(sess *model.Session, kind string, payload map[string]any) []Effect {
	return []Effect{
		notifyEffect(sess.RequesterID, kind, payload),
		notifyEffect(sess.CounterpartID, kind, payload),
	}
}

// dispatch выполняет эффекты после коммита. Ошибки только логируются
func (s *SessionService) dispatch(ctx context.Context, effects []Effect) {
	for _, e := range effects {
		switch e.Kind {
		case EffectRelease:
			s.ledger.Release(ctx, e.OwnerID, e.Date, e.Slot)
		case EffectArm:
			s.timers.Arm(e.SessionID, e.StartAt, e.EndAt)
		case EffectRearm:
			s.timers.Rearm(e.SessionID, e.StartAt, e.EndAt)
		case EffectDisarm:
			s.timers.Disarm(e.SessionID)
		case EffectEndMeeting:
			if err := s.meetings.End(ctx, e.MeetingID); err != nil {
				s.logger.Warn("Failed to end meeting",
					zap.String("session_id", e.SessionID),
					zap.String("meeting_id", e.MeetingID),
					zap.Error(err))
			}
		case EffectNotify:
			if e.UserID == "" {
				continue
			}
			if err := s.notifier.Notify(ctx, e.UserID, e.Name, e.Payload); err != nil {
				s.logger.Warn("Failed to send notification",
					zap.String("user_id", e.UserID),
					zap.String("kind", e.Name),
					zap.Error(err))
			}
		case EffectPublish:
			if e.UserID == "" {
				continue
			}
			if err := s.events.Publish(ctx, e.UserID, e.Name, e.Payload); err != nil {
				s.logger.Warn("Failed to publish event",
					zap.String("user_id", e.UserID),
					zap.String("event", e.Name),
					zap.Error(err))
			}
		}
	}
}
