package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/keylock"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionOptions настройки жизненного цикла
type SessionOptions struct {
	Policy          timewindow.Policy
	DefaultDuration int    // минуты, если слот задан точкой
	DefaultHost     string // запасной хост встречи
}

// Outcome результат операции над сессией
type Outcome struct {
	Session *model.Session
	// NeedsReschedule слот занят, нужно выбрать другой. Это не ошибка
	NeedsReschedule bool
	Effects         []Effect
}

// CreateRequest новая заявка. TargetID второй участник
type CreateRequest struct {
	TargetID string
	Subject  string
	Message  string
	Proposed *model.Slot
}

// ScheduleRequest ручное назначение слота
type ScheduleRequest struct {
	Date            string
	TimeOrRange     string
	DurationMinutes int        // 0 - вывести из диапазона или взять по умолчанию
	StartAt         *time.Time // точный момент старта от клиента, если известен
}

type SessionService struct {
	sessions        SessionRepository
	users           UserRepository
	ledger          *AvailabilityLedger
	timers          TimerScheduler
	meetings        MeetingProvisioner
	notifier        NotificationSink
	events          EventBus
	clock           clock.Clock
	policy          timewindow.Policy
	defaultDuration int
	defaultHost     string
	locks           *keylock.Locker
	logger          *zap.Logger
}

func NewSessionService(
	sessions SessionRepository,
	users UserRepository,
	ledger *AvailabilityLedger,
	timers TimerScheduler,
	meetings MeetingProvisioner,
	notifier NotificationSink,
	events EventBus,
	clk clock.Clock,
	opts SessionOptions,
	logger *zap.Logger,
) *SessionService {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 30
	}
	return &SessionService{
		sessions:        sessions,
		users:           users,
		ledger:          ledger,
		timers:          timers,
		meetings:        meetings,
		notifier:        notifier,
		events:          events,
		clock:           clk,
		policy:          opts.Policy,
		defaultDuration: opts.DefaultDuration,
		defaultHost:     opts.DefaultHost,
		locks:           keylock.New(),
		logger:          logger,
	}
}

// change то, что переход хочет сохранить и выполнить
type change struct {
	effects         []Effect
	needsReschedule bool
	noop            bool
	claimed         *claimRef
}

// claimRef снятый слот, который нужно вернуть, если сохранение не удалось
type claimRef struct {
	ownerID string
	date    string
	slot    string
}

// maxSaveAttempts сколько раз перечитать сессию, если её сохранил другой процесс
const maxSaveAttempts = 3

// mutate загружает сессию под замком, применяет fn, сохраняет и затем выполняет эффекты.
// Если запись успели изменить (model.ErrStaleSession), fn применяется заново к свежей версии
func (s *SessionService) mutate(ctx context.Context, id string, fn func(sess *model.Session, now time.Time) (*change, error)) (*Outcome, error) {
	for attempt := 1; ; attempt++ {
		out, err := s.mutateOnce(ctx, id, fn)
		if err == nil || !errors.Is(err, model.ErrStaleSession) || attempt >= maxSaveAttempts {
			return out, err
		}
		s.logger.Warn("Session changed concurrently, retrying",
			zap.String("session_id", id),
			zap.Int("attempt", attempt),
		)
	}
}

func (s *SessionService) mutateOnce(ctx context.Context, id string, fn func(sess *model.Session, now time.Time) (*change, error)) (*Outcome, error) {
	unlock := s.locks.Lock(id)

	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	now := s.clock.Now()
	ch, err := fn(sess, now)
	if err != nil {
		unlock()
		return nil, err
	}

	if !ch.noop {
		sess.UpdatedAt = now
		err := s.sessions.Update(ctx, sess)
		if err != nil && ch.claimed != nil {
			s.ledger.Release(ctx, ch.claimed.ownerID, ch.claimed.date, ch.claimed.slot)
		}
		if ch.claimed != nil {
			s.ledger.Settle(ch.claimed.ownerID, ch.claimed.date, id)
		}
		if err != nil {
			unlock()
			return nil, fmt.Errorf("update session: %w", err)
		}
	}
	unlock()

	s.dispatch(ctx, ch.effects)

	return &Outcome{
		Session:         sess.Clone(),
		NeedsReschedule: ch.needsReschedule,
		Effects:         ch.effects,
	}, nil
}

// Create создаёт заявку в статусе pending. Роль вызывающего определяет, кто из двоих волонтёр
func (s *SessionService) Create(ctx context.Context, caller model.Caller, req CreateRequest) (*Outcome, error) {
	if caller.UserID == "" {
		return nil, fmt.Errorf("%w: anonymous caller", ErrForbidden)
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		return nil, validationf("subject is required")
	}

	if req.TargetID == "" || req.TargetID == caller.UserID {
		return nil, fmt.Errorf("%w: requester and counterpart must differ", ErrInvalidParticipant)
	}

	target, err := s.users.GetByID(ctx, req.TargetID)
	if err != nil {
		return nil, fmt.Errorf("get target user: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: user %s not found", ErrInvalidParticipant, req.TargetID)
	}

	var requesterID, counterpartID string
	switch caller.Role {
	case model.RoleStudent:
		if target.Role != model.RoleVolunteer {
			return nil, fmt.Errorf("%w: sessions can only be requested from a volunteer", ErrInvalidParticipant)
		}
		requesterID, counterpartID = caller.UserID, target.ID
	case model.RoleVolunteer:
		if target.Role == model.RoleVolunteer {
			return nil, fmt.Errorf("%w: sessions can only be offered to a student", ErrInvalidParticipant)
		}
		requesterID, counterpartID = target.ID, caller.UserID
	default:
		return nil, fmt.Errorf("%w: role %q cannot create sessions", ErrForbidden, caller.Role)
	}

	var proposed *model.Slot
	if req.Proposed != nil && (req.Proposed.Date != "" || req.Proposed.TimeOrRange != "") {
		if err := timewindow.Validate(req.Proposed.Date, req.Proposed.TimeOrRange); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		// Проверяем без снятия, что слот опубликован и свободен
		ok, err := s.ledger.IsAvailable(ctx, counterpartID, req.Proposed.Date, req.Proposed.TimeOrRange)
		if err != nil {
			return nil, fmt.Errorf("check availability: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s %s", ErrSlotUnavailable, req.Proposed.Date, req.Proposed.TimeOrRange)
		}
		proposed = &model.Slot{Date: req.Proposed.Date, TimeOrRange: strings.TrimSpace(req.Proposed.TimeOrRange)}
	}

	now := s.clock.Now()
	sess := &model.Session{
		ID:            uuid.NewString(),
		RequesterID:   requesterID,
		CounterpartID: counterpartID,
		RequestedBy:   caller.UserID,
		Subject:       subject,
		Message:       strings.TrimSpace(req.Message),
		Status:        model.SessionStatusPending,
		Proposed:      proposed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("Session created",
		zap.String("session_id", sess.ID),
		zap.String("requester_id", requesterID),
		zap.String("counterpart_id", counterpartID),
		zap.String("requested_by", caller.UserID),
	)

	payload := sessionPayload(sess)
	payload["from_name"] = caller.Name
	effects := []Effect{notifyEffect(target.ID, NotifySessionRequest, payload)}
	effects = append(effects, publishBoth(sess, EventSessionCreated)...)
	s.dispatch(ctx, effects)

	return &Outcome{Session: sess.Clone(), Effects: effects}, nil
}

// Respond принимает или отклоняет заявку
func (s *SessionService) Respond(ctx context.Context, caller model.Caller, id string, action Action) (*Outcome, error) {
	switch action {
	case ActionAccept:
		return s.accept(ctx, caller, id)
	case ActionReject:
		return s.reject(ctx, caller, id)
	}
	return nil, validationf("unsupported response %q", action)
}

func (s *SessionService) accept(ctx context.Context, caller model.Caller, id string) (*Outcome, error) {
	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		// Повтор запроса клиента: возвращаем текущее состояние
		switch sess.Status {
		case model.SessionStatusScheduled, model.SessionStatusInProgress:
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
			return &change{noop: true}, nil
		case model.SessionStatusAccepted:
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
			return &change{noop: true, needsReschedule: sess.Proposed != nil && sess.Final == nil}, nil
		}

		if _, err := nextStatus(sess, caller, ActionAccept); err != nil {
			return nil, err
		}

		sess.AcceptedAt = &now

		if sess.Proposed.IsZero() {
			sess.Status = model.SessionStatusAccepted
			effects := []Effect{notifyEffect(sess.RequestedBy, NotifySessionUpdate, sessionPayload(sess))}
			effects = append(effects, publishBoth(sess, EventSessionUpdated)...)
			return &change{effects: effects}, nil
		}

		plan := ScheduleRequest{Date: sess.Proposed.Date, TimeOrRange: sess.Proposed.TimeOrRange}
		final, ok, err := s.claim(ctx, sess, caller, plan)
		if err != nil {
			return nil, err
		}

		if !ok {
			sess.Status = model.SessionStatusAccepted
			s.logger.Info("Proposed slot taken, reschedule required",
				zap.String("session_id", sess.ID),
				zap.String("date", plan.Date),
				zap.String("slot", plan.TimeOrRange),
			)
			effects := []Effect{
				notifyEffect(sess.CounterpartID, NotifyRescheduleRequest, sessionPayload(sess)),
				notifyEffect(sess.RequesterID, NotifySessionUpdate, sessionPayload(sess)),
			}
			effects = append(effects, publishBoth(sess, EventSessionUpdated)...)
			return &change{effects: effects, needsReschedule: true}, nil
		}

		s.applySchedule(sess, final, now)

		effects := []Effect{armEffect(sess.ID, final.StartAt, final.EndAt)}
		effects = append(effects, notifyBoth(sess, NotifySessionUpdate, sessionPayload(sess))...)
		effects = append(effects, publishBoth(sess, EventSessionScheduled)...)

		return &change{
			effects: effects,
			claimed: &claimRef{ownerID: sess.CounterpartID, date: final.Date, slot: final.ClaimedSlot},
		}, nil
	})
}

func (s *SessionService) reject(ctx context.Context, caller model.Caller, id string) (*Outcome, error) {
	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		if sess.Status == model.SessionStatusRejected {
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
			return &change{noop: true}, nil
		}

		next, err := nextStatus(sess, caller, ActionReject)
		if err != nil {
			return nil, err
		}

		sess.Status = next
		sess.RejectedAt = &now

		effects := []Effect{notifyEffect(sess.RequestedBy, NotifySessionUpdate, sessionPayload(sess))}
		effects = append(effects, publishBoth(sess, EventSessionRejected)...)
		return &change{effects: effects}, nil
	})
}

// ManualSchedule закрепляет явно указанный слот. Для уже назначенной сессии это перенос
func (s *SessionService) ManualSchedule(ctx context.Context, caller model.Caller, id string, req ScheduleRequest) (*Outcome, error) {
	req.TimeOrRange = strings.TrimSpace(req.TimeOrRange)
	if err := timewindow.Validate(req.Date, req.TimeOrRange); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	if req.DurationMinutes < 0 {
		return nil, validationf("duration must be positive")
	}

	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		if sess.Status == model.SessionStatusScheduled && sameSlot(sess.Final, req) {
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
			return &change{noop: true}, nil
		}

		if _, err := nextStatus(sess, caller, ActionSchedule); err != nil {
			return nil, err
		}

		final, ok, err := s.claim(ctx, sess, caller, req)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Info("Requested slot is not available",
				zap.String("session_id", sess.ID),
				zap.String("date", req.Date),
				zap.String("slot", req.TimeOrRange),
			)
			return &change{noop: true, needsReschedule: true}, nil
		}

		previous := sess.Final
		var effects []Effect
		if previous != nil {
			effects = append(effects, endMeetingEffects(sess)...)
		}

		s.applySchedule(sess, final, now)

		if previous != nil {
			effects = append(effects,
				releaseEffect(sess.CounterpartID, previous.Date, claimedSlotOf(previous)),
				rearmEffect(sess.ID, final.StartAt, final.EndAt),
			)
		} else {
			effects = append(effects, armEffect(sess.ID, final.StartAt, final.EndAt))
		}

		payload := sessionPayload(sess)
		payload["rescheduled"] = previous != nil
		effects = append(effects, notifyEffect(sess.OtherParticipant(caller.UserID), NotifySessionUpdate, payload))
		effects = append(effects, publishBoth(sess, EventSessionScheduled)...)

		return &change{
			effects: effects,
			claimed: &claimRef{ownerID: sess.CounterpartID, date: final.Date, slot: final.ClaimedSlot},
		}, nil
	})
}

// Cancel отменяет сессию. Слот возвращается, только если занятие ещё не началось
func (s *SessionService) Cancel(ctx context.Context, caller model.Caller, id string) (*Outcome, error) {
	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		if sess.Status == model.SessionStatusCancelled {
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
			return &change{noop: true}, nil
		}

		next, err := nextStatus(sess, caller, ActionCancel)
		if err != nil {
			return nil, err
		}

		var effects []Effect
		if sess.Status == model.SessionStatusScheduled && sess.Final != nil && now.Before(sess.Final.StartAt) {
			effects = append(effects, releaseEffect(sess.CounterpartID, sess.Final.Date, claimedSlotOf(sess.Final)))
		}
		effects = append(effects, disarmEffect(sess.ID))
		effects = append(effects, endMeetingEffects(sess)...)

		sess.Status = next
		sess.CancelledAt = &now
		sess.CancelledBy = caller.UserID

		payload := sessionPayload(sess)
		payload["cancelled_by_name"] = caller.Name
		effects = append(effects, notifyEffect(sess.OtherParticipant(caller.UserID), NotifySessionCancelled, payload))
		effects = append(effects, publishBoth(sess, EventSessionCancelled)...)

		s.logger.Info("Session cancelled",
			zap.String("session_id", sess.ID),
			zap.String("cancelled_by", caller.UserID),
		)

		return &change{effects: effects}, nil
	})
}

// RecordPresence отмечает вход или выход участника
func (s *SessionService) RecordPresence(ctx context.Context, caller model.Caller, id string, event Action) (*Outcome, error) {
	if event != ActionJoin && event != ActionLeave {
		return nil, validationf("unsupported presence event %q", event)
	}

	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		if err := requireParticipant(sess, caller); err != nil {
			return nil, err
		}

		// Выход после завершения ничего не меняет
		if sess.Status.IsTerminal() && event == ActionLeave {
			return &change{noop: true}, nil
		}

		next, err := nextStatus(sess, caller, event)
		if err != nil {
			return nil, err
		}

		presence := sess.PresenceOf(caller.UserID)

		if event == ActionJoin {
			if presence.JoinedAt == nil {
				presence.JoinedAt = &now
			}
			presence.LeftAt = nil
			sess.Status = next

			return &change{effects: publishBoth(sess, EventSessionPresence)}, nil
		}

		presence.LeftAt = &now

		if !sess.Attendance.BothLeft() {
			sess.Status = next
			return &change{effects: publishBoth(sess, EventSessionPresence)}, nil
		}

		sess.Status = model.SessionStatusCompleted
		sess.CompletedAt = &now

		effects := []Effect{disarmEffect(sess.ID)}
		effects = append(effects, endMeetingEffects(sess)...)
		effects = append(effects, notifyBoth(sess, NotifySessionCompleted, sessionPayload(sess))...)
		effects = append(effects, publishBoth(sess, EventSessionCompleted)...)

		s.logger.Info("Session completed", zap.String("session_id", sess.ID))

		return &change{effects: effects}, nil
	})
}

// ForceExpire переводит сессию в expired, если никто не подключался
func (s *SessionService) ForceExpire(ctx context.Context, caller model.Caller, id string) (*Outcome, error) {
	return s.mutate(ctx, id, func(sess *model.Session, now time.Time) (*change, error) {
		if caller.Role != model.RoleSystem {
			if err := requireParticipant(sess, caller); err != nil {
				return nil, err
			}
		}

		if sess.Status.IsTerminal() {
			return &change{noop: true}, nil
		}

		next, err := nextStatus(sess, caller, ActionExpire)
		if err != nil {
			return nil, err
		}

		if sess.Attendance.AnyoneJoined() {
			return nil, fmt.Errorf("%w: a participant has joined the session", ErrInvalidTransition)
		}

		effects := []Effect{disarmEffect(sess.ID)}
		effects = append(effects, endMeetingEffects(sess)...)
		// занятие снято до начала: слот снова свободен, как при отмене
		if sess.Status == model.SessionStatusScheduled && sess.Final != nil && now.Before(sess.Final.StartAt) {
			effects = append(effects, releaseEffect(sess.CounterpartID, sess.Final.Date, claimedSlotOf(sess.Final)))
		}

		sess.Status = next
		sess.ExpiredAt = &now

		effects = append(effects, notifyBoth(sess, NotifySessionExpired, sessionPayload(sess))...)
		effects = append(effects, publishBoth(sess, EventSessionExpired)...)

		s.logger.Info("Session expired", zap.String("session_id", sess.ID))

		return &change{effects: effects}, nil
	})
}

// Get сессия по ID, только для участников
func (s *SessionService) Get(ctx context.Context, caller model.Caller, id string) (*model.Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.Role != model.RoleSystem {
		if err := requireParticipant(sess, caller); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// ListMine сессии вызывающего, новые первыми
func (s *SessionService) ListMine(ctx context.Context, caller model.Caller) ([]*model.Session, error) {
	if caller.UserID == "" {
		return nil, fmt.Errorf("%w: anonymous caller", ErrForbidden)
	}

	sessions, err := s.sessions.GetByParticipant(ctx, caller.UserID)
	if err != nil {
		return nil, fmt.Errorf("get sessions: %w", err)
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *SessionService) load(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, nil
}

// claim считает момент старта и снимает слот у волонтёра
func (s *SessionService) claim(ctx context.Context, sess *model.Session, caller model.Caller, req ScheduleRequest) (*model.FinalSlot, bool, error) {
	var start time.Time
	if req.StartAt != nil {
		start = req.StartAt.UTC()
	} else {
		instant, err := timewindow.ToInstant(req.Date, req.TimeOrRange, s.slotOffset(ctx, sess, caller))
		if err != nil {
			return nil, false, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		start = instant
	}

	claimed, ok, err := s.ledger.TryClaim(ctx, sess.CounterpartID, req.Date, req.TimeOrRange, sess.ID)
	if err != nil {
		return nil, false, fmt.Errorf("claim slot: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	duration := req.DurationMinutes
	if duration <= 0 {
		switch {
		case timewindow.IsRange(req.TimeOrRange):
			duration = timewindow.DeriveDuration(req.TimeOrRange, s.defaultDuration)
		case timewindow.IsRange(claimed):
			duration = timewindow.DeriveDuration(claimed, s.defaultDuration)
		default:
			duration = s.defaultDuration
		}
	}

	return &model.FinalSlot{
		Date:            req.Date,
		TimeOrRange:     req.TimeOrRange,
		ClaimedSlot:     claimed,
		StartAt:         start,
		EndAt:           timewindow.ComputeEnd(start, duration),
		DurationMinutes: duration,
	}, true, nil
}

// slotOffset слоты публикуются во времени волонтёра, поэтому берём его смещение
func (s *SessionService) slotOffset(ctx context.Context, sess *model.Session, caller model.Caller) *int {
	if caller.UserID == sess.CounterpartID && caller.UTCOffsetMinutes != nil {
		return caller.UTCOffsetMinutes
	}

	owner, err := s.users.GetByID(ctx, sess.CounterpartID)
	if err != nil {
		s.logger.Warn("Failed to load slot owner, using caller offset",
			zap.String("session_id", sess.ID),
			zap.Error(err))
	}
	if owner != nil && owner.UTCOffsetMinutes != nil {
		return owner.UTCOffsetMinutes
	}
	return caller.UTCOffsetMinutes
}

func (s *SessionService) applySchedule(sess *model.Session, final *model.FinalSlot, now time.Time) {
	sess.Final = final
	sess.Status = model.SessionStatusScheduled
	sess.ScheduledAt = &now
	if sess.AcceptedAt == nil {
		sess.AcceptedAt = &now
	}

	s.logger.Info("Session scheduled",
		zap.String("session_id", sess.ID),
		zap.String("date", final.Date),
		zap.String("slot", final.ClaimedSlot),
		zap.Time("start_at", final.StartAt),
		zap.Int("duration_minutes", final.DurationMinutes),
	)
}

func sameSlot(final *model.FinalSlot, req ScheduleRequest) bool {
	if final == nil || final.Date != req.Date {
		return false
	}
	if NormalizeSlot(final.TimeOrRange) != NormalizeSlot(req.TimeOrRange) {
		return false
	}
	return req.StartAt == nil || req.StartAt.Equal(final.StartAt)
}

func claimedSlotOf(final *model.FinalSlot) string {
	if final.ClaimedSlot != "" {
		return final.ClaimedSlot
	}
	return final.TimeOrRange
}

// sessionPayload общие поля для уведомлений
func sessionPayload(sess *model.Session) map[string]any {
	payload := map[string]any{
		"session_id": sess.ID,
		"subject":    sess.Subject,
		"status":     string(sess.Status),
	}
	if !sess.Proposed.IsZero() {
		payload["date"] = sess.Proposed.Date
		payload["time"] = sess.Proposed.TimeOrRange
	}
	if sess.Final != nil {
		payload["date"] = sess.Final.Date
		payload["time"] = sess.Final.TimeOrRange
		payload["start_at"] = sess.Final.StartAt
		payload["end_at"] = sess.Final.EndAt
		if sess.Final.Meeting != nil {
			payload["join_url"] = sess.Final.Meeting.JoinURL
		}
	}
	return payload
}
