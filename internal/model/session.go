package model

import (
	"errors"
	"time"
)

// ErrStaleSession запись изменили после того, как её прочитали
var ErrStaleSession = errors.New("session changed concurrently")

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"     // Запрос создан, ждёт ответа второй стороны
	SessionStatusAccepted   SessionStatus = "accepted"    // Принят, но слот ещё не закреплён
	SessionStatusRejected   SessionStatus = "rejected"    // Отклонён
	SessionStatusScheduled  SessionStatus = "scheduled"   // Слот закреплён, таймеры взведены
	SessionStatusInProgress SessionStatus = "in_progress" // Кто-то из участников подключился
	SessionStatusCompleted  SessionStatus = "completed"   // Оба участника вышли
	SessionStatusCancelled  SessionStatus = "cancelled"   // Отменён участником
	SessionStatusExpired    SessionStatus = "expired"     // Время вышло, никто не пришёл
)

// IsTerminal сообщает, что из статуса больше нет переходов
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionStatusRejected, SessionStatusCompleted, SessionStatusCancelled, SessionStatusExpired:
		return true
	}
	return false
}

// HoldsSlot сообщает, что сессия в этом статусе занимает слот волонтёра
func (s SessionStatus) HoldsSlot() bool {
	return s == SessionStatusScheduled || s == SessionStatusInProgress
}

// Slot дата и время (точка "11:30" или диапазон "11:30-12:00") в локальном времени клиента
type Slot struct {
	Date        string `json:"date"`
	TimeOrRange string `json:"time"`
}

// IsZero сообщает, что слот не задан
func (s *Slot) IsZero() bool {
	return s == nil || s.Date == "" || s.TimeOrRange == ""
}

// Meeting ссылка на удалённую встречу
type Meeting struct {
	MeetingID    string    `json:"meeting_id"`
	JoinURL      string    `json:"join_url"`
	HostURL      string    `json:"host_url"`
	HostIdentity string    `json:"host_identity"`
	CreatedAt    time.Time `json:"created_at"`
}

// FinalSlot закреплённый за сессией слот
type FinalSlot struct {
	Date            string    `json:"date"`
	TimeOrRange     string    `json:"time"`
	ClaimedSlot     string    `json:"claimed_slot"` // строка слота, снятая из доступности волонтёра
	StartAt         time.Time `json:"start_at"`
	EndAt           time.Time `json:"end_at"`
	DurationMinutes int       `json:"duration_minutes"`
	Meeting         *Meeting  `json:"meeting,omitempty"`
}

// Presence отметки входа и выхода участника
type Presence struct {
	JoinedAt *time.Time `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at"`
}

// Attendance присутствие обоих участников
type Attendance struct {
	Requester   Presence `json:"requester"`
	Counterpart Presence `json:"counterpart"`
}

// AnyoneJoined сообщает, что хотя бы один участник подключался
func (a Attendance) AnyoneJoined() bool {
	return a.Requester.JoinedAt != nil || a.Counterpart.JoinedAt != nil
}

// BothLeft сообщает, что оба участника вышли
func (a Attendance) BothLeft() bool {
	return a.Requester.LeftAt != nil && a.Counterpart.LeftAt != nil
}

// Session заявка на занятие между студентом (requester) и волонтёром (counterpart)
type Session struct {
	ID            string        `json:"id"`
	RequesterID   string        `json:"requester_id"`   // студент
	CounterpartID string        `json:"counterpart_id"` // волонтёр, владелец слотов
	RequestedBy   string        `json:"requested_by"`
	Subject       string        `json:"subject"`
	Message       string        `json:"message"`
	Status        SessionStatus `json:"status"`
	Proposed      *Slot         `json:"proposed,omitempty"`
	Final         *FinalSlot    `json:"final,omitempty"`
	Attendance    Attendance    `json:"attendance"`

	AcceptedAt  *time.Time `json:"accepted_at"`
	RejectedAt  *time.Time `json:"rejected_at"`
	ScheduledAt *time.Time `json:"scheduled_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at"`
	CancelledBy string     `json:"cancelled_by,omitempty"`
	ExpiredAt   *time.Time `json:"expired_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	// Version растёт при каждом сохранении. Update проходит только при совпадении
	Version int64 `json:"version"`
}

// IsParticipant проверяет, что пользователь один из двух участников
func (s *Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.RequesterID || userID == s.CounterpartID)
}

// OtherParticipant возвращает второго участника
func (s *Session) OtherParticipant(userID string) string {
	if userID == s.RequesterID {
		return s.CounterpartID
	}
	return s.RequesterID
}

// PresenceOf возвращает указатель на присутствие участника
func (s *Session) PresenceOf(userID string) *Presence {
	if userID == s.RequesterID {
		return &s.Attendance.Requester
	}
	return &s.Attendance.Counterpart
}

// Clone возвращает глубокую копию записи
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Proposed != nil {
		p := *s.Proposed
		c.Proposed = &p
	}
	if s.Final != nil {
		f := *s.Final
		if s.Final.Meeting != nil {
			m := *s.Final.Meeting
			f.Meeting = &m
		}
		c.Final = &f
	}
	c.Attendance = Attendance{
		Requester:   clonePresence(s.Attendance.Requester),
		Counterpart: clonePresence(s.Attendance.Counterpart),
	}
	c.AcceptedAt = cloneTime(s.AcceptedAt)
	c.RejectedAt = cloneTime(s.RejectedAt)
	c.ScheduledAt = cloneTime(s.ScheduledAt)
	c.CompletedAt = cloneTime(s.CompletedAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.ExpiredAt = cloneTime(s.ExpiredAt)
	return &c
}

func clonePresence(p Presence) Presence {
	return Presence{JoinedAt: cloneTime(p.JoinedAt), LeftAt: cloneTime(p.LeftAt)}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
