package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
)

// SessionRepository хранилище сессий. GetByID возвращает nil, nil если записи нет
type SessionRepository interface {
	Create(ctx context.Context, session *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	Update(ctx context.Context, session *model.Session) error
	// GetActiveByOwnerDate сессии волонтёра на дату в статусах scheduled/in_progress
	GetActiveByOwnerDate(ctx context.Context, ownerID, date string) ([]*model.Session, error)
	GetByParticipant(ctx context.Context, userID string) ([]*model.Session, error)
	// GetUnfinished нетерминальные сессии с закреплённым слотом
	GetUnfinished(ctx context.Context) ([]*model.Session, error)
}

// AvailabilityRepository хранилище доступности. Get возвращает nil, nil если дня нет
type AvailabilityRepository interface {
	Get(ctx context.Context, ownerID, date string) (*model.Availability, error)
	Save(ctx context.Context, availability *model.Availability) error
	GetByOwner(ctx context.Context, ownerID, fromDate string) ([]*model.Availability, error)
}

// UserRepository хранилище пользователей. Методы Get* возвращают nil, nil если не найден
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	Update(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id string) (*model.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
}

// MeetingProvisioner создаёт и завершает удалённые встречи
type MeetingProvisioner interface {
	Create(ctx context.Context, hostIdentity, topic string, start time.Time, durationMinutes int) (*model.Meeting, error)
	End(ctx context.Context, meetingID string) error
}

// NotificationSink уведомления пользователю. Ошибки логируются и не влияют на переход
type NotificationSink interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]any) error
}

// EventBus доставка событий подключённым клиентам, не более одного раза
type EventBus interface {
	Publish(ctx context.Context, userID, event string, payload any) error
}

// TimerScheduler отложенные действия для сессий
type TimerScheduler interface {
	Arm(sessionID string, start, end time.Time)
	Disarm(sessionID string)
	Rearm(sessionID string, start, end time.Time)
}
