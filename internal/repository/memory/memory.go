// Package memory хранилище в памяти процесса. Используется в тестах и при STORAGE_DRIVER=memory
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
)

// SessionRepository сессии в памяти. Наружу отдаются только копии
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*model.Session)}
}

func (r *SessionRepository) Create(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[session.ID]; ok {
		return fmt.Errorf("create session: duplicate id %s", session.ID)
	}
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (r *SessionRepository) Update(_ context.Context, session *model.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.sessions[session.ID]
	if !ok || stored.Version != session.Version {
		return fmt.Errorf("update session %s: %w", session.ID, model.ErrStaleSession)
	}
	session.Version++
	r.sessions[session.ID] = session.Clone()
	return nil
}

func (r *SessionRepository) GetActiveByOwnerDate(_ context.Context, ownerID, date string) ([]*model.Session, error) {
	return r.filter(func(s *model.Session) bool {
		return s.CounterpartID == ownerID && s.Status.HoldsSlot() && s.Final != nil && s.Final.Date == date
	}), nil
}

func (r *SessionRepository) GetByParticipant(_ context.Context, userID string) ([]*model.Session, error) {
	return r.filter(func(s *model.Session) bool {
		return s.IsParticipant(userID)
	}), nil
}

func (r *SessionRepository) GetUnfinished(_ context.Context) ([]*model.Session, error) {
	return r.filter(func(s *model.Session) bool {
		return !s.Status.IsTerminal() && s.Final != nil
	}), nil
}

func (r *SessionRepository) filter(keep func(*model.Session) bool) []*model.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Session
	for _, s := range r.sessions {
		if keep(s) {
			result = append(result, s.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

// AvailabilityRepository дни доступности по ключу owner|date
type AvailabilityRepository struct {
	mu   sync.RWMutex
	days map[string]*model.Availability
}

func NewAvailabilityRepository() *AvailabilityRepository {
	return &AvailabilityRepository{days: make(map[string]*model.Availability)}
}

func (r *AvailabilityRepository) Get(_ context.Context, ownerID, date string) (*model.Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	day, ok := r.days[ownerID+"|"+date]
	if !ok {
		return nil, nil
	}
	return day.Clone(), nil
}

func (r *AvailabilityRepository) Save(_ context.Context, availability *model.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.days[availability.OwnerID+"|"+availability.Date] = availability.Clone()
	return nil
}

func (r *AvailabilityRepository) GetByOwner(_ context.Context, ownerID, fromDate string) ([]*model.Availability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.Availability
	for _, day := range r.days {
		// даты в формате YYYY-MM-DD сравниваются как строки
		if day.OwnerID == ownerID && day.Date >= fromDate {
			result = append(result, day.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Date < result[j].Date
	})
	return result, nil
}

// UserRepository пользователи в памяти
type UserRepository struct {
	mu    sync.RWMutex
	users map[string]*model.User
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]*model.User)}
}

func (r *UserRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; ok {
		return fmt.Errorf("create user %s: %w", user.ID, model.ErrDuplicate)
	}
	for _, u := range r.users {
		if user.TelegramID != 0 && u.TelegramID == user.TelegramID {
			return fmt.Errorf("create user with telegram id %d: %w", user.TelegramID, model.ErrDuplicate)
		}
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepository) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return fmt.Errorf("user not found")
	}
	r.users[user.ID] = cloneUser(user)
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (r *UserRepository) GetByTelegramID(_ context.Context, telegramID int64) (*model.User, error) {
	return r.find(func(u *model.User) bool { return u.TelegramID == telegramID }), nil
}

func (r *UserRepository) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return r.find(func(u *model.User) bool {
		return u.Username != "" && strings.EqualFold(u.Username, username)
	}), nil
}

func (r *UserRepository) find(match func(*model.User) bool) *model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return cloneUser(u)
		}
	}
	return nil
}

func cloneUser(u *model.User) *model.User {
	c := *u
	if u.UTCOffsetMinutes != nil {
		v := *u.UTCOffsetMinutes
		c.UTCOffsetMinutes = &v
	}
	return &c
}
