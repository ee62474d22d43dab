package model

import (
	"errors"
	"time"
)

// ErrDuplicate пользователь с таким id или telegram_id уже есть
var ErrDuplicate = errors.New("duplicate user")

type Role string

const (
	RoleStudent   Role = "student"
	RoleVolunteer Role = "volunteer"
	RoleSystem    Role = "system"
)

type User struct {
	ID               string    `json:"id"`
	TelegramID       int64     `json:"telegram_id"`
	Username         string    `json:"username"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	Email            string    `json:"email"`              // используется как хост встречи
	UTCOffsetMinutes *int      `json:"utc_offset_minutes"` // local = UTC + offset
	CreatedAt        time.Time `json:"created_at"`
}

// Caller кто выполняет действие. Собирается один раз на границе (контроллер, CLI)
type Caller struct {
	UserID           string
	Role             Role
	Name             string
	UTCOffsetMinutes *int
}

// SystemCaller вызывающий для действий планировщика
func SystemCaller() Caller {
	return Caller{Role: RoleSystem, Name: "system"}
}

// CallerFor собирает Caller из пользователя
func CallerFor(u *User) Caller {
	return Caller{
		UserID:           u.ID,
		Role:             u.Role,
		Name:             u.Name,
		UTCOffsetMinutes: u.UTCOffsetMinutes,
	}
}
