package service

import (
	"errors"
	"fmt"
	"time"
)

// Ошибки жизненного цикла. Проверять через errors.Is
var (
	ErrValidation         = errors.New("validation error")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrNotFound           = errors.New("session not found")
	ErrInvalidParticipant = errors.New("invalid participant")
	ErrSlotUnavailable    = errors.New("slot unavailable")
	ErrProvisioner        = errors.New("meeting provisioner error")
	ErrWindowClosed       = errors.New("window closed")
)

// WindowError окно входа ещё не открыто или уже закрыто
type WindowError struct {
	Now      time.Time
	OpensAt  time.Time
	ClosesAt time.Time
}

func (e *WindowError) Error() string {
	if e.Now.Before(e.OpensAt) {
		return fmt.Sprintf("window not open yet: opens at %s", e.OpensAt.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("window has closed at %s", e.ClosesAt.UTC().Format(time.RFC3339))
}

func (e *WindowError) Is(target error) bool {
	return target == ErrWindowClosed
}

// NotYetOpen сообщает, что окно откроется позже
func (e *WindowError) NotYetOpen() bool {
	return e.Now.Before(e.OpensAt)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
