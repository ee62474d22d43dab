package handlers

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/formatting"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
)

// ErrorMessage возвращает пользовательское сообщение для ошибки.
// Время открытия окна показывается в часовом поясе пользователя
func ErrorMessage(err error, offsetMinutes *int) string {
	var windowErr *service.WindowError
	switch {
	case errors.As(err, &windowErr):
		if windowErr.NotYetOpen() {
			opens := formatting.InOffset(windowErr.OpensAt, offsetMinutes)
			return fmt.Sprintf("⏳ Ещё рано. Ссылка будет доступна с %s", formatting.FormatDateTime(opens))
		}
		return "⌛️ Окно подключения уже закрыто"
	case errors.Is(err, ErrMissingArgs):
		return "❌ Не хватает аргументов. Подробнее: /help"
	case errors.Is(err, ErrInvalidOffset):
		return "❌ Неверный часовой пояс. Пример: /tz +05:30"
	case errors.Is(err, timewindow.ErrEmptyRange):
		return "❌ Конец слота должен быть позже начала. Пример: 11:30-12:00"
	case errors.Is(err, timewindow.ErrInvalidFormat):
		return "❌ Неверный формат даты или времени. Пример: 2025-10-09 11:30-12:00"
	case errors.Is(err, service.ErrNotFound):
		return "❌ Занятие не найдено"
	case errors.Is(err, service.ErrForbidden):
		return "❌ У вас нет доступа к этому действию"
	case errors.Is(err, service.ErrInvalidParticipant):
		return "❌ Нельзя отправить заявку этому пользователю. Запрос возможен только между студентом и волонтёром"
	case errors.Is(err, service.ErrSlotUnavailable):
		return "❌ Это время уже занято или не опубликовано волонтёром"
	case errors.Is(err, service.ErrInvalidTransition):
		return "❌ Это действие недоступно в текущем статусе занятия"
	case errors.Is(err, service.ErrProvisioner):
		return "❌ Не удалось создать встречу. Попробуйте чуть позже"
	case errors.Is(err, service.ErrValidation):
		return "❌ Проверьте введённые данные"
	default:
		return "❌ Произошла ошибка. Попробуйте позже."
	}
}

// isUserError ошибки, которые не нужно логировать как сбой
func isUserError(err error) bool {
	for _, target := range []error{
		ErrMissingArgs, ErrInvalidOffset, timewindow.ErrInvalidFormat, timewindow.ErrEmptyRange,
		service.ErrNotFound, service.ErrForbidden, service.ErrInvalidParticipant,
		service.ErrSlotUnavailable, service.ErrInvalidTransition, service.ErrValidation,
		service.ErrWindowClosed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
