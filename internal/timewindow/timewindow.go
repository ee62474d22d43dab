// Package timewindow переводит локальные дату и время слота в абсолютные моменты
// и проверяет окна, в которые разрешены действия со встречей.
//
// Соглашение по смещению: local = instant + offset (минуты к востоку от UTC),
// то есть IST передаётся как +330.
package timewindow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidFormat = errors.New("invalid date or time format")
	ErrEmptyRange    = errors.New("range end must be after its start")
)

// SplitRange делит "HH:MM-HH:MM" на начало и конец. Для точки end пустой
func SplitRange(timeOrRange string) (start, end string) {
	normalized := strings.NewReplacer("–", "-", "—", "-").Replace(timeOrRange)
	parts := strings.SplitN(normalized, "-", 2)
	start = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		end = strings.TrimSpace(parts[1])
	}
	return start, end
}

// ParseClock разбирает "HH:MM" в часы и минуты
func ParseClock(s string) (hour, minute int, err error) {
	hStr, mStr, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time %q", ErrInvalidFormat, s)
	}

	hour, err = strconv.Atoi(hStr)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: hour in %q", ErrInvalidFormat, s)
	}
	minute, err = strconv.Atoi(mStr)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: minute in %q", ErrInvalidFormat, s)
	}
	return hour, minute, nil
}

// ParseDate проверяет календарную дату YYYY-MM-DD
func ParseDate(date string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(date))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidFormat, date)
	}
	return d, nil
}

// Validate проверяет дату и время/диапазон без вычисления момента.
// Диапазон должен заканчиваться позже, чем начинается, в пределах одного дня
func Validate(date, timeOrRange string) error {
	if _, err := ParseDate(date); err != nil {
		return err
	}
	start, end := SplitRange(timeOrRange)
	sh, sm, err := ParseClock(start)
	if err != nil {
		return err
	}
	if end == "" {
		return nil
	}
	eh, em, err := ParseClock(end)
	if err != nil {
		return err
	}
	if eh*60+em <= sh*60+sm {
		return fmt.Errorf("%w: %q", ErrEmptyRange, timeOrRange)
	}
	return nil
}

// ToInstant интерпретирует дату и начало слота как показания локальных часов клиента.
// Без offset используется часовой пояс сервера.
func ToInstant(date, timeOrRange string, offsetMinutes *int) (time.Time, error) {
	d, err := ParseDate(date)
	if err != nil {
		return time.Time{}, err
	}

	start, _ := SplitRange(timeOrRange)
	hour, minute, err := ParseClock(start)
	if err != nil {
		return time.Time{}, err
	}

	if offsetMinutes == nil {
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.Local).UTC(), nil
	}

	wall := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, time.UTC)
	return wall.Add(-time.Duration(*offsetMinutes) * time.Minute), nil
}

// ComputeEnd возвращает конец слота
func ComputeEnd(start time.Time, durationMinutes int) time.Time {
	return start.Add(time.Duration(durationMinutes) * time.Minute)
}

// DeriveDuration для диапазона возвращает end-start (минимум 1), для точки defaultMinutes
func DeriveDuration(timeOrRange string, defaultMinutes int) int {
	start, end := SplitRange(timeOrRange)
	if end == "" {
		return defaultMinutes
	}

	sh, sm, err := ParseClock(start)
	if err != nil {
		return defaultMinutes
	}
	eh, em, err := ParseClock(end)
	if err != nil {
		return defaultMinutes
	}

	minutes := (eh*60 + em) - (sh*60 + sm)
	if minutes < 1 {
		return 1
	}
	return minutes
}

// IsRange сообщает, что строка задаёт диапазон
func IsRange(timeOrRange string) bool {
	_, end := SplitRange(timeOrRange)
	return end != ""
}

// InWindow anchor-before <= now <= anchor+after, обе границы включены
func InWindow(now, anchor time.Time, before, after time.Duration) bool {
	return !now.Before(anchor.Add(-before)) && !now.After(anchor.Add(after))
}
