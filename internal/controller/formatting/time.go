package formatting

import (
	"fmt"
	"time"
)

// InOffset переводит момент в локальное время пользователя. Без смещения остаётся UTC
func InOffset(t time.Time, offsetMinutes *int) time.Time {
	if offsetMinutes == nil {
		return t.UTC()
	}
	return t.In(time.FixedZone(FormatOffset(*offsetMinutes), *offsetMinutes*60))
}

// FormatOffset форматирует смещение как UTC+05:30
func FormatOffset(minutes int) string {
	sign := "+"
	if minutes < 0 {
		sign = "-"
		minutes = -minutes
	}
	return fmt.Sprintf("UTC%s%02d:%02d", sign, minutes/60, minutes%60)
}

// FormatDateTime форматирует дату и время
func FormatDateTime(t time.Time) string {
	return t.Format("02.01.2006 15:04")
}

// FormatDate форматирует календарную дату YYYY-MM-DD как 09.10 (Чт)
func FormatDate(date string) string {
	d, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return fmt.Sprintf("%s (%s)", d.Format("02.01"), GetWeekdayShortName(int(d.Weekday())))
}

// FormatTime форматирует только время
func FormatTime(t time.Time) string {
	return t.Format("15:04")
}

// FormatDuration форматирует длительность в минутах
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%d мин", minutes)
	}
	hours := minutes / 60
	mins := minutes % 60
	if mins == 0 {
		return fmt.Sprintf("%d ч", hours)
	}
	return fmt.Sprintf("%d ч %d мин", hours, mins)
}

// GetWeekdayShortName возвращает краткое название дня недели на русском
func GetWeekdayShortName(weekday int) string {
	names := []string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	if weekday >= 0 && weekday < len(names) {
		return names[weekday]
	}
	return "?"
}

// PluralizeSlots возвращает правильное склонение слова "слот"
func PluralizeSlots(count int) string {
	if count%10 == 1 && count%100 != 11 {
		return "слот"
	}
	if count%10 >= 2 && count%10 <= 4 && (count%100 < 10 || count%100 >= 20) {
		return "слота"
	}
	return "слотов"
}

// PluralizeSessions возвращает правильное склонение слова "занятие"
func PluralizeSessions(count int) string {
	if count%10 == 1 && count%100 != 11 {
		return "занятие"
	}
	if count%10 >= 2 && count%10 <= 4 && (count%100 < 10 || count%100 >= 20) {
		return "занятия"
	}
	return "занятий"
}
