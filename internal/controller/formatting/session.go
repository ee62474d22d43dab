package formatting

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
)

// StatusDisplay отображение статуса сессии
type StatusDisplay struct {
	Emoji string
	Text  string
}

// GetStatusDisplay возвращает emoji и текст для статуса сессии
func GetStatusDisplay(status model.SessionStatus) StatusDisplay {
	displays := map[model.SessionStatus]StatusDisplay{
		model.SessionStatusPending:    {"⏳", "Ожидает ответа"},
		model.SessionStatusAccepted:   {"🤝", "Принята, нужно время"},
		model.SessionStatusRejected:   {"🚫", "Отклонена"},
		model.SessionStatusScheduled:  {"📅", "Назначена"},
		model.SessionStatusInProgress: {"🎥", "Идёт"},
		model.SessionStatusCompleted:  {"✔️", "Завершена"},
		model.SessionStatusCancelled:  {"❌", "Отменена"},
		model.SessionStatusExpired:    {"⌛️", "Не состоялась"},
	}

	if display, ok := displays[status]; ok {
		return display
	}

	return StatusDisplay{"❓", "Неизвестно"}
}

// SlotText дата и время слота: локальное время участника, если известен момент
func SlotText(sess *model.Session, offsetMinutes *int) string {
	if sess.Final != nil {
		start := InOffset(sess.Final.StartAt, offsetMinutes)
		end := InOffset(sess.Final.EndAt, offsetMinutes)
		return fmt.Sprintf("%s %s-%s", FormatDate(start.Format("2006-01-02")), FormatTime(start), FormatTime(end))
	}
	if !sess.Proposed.IsZero() {
		return fmt.Sprintf("%s %s (предложено)", FormatDate(sess.Proposed.Date), sess.Proposed.TimeOrRange)
	}
	return "время не выбрано"
}

// FormatSessionShort строка для списка
func FormatSessionShort(sess *model.Session, offsetMinutes *int, index int) string {
	st := GetStatusDisplay(sess.Status)
	return fmt.Sprintf("%d. %s <b>%s</b>\n   🕐 %s\n   🆔 <code>%s</code>",
		index,
		st.Emoji,
		html.EscapeString(sess.Subject),
		SlotText(sess, offsetMinutes),
		sess.ID,
	)
}

// FormatSessionCard подробная карточка сессии
func FormatSessionCard(sess *model.Session, offsetMinutes *int, requesterName, counterpartName string) string {
	st := GetStatusDisplay(sess.Status)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b>\n\n", st.Emoji, html.EscapeString(sess.Subject))
	fmt.Fprintf(&sb, "📊 Статус: %s\n", st.Text)
	fmt.Fprintf(&sb, "🎓 Студент: %s\n", html.EscapeString(requesterName))
	fmt.Fprintf(&sb, "🧑‍🏫 Волонтёр: %s\n", html.EscapeString(counterpartName))
	fmt.Fprintf(&sb, "🕐 Время: %s\n", SlotText(sess, offsetMinutes))
	if sess.Final != nil {
		fmt.Fprintf(&sb, "⏱ Длительность: %s\n", FormatDuration(sess.Final.DurationMinutes))
	}
	if sess.Message != "" {
		fmt.Fprintf(&sb, "📝 %s\n", html.EscapeString(sess.Message))
	}
	fmt.Fprintf(&sb, "\n🆔 <code>%s</code>", sess.ID)
	return sb.String()
}

// PayloadTime достаёт момент из полезной нагрузки уведомления
func PayloadTime(payload map[string]any, key string) (time.Time, bool) {
	t, ok := payload[key].(time.Time)
	return t, ok && !t.IsZero()
}
