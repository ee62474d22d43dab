package formatting

import (
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
)

// Notification текст уведомления по его типу и полезной нагрузке
func Notification(kind string, payload map[string]any, offsetMinutes *int) string {
	subject, _ := payload["subject"].(string)
	id, _ := payload["session_id"].(string)
	when := payloadWhen(payload, offsetMinutes)

	var sb strings.Builder
	switch kind {
	case service.NotifySessionRequest:
		from, _ := payload["from_name"].(string)
		fmt.Fprintf(&sb, "📩 Новый запрос на занятие от %s\n\n", html.EscapeString(from))
		fmt.Fprintf(&sb, "📚 %s\n🕐 %s", html.EscapeString(subject), when)
	case service.NotifySessionUpdate:
		status, _ := payload["status"].(string)
		st := GetStatusDisplay(model.SessionStatus(status))
		if rescheduled, _ := payload["rescheduled"].(bool); rescheduled {
			fmt.Fprintf(&sb, "🔁 Занятие перенесено\n\n")
		} else {
			fmt.Fprintf(&sb, "%s Занятие: %s\n\n", st.Emoji, st.Text)
		}
		fmt.Fprintf(&sb, "📚 %s\n🕐 %s", html.EscapeString(subject), when)
	case service.NotifyRescheduleRequest:
		fmt.Fprintf(&sb, "⚠️ Выбранное время уже занято\n\n")
		fmt.Fprintf(&sb, "📚 %s\nВыберите другое время: /schedule %s &lt;дата&gt; &lt;время&gt;", html.EscapeString(subject), id)
	case service.NotifySessionCancelled:
		by, _ := payload["cancelled_by_name"].(string)
		fmt.Fprintf(&sb, "❌ Занятие отменено")
		if by != "" {
			fmt.Fprintf(&sb, " (%s)", html.EscapeString(by))
		}
		fmt.Fprintf(&sb, "\n\n📚 %s\n🕐 %s", html.EscapeString(subject), when)
	case service.NotifySessionStarting:
		fmt.Fprintf(&sb, "🔔 Скоро начало занятия\n\n📚 %s\n🕐 %s\n\nСсылка: /join %s", html.EscapeString(subject), when, id)
	case service.NotifyMeetingLinkReady:
		fmt.Fprintf(&sb, "🎥 Ссылка на занятие готова\n\n📚 %s", html.EscapeString(subject))
		if url, _ := payload["join_url"].(string); url != "" {
			fmt.Fprintf(&sb, "\n%s", url)
		}
	case service.NotifySessionExpired:
		fmt.Fprintf(&sb, "⌛️ Занятие не состоялось: никто не подключился\n\n📚 %s\n🕐 %s", html.EscapeString(subject), when)
	case service.NotifySessionCompleted:
		fmt.Fprintf(&sb, "✔️ Занятие завершено\n\n📚 %s", html.EscapeString(subject))
	default:
		fmt.Fprintf(&sb, "ℹ️ Обновление занятия\n\n📚 %s", html.EscapeString(subject))
	}
	return sb.String()
}

func payloadWhen(payload map[string]any, offsetMinutes *int) string {
	if start, ok := PayloadTime(payload, "start_at"); ok {
		local := InOffset(start, offsetMinutes)
		text := fmt.Sprintf("%s %s", FormatDate(local.Format("2006-01-02")), FormatTime(local))
		if offsetMinutes == nil {
			text += " UTC"
		}
		return text
	}
	date, _ := payload["date"].(string)
	tm, _ := payload["time"].(string)
	if date == "" {
		return "время не выбрано"
	}
	return fmt.Sprintf("%s %s", FormatDate(date), tm)
}
