package formatting

import (
	"testing"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "UTC+05:30", FormatOffset(330))
	assert.Equal(t, "UTC-03:00", FormatOffset(-180))
	assert.Equal(t, "UTC+00:00", FormatOffset(0))
}

func TestInOffset(t *testing.T) {
	instant := time.Date(2025, 10, 9, 6, 0, 0, 0, time.UTC)
	ist := 330

	assert.Equal(t, "11:30", FormatTime(InOffset(instant, &ist)))
	assert.Equal(t, "06:00", FormatTime(InOffset(instant, nil)))
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes int
		want    string
	}{
		{30, "30 мин"},
		{60, "1 ч"},
		{90, "1 ч 30 мин"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatDuration(tt.minutes))
	}
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "09.10 (Чт)", FormatDate("2025-10-09"))
	assert.Equal(t, "not-a-date", FormatDate("not-a-date"))
}

func TestPluralize(t *testing.T) {
	assert.Equal(t, "слот", PluralizeSlots(1))
	assert.Equal(t, "слота", PluralizeSlots(3))
	assert.Equal(t, "слотов", PluralizeSlots(11))
	assert.Equal(t, "занятие", PluralizeSessions(21))
	assert.Equal(t, "занятий", PluralizeSessions(5))
}

func TestSlotText(t *testing.T) {
	ist := 330
	sess := &model.Session{Proposed: &model.Slot{Date: "2025-10-09", TimeOrRange: "11:30"}}
	assert.Contains(t, SlotText(sess, &ist), "предложено")

	sess.Final = &model.FinalSlot{
		StartAt: time.Date(2025, 10, 9, 6, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2025, 10, 9, 6, 30, 0, 0, time.UTC),
	}
	assert.Equal(t, "09.10 (Чт) 11:30-12:00", SlotText(sess, &ist))

	assert.Equal(t, "время не выбрано", SlotText(&model.Session{}, nil))
}

func TestNotificationTexts(t *testing.T) {
	payload := map[string]any{"session_id": "s1", "subject": "<b>Физика</b>", "status": "scheduled"}

	text := Notification(service.NotifySessionUpdate, payload, nil)
	assert.Contains(t, text, "Назначена")
	assert.Contains(t, text, "&lt;b&gt;Физика&lt;/b&gt;")

	payload["rescheduled"] = true
	assert.Contains(t, Notification(service.NotifySessionUpdate, payload, nil), "перенесено")

	assert.Contains(t, Notification(service.NotifyRescheduleRequest, payload, nil), "/schedule s1")
	assert.Contains(t, Notification("unknown", payload, nil), "Обновление")
}
