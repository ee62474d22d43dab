package keyboard

import (
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/go-telegram/bot/models"
)

// Префиксы callback-данных для действий над сессией
const (
	PrefixAccept  = "sess_accept:"
	PrefixReject  = "sess_reject:"
	PrefixCancel  = "sess_cancel:"
	PrefixJoin    = "sess_join:"
	PrefixRefresh = "sess_show:"
)

// Builder упрощает создание inline клавиатур
type Builder struct {
	rows [][]models.InlineKeyboardButton
}

// NewBuilder создаёт новый builder клавиатуры
func NewBuilder() *Builder {
	return &Builder{
		rows: make([][]models.InlineKeyboardButton, 0),
	}
}

// Row добавляет новый ряд кнопок
func (b *Builder) Row(buttons ...models.InlineKeyboardButton) *Builder {
	if len(buttons) > 0 {
		b.rows = append(b.rows, buttons)
	}
	return b
}

// Len количество рядов
func (b *Builder) Len() int {
	return len(b.rows)
}

// Button создаёт кнопку
func Button(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton создаёт кнопку с URL
func URLButton(text, url string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		URL:  url,
	}
}

// Build создаёт финальную клавиатуру
func (b *Builder) Build() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: b.rows,
	}
}

// Respond кнопки ответа на запрос
func Respond(sessionID string) *models.InlineKeyboardMarkup {
	return NewBuilder().
		Row(Button("✅ Принять", PrefixAccept+sessionID), Button("❌ Отклонить", PrefixReject+sessionID)).
		Build()
}

// JoinLink кнопка перехода во встречу
func JoinLink(url string) *models.InlineKeyboardMarkup {
	return NewBuilder().Row(URLButton("🎥 Подключиться", url)).Build()
}

// SessionActions кнопки, доступные участнику viewerID для сессии. nil, если действий нет
func SessionActions(sess *model.Session, viewerID string) *models.InlineKeyboardMarkup {
	b := NewBuilder()
	switch sess.Status {
	case model.SessionStatusPending:
		if viewerID != sess.RequestedBy {
			b.Row(Button("✅ Принять", PrefixAccept+sess.ID), Button("❌ Отклонить", PrefixReject+sess.ID))
		}
	case model.SessionStatusAccepted:
		b.Row(Button("🚫 Отменить", PrefixCancel+sess.ID))
	case model.SessionStatusScheduled:
		b.Row(Button("🎥 Ссылка", PrefixJoin+sess.ID), Button("🚫 Отменить", PrefixCancel+sess.ID))
	case model.SessionStatusInProgress:
		b.Row(Button("🎥 Ссылка", PrefixJoin+sess.ID))
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	b.Row(Button("🔄 Обновить", PrefixRefresh+sess.ID))
	return b.Build()
}

// ParseCallback разбирает callback-данные вида "sess_accept:<id>"
func ParseCallback(data string) (prefix, sessionID string, ok bool) {
	for _, p := range []string{PrefixAccept, PrefixReject, PrefixCancel, PrefixJoin, PrefixRefresh} {
		if id, found := strings.CutPrefix(data, p); found && id != "" {
			return p, id, true
		}
	}
	return "", "", false
}
