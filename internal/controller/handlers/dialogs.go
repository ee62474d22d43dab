package handlers

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/state"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleTextMessage обрабатывает текстовые сообщения в зависимости от состояния пользователя
func (h *Handlers) HandleTextMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}

	// Игнорируем команды (они обрабатываются другими handlers)
	if strings.HasPrefix(update.Message.Text, "/") {
		return
	}

	telegramID := update.Message.From.ID
	dialog, ok := h.stateManager.Get(telegramID)
	if !ok {
		h.logger.Debug("No active state, ignoring message",
			zap.Int64("telegram_id", telegramID))
		return
	}

	switch dialog.State {
	case state.StateRequestSubject:
		h.handleRequestSubjectStep(ctx, b, update, dialog.Draft)
	case state.StateRequestMessage:
		h.handleRequestMessageStep(ctx, b, update, dialog.Draft)
	default:
		h.logger.Warn("Unknown state", zap.String("state", string(dialog.State)))
		h.stateManager.ClearState(telegramID)
	}
}

func (h *Handlers) handleRequestSubjectStep(ctx context.Context, b *bot.Bot, update *models.Update, draft state.RequestDraft) {
	chatID := update.Message.Chat.ID
	subject := strings.TrimSpace(update.Message.Text)

	n := utf8.RuneCountInString(subject)
	if n < SubjectMinLength || n > SubjectMaxLength {
		h.sendError(ctx, b, chatID, "❌ Тема должна быть от 2 до 200 символов. Попробуйте ещё раз.")
		return
	}

	draft.Subject = subject
	h.stateManager.Set(update.Message.From.ID, state.StateRequestMessage, draft)
	h.sendMessage(ctx, b, chatID, "💬 Добавьте сообщение волонтёру или отправьте «-», чтобы пропустить.")
}

func (h *Handlers) handleRequestMessageStep(ctx context.Context, b *bot.Bot, update *models.Update, draft state.RequestDraft) {
	chatID := update.Message.Chat.ID
	message := strings.TrimSpace(update.Message.Text)
	if message == "-" {
		message = ""
	}
	if utf8.RuneCountInString(message) > MessageMaxLength {
		h.sendError(ctx, b, chatID, "❌ Сообщение слишком длинное. Сократите до 1000 символов.")
		return
	}

	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	h.stateManager.ClearState(user.TelegramID)
	h.createSession(ctx, b, chatID, user, draft, message)
}
