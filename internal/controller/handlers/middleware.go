package handlers

import (
	"context"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// requireUser проверяет что пользователь существует
// Возвращает user и true если OK, nil и false если нет
func (h *Handlers) requireUser(ctx context.Context, b *bot.Bot, update *models.Update) (*model.User, bool) {
	if update.Message == nil || update.Message.From == nil {
		return nil, false
	}
	return h.lookupUser(ctx, b, update.Message.From.ID, update.Message.Chat.ID)
}

func (h *Handlers) lookupUser(ctx context.Context, b *bot.Bot, telegramID, chatID int64) (*model.User, bool) {
	user, err := h.userService.GetByTelegramID(ctx, telegramID)
	if err != nil {
		h.logger.Error("Failed to get user", zap.Int64("telegram_id", telegramID), zap.Error(err))
		h.sendError(ctx, b, chatID, "❌ Произошла ошибка. Попробуйте позже.")
		return nil, false
	}

	if user == nil {
		h.sendError(ctx, b, chatID, "❌ Пользователь не найден. Используйте /start для регистрации.")
		return nil, false
	}

	return user, true
}

// requireVolunteer проверяет что пользователь является волонтёром
func (h *Handlers) requireVolunteer(ctx context.Context, b *bot.Bot, update *models.Update) (*model.User, bool) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return nil, false
	}

	if user.Role != model.RoleVolunteer {
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Эта команда доступна только волонтёрам.\n\nСтать волонтёром: /becomevolunteer")
		return nil, false
	}

	return user, true
}

// replyError переводит ошибку сервиса в текст. Неожиданные ошибки логируются
func (h *Handlers) replyError(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, op string, err error) {
	if !isUserError(err) {
		h.logger.Error("Command failed",
			zap.String("op", op),
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
	var offset *int
	if user != nil {
		offset = user.UTCOffsetMinutes
	}
	h.sendError(ctx, b, chatID, ErrorMessage(err, offset))
}

// sendError отправляет сообщение об ошибке и логирует если не удалось
func (h *Handlers) sendError(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		h.logger.Error("Failed to send error message",
			zap.Int64("chat_id", chatID),
			zap.String("text", text),
			zap.Error(err),
		)
	}
}

// sendHTML отправляет HTML-сообщение с необязательной клавиатурой
func (h *Handlers) sendHTML(ctx context.Context, b *bot.Bot, chatID int64, text string, markup models.ReplyMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	_, err := b.SendMessage(ctx, params)
	if err != nil {
		h.logger.Error("Failed to send message",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
	}
}

// sendMessage отправляет сообщение и логирует если не удалось
func (h *Handlers) sendMessage(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	h.sendHTML(ctx, b, chatID, text, nil)
}
