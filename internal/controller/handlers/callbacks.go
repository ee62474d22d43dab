package handlers

import (
	"context"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/keyboard"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleCallbackQuery обрабатывает нажатия на кнопки действий с сессией
func (h *Handlers) HandleCallbackQuery(ctx context.Context, b *bot.Bot, update *models.Update) {
	query := update.CallbackQuery
	if query == nil {
		return
	}

	// Убираем "часики" на кнопке
	if _, err := b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		h.logger.Warn("Failed to answer callback query", zap.Error(err))
	}

	prefix, id, ok := keyboard.ParseCallback(query.Data)
	if !ok {
		h.logger.Debug("Unknown callback data", zap.String("data", query.Data))
		return
	}

	// Бот работает в личных чатах, chat id совпадает с id пользователя
	chatID := query.From.ID
	user, ok := h.lookupUser(ctx, b, query.From.ID, chatID)
	if !ok {
		return
	}

	h.logger.Info("Session callback",
		zap.String("prefix", prefix),
		zap.String("session_id", id),
		zap.Int64("telegram_id", query.From.ID),
	)

	switch prefix {
	case keyboard.PrefixAccept:
		h.respond(ctx, b, chatID, user, id, service.ActionAccept)
	case keyboard.PrefixReject:
		h.respond(ctx, b, chatID, user, id, service.ActionReject)
	case keyboard.PrefixCancel:
		h.cancel(ctx, b, chatID, user, id)
	case keyboard.PrefixJoin:
		h.sendLink(ctx, b, chatID, user, id)
	case keyboard.PrefixRefresh:
		h.showCard(ctx, b, chatID, user, id)
	}
}
