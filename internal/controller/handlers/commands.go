package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/formatting"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleStart обрабатывает команду /start
func (h *Handlers) HandleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	from := update.Message.From
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)

	// Регистрируем пользователя
	registeredUser, err := h.userService.RegisterUser(ctx, from.ID, from.Username, name)
	if err != nil {
		h.logger.Error("Failed to register user", zap.Error(err))
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Произошла ошибка при регистрации. Попробуйте позже.")
		return
	}

	welcomeText := fmt.Sprintf(
		"👋 Привет, %s!\n\n"+
			"Это бот для записи на бесплатные занятия с волонтёрами.\n\n"+
			"Сначала укажите свой часовой пояс: /tz +03:00\n"+
			"Затем отправьте заявку: /request @волонтёр 2025-10-09 11:30-12:00 Тема\n\n"+
			"/sessions - Мои занятия\n"+
			"/help - Справка\n\n"+
			"Хотите помогать другим? /becomevolunteer",
		html.EscapeString(registeredUser.Name),
	)

	h.sendMessage(ctx, b, update.Message.Chat.ID, welcomeText)
}

// HandleHelp обрабатывает команду /help
func (h *Handlers) HandleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	helpText := "📚 Справка по командам:\n\n" +
		"Профиль:\n" +
		"/tz +05:30 - Часовой пояс\n" +
		"/email адрес - Почта для создания встреч (волонтёрам)\n" +
		"/becomevolunteer - Стать волонтёром\n\n" +
		"Занятия:\n" +
		"/request @user [дата время] [тема] - Заявка на занятие\n" +
		"/sessions - Мои занятия\n" +
		"/session id - Карточка занятия\n" +
		"/accept id, /reject id - Ответ на заявку\n" +
		"/schedule id дата время [минуты] - Назначить или перенести\n" +
		"/cancel id - Отменить занятие\n" +
		"/link id - Ссылка на встречу\n" +
		"/join id, /leave id - Отметить вход и выход\n" +
		"/expire id - Отметить, что занятие не состоялось\n\n" +
		"Доступность (волонтёрам):\n" +
		"/slots дата 11:30-12:00 12:00-12:30 - Слоты на день\n" +
		"/toggle дата 11:30-12:00 - Добавить или убрать слот\n" +
		"/myslots - Мои ближайшие слоты\n" +
		"/avail @user [дата] - Свободные слоты волонтёра\n\n" +
		"Дата в формате 2025-10-09, время в вашем часовом поясе.\n" +
		"/cancel без аргументов прерывает текущий диалог."

	h.sendMessage(ctx, b, update.Message.Chat.ID, html.EscapeString(helpText))
}

// HandleBecomeVolunteer обрабатывает команду /becomevolunteer
func (h *Handlers) HandleBecomeVolunteer(ctx context.Context, b *bot.Bot, update *models.Update) {
	if _, ok := h.requireUser(ctx, b, update); !ok {
		return
	}

	user, err := h.userService.BecomeVolunteer(ctx, update.Message.From.ID)
	if err != nil {
		h.replyError(ctx, b, update.Message.Chat.ID, nil, "become volunteer", err)
		return
	}

	text := "🎉 Теперь вы волонтёр!\n\n" +
		"Опубликуйте свободное время: /slots 2025-10-09 11:30-12:00\n" +
		"Укажите почту для встреч: /email you@example.com"
	if user.UTCOffsetMinutes == nil {
		text += "\n\n⚠️ Не забудьте часовой пояс: /tz +03:00"
	}
	h.sendMessage(ctx, b, update.Message.Chat.ID, text)
}

// HandleTimezone обрабатывает команду /tz
func (h *Handlers) HandleTimezone(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	args := commandArgs(update.Message.Text)
	if len(args) == 0 {
		current := "не указан (используется UTC)"
		if user.UTCOffsetMinutes != nil {
			current = formatting.FormatOffset(*user.UTCOffsetMinutes)
		}
		h.sendMessage(ctx, b, chatID, "🌍 Часовой пояс: "+current+"\n\nИзменить: /tz +05:30")
		return
	}

	offset, err := parseOffset(args[0])
	if err != nil {
		h.replyError(ctx, b, chatID, user, "set timezone", err)
		return
	}

	if _, err := h.userService.SetUTCOffset(ctx, user.TelegramID, offset); err != nil {
		h.replyError(ctx, b, chatID, user, "set timezone", err)
		return
	}

	h.sendMessage(ctx, b, chatID, "✅ Часовой пояс сохранён: "+formatting.FormatOffset(offset))
}

// HandleEmail обрабатывает команду /email
func (h *Handlers) HandleEmail(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	args := commandArgs(update.Message.Text)
	if len(args) == 0 {
		h.replyError(ctx, b, chatID, user, "set email", ErrMissingArgs)
		return
	}

	updated, err := h.userService.SetEmail(ctx, user.TelegramID, args[0])
	if err != nil {
		h.replyError(ctx, b, chatID, user, "set email", err)
		return
	}

	h.sendMessage(ctx, b, chatID, "✅ Почта сохранена: "+html.EscapeString(updated.Email))
}

// HandleCancel обрабатывает /cancel: с id отменяет занятие, без аргументов прерывает диалог
func (h *Handlers) HandleCancel(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}

	if len(commandArgs(update.Message.Text)) > 0 {
		h.HandleCancelSession(ctx, b, update)
		return
	}

	telegramID := update.Message.From.ID
	if h.stateManager.GetState(telegramID) == "" {
		h.sendError(ctx, b, update.Message.Chat.ID, "❌ Нет активных операций для отмены.\n\nОтменить занятие: /cancel id")
		return
	}

	// Очищаем состояние
	h.stateManager.ClearState(telegramID)

	h.sendMessage(ctx, b, update.Message.Chat.ID, "✅ Операция отменена.\n\nИспользуйте /help для просмотра доступных команд.")
}
