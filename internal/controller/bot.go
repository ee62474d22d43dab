package controller

import (
	"context"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/handlers"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/state"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// dialogTTL сколько живёт незавершённый диалог заявки
const dialogTTL = 30 * time.Minute

type BotController struct {
	bot          *bot.Bot
	handlers     *handlers.Handlers
	stateManager *state.Manager
	logger       *zap.Logger
}

func NewBotController(
	botInstance *bot.Bot,
	userService *service.UserService,
	sessionService *service.SessionService,
	availabilityService *service.AvailabilityService,
	clk clock.Clock,
	logger *zap.Logger,
) *BotController {
	// Создаём менеджер состояний
	stateManager := state.NewManager(clk, dialogTTL)

	// Создаём обработчики команд
	cmdHandlers := handlers.NewHandlers(
		userService,
		sessionService,
		availabilityService,
		stateManager,
		clk,
		logger,
	)

	return &BotController{
		bot:          botInstance,
		handlers:     cmdHandlers,
		stateManager: stateManager,
		logger:       logger,
	}
}

// RegisterHandlers регистрирует все обработчики команд
func (c *BotController) RegisterHandlers(ctx context.Context) error {
	// Команды без аргументов
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, c.handlers.HandleStart)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, c.handlers.HandleHelp)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/becomevolunteer", bot.MatchTypeExact, c.handlers.HandleBecomeVolunteer)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/sessions", bot.MatchTypeExact, c.handlers.HandleSessions)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "/myslots", bot.MatchTypeExact, c.handlers.HandleMySlots)

	// Команды с аргументами
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "tz", bot.MatchTypeCommand, c.handlers.HandleTimezone)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "email", bot.MatchTypeCommand, c.handlers.HandleEmail)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "request", bot.MatchTypeCommand, c.handlers.HandleRequest)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "session", bot.MatchTypeCommand, c.handlers.HandleSession)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "accept", bot.MatchTypeCommand, c.handlers.HandleAccept)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "reject", bot.MatchTypeCommand, c.handlers.HandleReject)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "schedule", bot.MatchTypeCommand, c.handlers.HandleSchedule)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "cancel", bot.MatchTypeCommand, c.handlers.HandleCancel)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "link", bot.MatchTypeCommand, c.handlers.HandleLink)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "join", bot.MatchTypeCommand, c.handlers.HandleJoin)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "leave", bot.MatchTypeCommand, c.handlers.HandleLeave)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "expire", bot.MatchTypeCommand, c.handlers.HandleExpire)

	// Команды для волонтёров
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "slots", bot.MatchTypeCommand, c.handlers.HandleSlots)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "toggle", bot.MatchTypeCommand, c.handlers.HandleToggle)
	c.bot.RegisterHandler(bot.HandlerTypeMessageText, "avail", bot.MatchTypeCommand, c.handlers.HandleAvailability)

	// Обработчик нажатий на inline кнопки
	c.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "sess_", bot.MatchTypePrefix, c.handlers.HandleCallbackQuery)

	// Устанавливаем меню команд
	return c.setCommands(ctx)
}

// HandleDefault обработчик сообщений без команды (шаги диалогов).
// Передаётся в bot.WithDefaultHandler
func (c *BotController) HandleDefault(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.handlers.HandleTextMessage(ctx, b, update)
}

// setCommands устанавливает список команд в меню бота
func (c *BotController) setCommands(ctx context.Context) error {
	commands := []models.BotCommand{
		{Command: "start", Description: "🚀 Начать работу с ботом"},
		{Command: "help", Description: "❓ Справка по командам"},
		{Command: "sessions", Description: "📅 Мои занятия"},
		{Command: "request", Description: "📩 Заявка на занятие"},
		{Command: "tz", Description: "🌍 Часовой пояс"},
		{Command: "avail", Description: "🗓 Свободное время волонтёра"},
		{Command: "becomevolunteer", Description: "🙋 Стать волонтёром"},
		{Command: "myslots", Description: "🗓 Мои слоты (волонтёр)"},
		{Command: "slots", Description: "➕ Опубликовать слоты (волонтёр)"},
	}

	_, err := c.bot.SetMyCommands(ctx, &bot.SetMyCommandsParams{
		Commands: commands,
	})

	if err != nil {
		c.logger.Error("Failed to set bot commands", zap.Error(err))
		return err
	}

	c.logger.Info("✅ Bot commands menu set")
	return nil
}

// Start запускает бота и блокируется до отмены ctx
func (c *BotController) Start(ctx context.Context) error {
	c.logger.Info("Starting bot...")

	go c.pruneDialogs(ctx)

	c.bot.Start(ctx)
	return nil
}

// pruneDialogs периодически выбрасывает брошенные диалоги
func (c *BotController) pruneDialogs(ctx context.Context) {
	ticker := time.NewTicker(dialogTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.stateManager.Prune(); n > 0 {
				c.logger.Debug("Abandoned dialogs pruned", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}
