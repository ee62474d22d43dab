package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/formatting"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/timewindow"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// HandleSlots обрабатывает команду /slots: заменяет слоты дня
func (h *Handlers) HandleSlots(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireVolunteer(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	date, slots, err := parseSlotsArgs(commandArgs(update.Message.Text))
	if err != nil {
		h.replyError(ctx, b, chatID, user, "set availability", err)
		return
	}

	day, err := h.availabilityService.SetDay(ctx, model.CallerFor(user), date, slots)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "set availability", err)
		return
	}
	h.sendMessage(ctx, b, chatID, "✅ Сохранено\n\n"+formatDay(day))
}

// HandleToggle обрабатывает команду /toggle: добавляет или убирает слот
func (h *Handlers) HandleToggle(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireVolunteer(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	date, slots, err := parseSlotsArgs(commandArgs(update.Message.Text))
	if err == nil && len(slots) != 1 {
		err = ErrMissingArgs
	}
	if err != nil {
		h.replyError(ctx, b, chatID, user, "toggle slot", err)
		return
	}

	day, err := h.availabilityService.Toggle(ctx, model.CallerFor(user), date, slots[0])
	if err != nil {
		h.replyError(ctx, b, chatID, user, "toggle slot", err)
		return
	}
	h.sendMessage(ctx, b, chatID, formatDay(day))
}

// HandleMySlots обрабатывает команду /myslots
func (h *Handlers) HandleMySlots(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireVolunteer(ctx, b, update)
	if !ok {
		return
	}
	h.sendUpcoming(ctx, b, update.Message.Chat.ID, user, user, "🗓 <b>Мои слоты</b>")
}

// HandleAvailability обрабатывает команду /avail: слоты волонтёра
func (h *Handlers) HandleAvailability(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	args := commandArgs(update.Message.Text)
	if len(args) == 0 {
		h.replyError(ctx, b, chatID, user, "show availability", ErrMissingArgs)
		return
	}

	owner, err := h.userService.Resolve(ctx, args[0])
	if err != nil {
		h.replyError(ctx, b, chatID, user, "resolve user", err)
		return
	}
	if owner == nil || owner.Role != model.RoleVolunteer {
		h.sendError(ctx, b, chatID, "❌ Волонтёр "+args[0]+" не найден")
		return
	}

	title := "🗓 <b>Свободное время " + html.EscapeString(owner.Name) + "</b>"
	if owner.UTCOffsetMinutes != nil {
		title += " (" + formatting.FormatOffset(*owner.UTCOffsetMinutes) + ")"
	}

	if len(args) > 1 {
		if _, err := timewindow.ParseDate(args[1]); err != nil {
			h.replyError(ctx, b, chatID, user, "show availability", err)
			return
		}
		day, err := h.availabilityService.Get(ctx, owner.ID, args[1])
		if err != nil {
			h.replyError(ctx, b, chatID, user, "show availability", err)
			return
		}
		h.sendMessage(ctx, b, chatID, title+"\n\n"+formatDay(day))
		return
	}

	h.sendUpcoming(ctx, b, chatID, user, owner, title)
}

func (h *Handlers) sendUpcoming(ctx context.Context, b *bot.Bot, chatID int64, viewer, owner *model.User, title string) {
	// "сегодня" считаем в поясе владельца: слоты записаны в его локальном времени
	today := formatting.InOffset(h.clock.Now(), owner.UTCOffsetMinutes).Format(timewindow.DateLayout)

	days, err := h.availabilityService.ListUpcoming(ctx, owner.ID, today)
	if err != nil {
		h.replyError(ctx, b, chatID, viewer, "list availability", err)
		return
	}
	if len(days) == 0 {
		h.sendMessage(ctx, b, chatID, title+"\n\n📭 Свободных слотов нет")
		return
	}

	var sb strings.Builder
	sb.WriteString(title)
	sb.WriteString("\n\n")
	for _, day := range days {
		sb.WriteString(formatDay(day))
		sb.WriteString("\n")
	}
	h.sendMessage(ctx, b, chatID, sb.String())
}

// formatDay строка с датой и слотами
func formatDay(day *model.Availability) string {
	if len(day.Slots) == 0 {
		return fmt.Sprintf("📅 %s: нет слотов", formatting.FormatDate(day.Date))
	}
	return fmt.Sprintf("📅 %s (%d %s): %s",
		formatting.FormatDate(day.Date),
		len(day.Slots), formatting.PluralizeSlots(len(day.Slots)),
		html.EscapeString(strings.Join(day.Slots, ", ")))
}
