package handlers

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/formatting"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/keyboard"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/state"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// HandleRequest обрабатывает команду /request
func (h *Handlers) HandleRequest(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	args, err := parseRequestArgs(commandArgs(update.Message.Text))
	if err != nil {
		h.replyError(ctx, b, chatID, user, "request session", err)
		return
	}

	target, err := h.userService.Resolve(ctx, args.Target)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "resolve user", err)
		return
	}
	if target == nil {
		h.sendError(ctx, b, chatID, "❌ Пользователь "+args.Target+" не найден. Он должен хотя бы раз написать боту /start")
		return
	}

	draft := state.RequestDraft{
		TargetID:   target.ID,
		TargetName: target.Name,
		Date:       args.Date,
		Time:       args.Time,
		Subject:    args.Subject,
	}

	if draft.Subject == "" {
		h.stateManager.Set(user.TelegramID, state.StateRequestSubject, draft)
		h.sendMessage(ctx, b, chatID, "📝 Введите тему занятия.\n\nДля отмены: /cancel")
		return
	}

	h.createSession(ctx, b, chatID, user, draft, "")
}

// createSession отправляет заявку из собранного черновика
func (h *Handlers) createSession(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, draft state.RequestDraft, message string) {
	req := service.CreateRequest{
		TargetID: draft.TargetID,
		Subject:  draft.Subject,
		Message:  message,
	}
	if draft.Date != "" {
		req.Proposed = &model.Slot{Date: draft.Date, TimeOrRange: draft.Time}
	}

	out, err := h.sessionService.Create(ctx, model.CallerFor(user), req)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "create session", err)
		return
	}

	h.logger.Info("Session requested via bot",
		zap.String("session_id", out.Session.ID),
		zap.Int64("telegram_id", user.TelegramID),
	)

	text := fmt.Sprintf("✅ Заявка отправлена (%s).\n\n%s",
		html.EscapeString(draft.TargetName),
		formatting.FormatSessionShort(out.Session, user.UTCOffsetMinutes, 1))
	h.sendHTML(ctx, b, chatID, text, actionsMarkup(out.Session, user.ID))
}

// HandleSessions обрабатывает команду /sessions
func (h *Handlers) HandleSessions(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	sessions, err := h.sessionService.ListMine(ctx, model.CallerFor(user))
	if err != nil {
		h.replyError(ctx, b, chatID, user, "list sessions", err)
		return
	}

	if len(sessions) == 0 {
		h.sendMessage(ctx, b, chatID, "📭 У вас пока нет занятий.\n\nОтправить заявку: /request @волонтёр")
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📅 <b>Мои занятия</b> (%d %s)\n\n", len(sessions), formatting.PluralizeSessions(len(sessions)))
	for i, sess := range sessions {
		if i == SessionsPageSize {
			fmt.Fprintf(&sb, "\n… и ещё %d", len(sessions)-SessionsPageSize)
			break
		}
		sb.WriteString(formatting.FormatSessionShort(sess, user.UTCOffsetMinutes, i+1))
		sb.WriteString("\n\n")
	}
	sb.WriteString("Подробнее: /session id")

	h.sendHTML(ctx, b, chatID, sb.String(), nil)
}

// HandleSession обрабатывает команду /session
func (h *Handlers) HandleSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	h.showCard(ctx, b, update.Message.Chat.ID, user, id)
}

// showCard отправляет карточку сессии с кнопками действий
func (h *Handlers) showCard(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, id string) {
	sess, err := h.sessionService.Get(ctx, model.CallerFor(user), id)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "get session", err)
		return
	}

	text := formatting.FormatSessionCard(sess, user.UTCOffsetMinutes,
		h.displayName(ctx, sess.RequesterID), h.displayName(ctx, sess.CounterpartID))
	h.sendHTML(ctx, b, chatID, text, actionsMarkup(sess, user.ID))
}

// HandleAccept обрабатывает команду /accept
func (h *Handlers) HandleAccept(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	h.respond(ctx, b, update.Message.Chat.ID, user, id, service.ActionAccept)
}

// HandleReject обрабатывает команду /reject
func (h *Handlers) HandleReject(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	h.respond(ctx, b, update.Message.Chat.ID, user, id, service.ActionReject)
}

func (h *Handlers) respond(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, id string, action service.Action) {
	out, err := h.sessionService.Respond(ctx, model.CallerFor(user), id, action)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "respond to session", err)
		return
	}
	h.sendHTML(ctx, b, chatID, outcomeText(out, user.UTCOffsetMinutes), actionsMarkup(out.Session, user.ID))
}

// HandleSchedule обрабатывает команду /schedule
func (h *Handlers) HandleSchedule(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	args, err := parseScheduleArgs(commandArgs(update.Message.Text))
	if err != nil {
		h.replyError(ctx, b, chatID, user, "schedule session", err)
		return
	}

	out, err := h.sessionService.ManualSchedule(ctx, model.CallerFor(user), args.SessionID, service.ScheduleRequest{
		Date:            args.Date,
		TimeOrRange:     args.Time,
		DurationMinutes: args.Duration,
	})
	if err != nil {
		h.replyError(ctx, b, chatID, user, "schedule session", err)
		return
	}
	h.sendHTML(ctx, b, chatID, outcomeText(out, user.UTCOffsetMinutes), actionsMarkup(out.Session, user.ID))
}

// HandleCancelSession отменяет занятие по id
func (h *Handlers) HandleCancelSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	h.cancel(ctx, b, update.Message.Chat.ID, user, id)
}

func (h *Handlers) cancel(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, id string) {
	out, err := h.sessionService.Cancel(ctx, model.CallerFor(user), id)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "cancel session", err)
		return
	}
	h.sendHTML(ctx, b, chatID, outcomeText(out, user.UTCOffsetMinutes), nil)
}

// HandleLink обрабатывает команду /link
func (h *Handlers) HandleLink(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	h.sendLink(ctx, b, update.Message.Chat.ID, user, id)
}

func (h *Handlers) sendLink(ctx context.Context, b *bot.Bot, chatID int64, user *model.User, id string) bool {
	info, err := h.sessionService.JoinLink(ctx, model.CallerFor(user), id)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "join link", err)
		return false
	}

	url := info.PersonalURL
	if info.HostURL != "" {
		url = info.HostURL
	}
	start := formatting.InOffset(info.StartAt, user.UTCOffsetMinutes)
	text := fmt.Sprintf("🎥 Встреча в %s\n%s", formatting.FormatTime(start), url)
	h.sendHTML(ctx, b, chatID, text, keyboard.JoinLink(url))
	return true
}

// HandleJoin выдаёт ссылку и отмечает вход участника
func (h *Handlers) HandleJoin(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	if !h.sendLink(ctx, b, chatID, user, id) {
		return
	}
	if _, err := h.sessionService.RecordPresence(ctx, model.CallerFor(user), id, service.ActionJoin); err != nil {
		h.replyError(ctx, b, chatID, user, "record join", err)
	}
}

// HandleLeave отмечает выход участника
func (h *Handlers) HandleLeave(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	out, err := h.sessionService.RecordPresence(ctx, model.CallerFor(user), id, service.ActionLeave)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "record leave", err)
		return
	}
	if out.Session.Status == model.SessionStatusCompleted {
		h.sendMessage(ctx, b, chatID, "✔️ Занятие завершено. Спасибо!")
		return
	}
	h.sendMessage(ctx, b, chatID, "👋 Выход отмечен")
}

// HandleExpire отмечает, что занятие не состоялось
func (h *Handlers) HandleExpire(ctx context.Context, b *bot.Bot, update *models.Update) {
	user, id, ok := h.sessionCommand(ctx, b, update)
	if !ok {
		return
	}
	chatID := update.Message.Chat.ID

	out, err := h.sessionService.ForceExpire(ctx, model.CallerFor(user), id)
	if err != nil {
		h.replyError(ctx, b, chatID, user, "expire session", err)
		return
	}
	h.sendHTML(ctx, b, chatID, outcomeText(out, user.UTCOffsetMinutes), nil)
}

// sessionCommand пользователь и id сессии из первого аргумента
func (h *Handlers) sessionCommand(ctx context.Context, b *bot.Bot, update *models.Update) (*model.User, string, bool) {
	user, ok := h.requireUser(ctx, b, update)
	if !ok {
		return nil, "", false
	}
	args := commandArgs(update.Message.Text)
	if len(args) == 0 {
		h.replyError(ctx, b, update.Message.Chat.ID, user, "session command", ErrMissingArgs)
		return nil, "", false
	}
	return user, args[0], true
}

// displayName имя участника для карточки
func (h *Handlers) displayName(ctx context.Context, userID string) string {
	u, err := h.userService.GetByID(ctx, userID)
	if err != nil || u == nil {
		return "?"
	}
	if u.Username != "" {
		return u.Name + " (@" + u.Username + ")"
	}
	return u.Name
}

// outcomeText ответ пользователю по результату перехода
func outcomeText(out *service.Outcome, offsetMinutes *int) string {
	sess := out.Session
	if out.NeedsReschedule {
		return fmt.Sprintf("⚠️ Выбранное время недоступно. Назначьте другое:\n/schedule %s дата время", sess.ID)
	}

	st := formatting.GetStatusDisplay(sess.Status)
	text := fmt.Sprintf("%s %s\n🕐 %s", st.Emoji, st.Text, formatting.SlotText(sess, offsetMinutes))
	if sess.Status == model.SessionStatusAccepted && sess.Final == nil {
		text += fmt.Sprintf("\n\nНазначьте время: /schedule %s дата время", sess.ID)
	}
	return text
}

// actionsMarkup клавиатура действий. Пустой интерфейс, если кнопок нет
func actionsMarkup(sess *model.Session, viewerID string) models.ReplyMarkup {
	kb := keyboard.SessionActions(sess, viewerID)
	if kb == nil {
		return nil
	}
	return kb
}
