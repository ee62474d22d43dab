// Package notify отправляет пользователям уведомления о сессиях в Telegram
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/controller/formatting"
	"github.com/Freeeeeet/tutoring_bot/internal/controller/keyboard"
	"github.com/Freeeeeet/tutoring_bot/internal/model"
	"github.com/Freeeeeet/tutoring_bot/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Sender часть *bot.Bot, нужная для отправки
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// UserLookup поиск получателя
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// TelegramSink уведомления через бота. Отправка повторяется с экспоненциальной паузой
type TelegramSink struct {
	sender   Sender
	users    UserLookup
	attempts uint64
	backoff  time.Duration
	logger   *zap.Logger
}

func NewTelegramSink(sender Sender, users UserLookup, logger *zap.Logger) *TelegramSink {
	return &TelegramSink{
		sender:   sender,
		users:    users,
		attempts: 3,
		backoff:  200 * time.Millisecond,
		logger:   logger,
	}
}

// Notify находит чат пользователя и отправляет текст для данного типа уведомления
func (s *TelegramSink) Notify(ctx context.Context, userID, kind string, payload map[string]any) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("get user: %w", err)
	}
	if user == nil || user.TelegramID == 0 {
		return fmt.Errorf("no telegram chat for user %s", userID)
	}

	params := &bot.SendMessageParams{
		ChatID:      user.TelegramID,
		ParseMode:   models.ParseModeHTML,
		Text:        formatting.Notification(kind, payload, user.UTCOffsetMinutes),
		ReplyMarkup: keyboardFor(kind, payload),
	}

	b := retry.WithMaxRetries(s.attempts-1, retry.NewExponential(s.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		if _, err := s.sender.SendMessage(ctx, params); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	s.logger.Debug("Notification sent",
		zap.String("user_id", userID),
		zap.String("kind", kind),
	)
	return nil
}

// keyboardFor кнопки ответа на входящий запрос или ссылка на встречу
func keyboardFor(kind string, payload map[string]any) models.ReplyMarkup {
	id, _ := payload["session_id"].(string)
	if id == "" {
		return nil
	}

	switch kind {
	case service.NotifySessionRequest:
		return keyboard.Respond(id)
	case service.NotifyMeetingLinkReady, service.NotifySessionStarting:
		if url, _ := payload["join_url"].(string); url != "" {
			return keyboard.JoinLink(url)
		}
	}
	return nil
}
