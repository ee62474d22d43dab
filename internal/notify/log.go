package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink пишет уведомления в лог. Используется, когда бот недоступен (CLI, тесты)
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, userID, kind string, payload map[string]any) error {
	id, _ := payload["session_id"].(string)
	s.logger.Info("Notification (not delivered)",
		zap.String("user_id", userID),
		zap.String("kind", kind),
		zap.String("session_id", id),
	)
	return nil
}
