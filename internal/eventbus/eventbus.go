// Package eventbus доставляет события сессий подключённым клиентам.
// Доставка не более одного раза, без буферизации для отключённых.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

const channelPrefix = "user:"

// Envelope событие в канале пользователя
type Envelope struct {
	UserID  string          `json:"user_id"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	SentAt  time.Time       `json:"sent_at"`
}

// Channel имя канала пользователя
func Channel(userID string) string {
	return channelPrefix + userID
}

func encode(userID, event string, payload any, now time.Time) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	data, err := json.Marshal(Envelope{UserID: userID, Event: event, Payload: raw, SentAt: now.UTC()})
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode разбирает сообщение из канала
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return &env, nil
}

// Nop шина, которая ничего не отправляет
type Nop struct{}

func (Nop) Publish(context.Context, string, string, any) error { return nil }
