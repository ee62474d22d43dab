package eventbus

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBus публикует события в канал user:<id> через Redis pub/sub
type RedisBus struct {
	client publisher
	clock  clock.Clock
	logger *zap.Logger
}

func NewRedisBus(client *redis.Client, clk clock.Clock, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, clock: clk, logger: logger}
}

// Publish без подписчиков сообщение просто теряется
func (b *RedisBus) Publish(ctx context.Context, userID, event string, payload any) error {
	data, err := encode(userID, event, payload, b.clock.Now())
	if err != nil {
		return err
	}

	receivers, err := b.client.Publish(ctx, Channel(userID), data).Result()
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	b.logger.Debug("Event published",
		zap.String("user_id", userID),
		zap.String("event", event),
		zap.Int64("receivers", receivers),
	)
	return nil
}

// Watch подписывается на канал пользователя и вызывает fn для каждого события до отмены ctx
func Watch(ctx context.Context, client *redis.Client, userID string, fn func(*Envelope)) error {
	sub := client.Subscribe(ctx, Channel(userID))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			env, err := Decode([]byte(msg.Payload))
			if err != nil {
				continue
			}
			fn(env)
		}
	}
}

// Connect создаёт клиента и проверяет соединение
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
