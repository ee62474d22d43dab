package eventbus

import (
	"context"
	"sync"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
)

// MemoryBus шина внутри процесса. Медленный подписчик теряет события
type MemoryBus struct {
	clock clock.Clock

	mu     sync.RWMutex
	subs   map[string]map[int]chan *Envelope
	nextID int
}

func NewMemoryBus(clk clock.Clock) *MemoryBus {
	return &MemoryBus{clock: clk, subs: make(map[string]map[int]chan *Envelope)}
}

func (b *MemoryBus) Publish(_ context.Context, userID, event string, payload any) error {
	data, err := encode(userID, event, payload, b.clock.Now())
	if err != nil {
		return err
	}
	env, err := Decode(data)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[userID] {
		select {
		case ch <- env:
		default:
		}
	}
	return nil
}

// Subscribe возвращает канал событий пользователя и функцию отписки
func (b *MemoryBus) Subscribe(userID string, buffer int) (<-chan *Envelope, func()) {
	ch := make(chan *Envelope, buffer)

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[int]chan *Envelope)
	}
	b.subs[userID][id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[userID], id)
			if len(b.subs[userID]) == 0 {
				delete(b.subs, userID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}
