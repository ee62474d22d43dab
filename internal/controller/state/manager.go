package state

import (
	"sync"
	"time"

	"github.com/Freeeeeet/tutoring_bot/internal/clock"
)

// Manager управляет состояниями пользователей. Брошенный диалог истекает через ttl
type Manager struct {
	mu      sync.RWMutex
	dialogs map[int64]*Dialog // telegramID -> Dialog
	clock   clock.Clock
	ttl     time.Duration
}

// NewManager создаёт новый менеджер состояний
func NewManager(clk clock.Clock, ttl time.Duration) *Manager {
	return &Manager{
		dialogs: make(map[int64]*Dialog),
		clock:   clk,
		ttl:     ttl,
	}
}

// Get возвращает копию диалога. false, если диалога нет или он истёк
func (sm *Manager) Get(telegramID int64) (Dialog, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	d, ok := sm.dialogs[telegramID]
	if !ok || sm.expired(d) {
		return Dialog{}, false
	}
	return *d, true
}

// GetState получает текущее состояние пользователя
func (sm *Manager) GetState(telegramID int64) UserState {
	d, ok := sm.Get(telegramID)
	if !ok {
		return StateNone
	}
	return d.State
}

// Set сохраняет состояние и черновик
func (sm *Manager) Set(telegramID int64, state UserState, draft RequestDraft) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if state == StateNone {
		delete(sm.dialogs, telegramID)
		return
	}
	sm.dialogs[telegramID] = &Dialog{State: state, Draft: draft, UpdatedAt: sm.clock.Now()}
}

// ClearState очищает состояние и данные пользователя
func (sm *Manager) ClearState(telegramID int64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.dialogs, telegramID)
}

// Prune удаляет истёкшие диалоги
func (sm *Manager) Prune() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	n := 0
	for id, d := range sm.dialogs {
		if sm.expired(d) {
			delete(sm.dialogs, id)
			n++
		}
	}
	return n
}

func (sm *Manager) expired(d *Dialog) bool {
	return sm.ttl > 0 && sm.clock.Now().Sub(d.UpdatedAt) > sm.ttl
}
