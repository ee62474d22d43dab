package keylock

import "sync"

// Locker мьютекс на ключ. Записи удаляются, когда ключ никто не держит
type Locker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

// New создаёт пустой Locker
func New() *Locker {
	return &Locker{locks: make(map[string]*entry)}
}

// Lock захватывает ключ и возвращает функцию освобождения
func (l *Locker) Lock(key string) func() {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Len возвращает число ключей, которые сейчас удерживаются или ожидаются
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
