package clock

import "time"

// Clock абстракция над временем, чтобы таймеры можно было тестировать
type Clock interface {
	Now() time.Time
	// AfterFunc вызывает f через d. При d <= 0 f запускается сразу
	AfterFunc(d time.Duration, f func()) Timer
	NewTicker(d time.Duration) Ticker
}

// Timer отменяемый отложенный вызов
type Timer interface {
	// Stop возвращает true, если вызов был отменён до срабатывания
	Stop() bool
}

// Ticker периодический таймер
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// Real возвращает часы на основе пакета time
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (realClock) NewTicker(d time.Duration) Ticker {
	return &realTicker{t: time.NewTicker(d)}
}

type realTicker struct {
	t *time.Ticker
}

func (r *realTicker) C() <-chan time.Time { return r.t.C }
func (r *realTicker) Stop()               { r.t.Stop() }
