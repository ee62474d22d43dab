package timewindow

import "time"

// Policy единая настройка окон генерации ссылки и входа
type Policy struct {
	GenerateLead time.Duration // за сколько до старта можно создавать встречу
	JoinLead     time.Duration // за сколько до старта можно получить ссылку
	JoinGrace    time.Duration // сколько после конца слота ссылка ещё выдаётся
}

// DefaultPolicy 10 минут на генерацию, 15 минут на вход, 10 минут после конца
func DefaultPolicy() Policy {
	return Policy{
		GenerateLead: 10 * time.Minute,
		JoinLead:     15 * time.Minute,
		JoinGrace:    10 * time.Minute,
	}
}

// InGenerateWindow [start-GenerateLead, end]
func (p Policy) InGenerateWindow(now, start, end time.Time) bool {
	return InWindow(now, start, p.GenerateLead, end.Sub(start))
}

// InJoinWindow [start-JoinLead, end+JoinGrace]
func (p Policy) InJoinWindow(now, start, end time.Time) bool {
	return InWindow(now, start, p.JoinLead, end.Sub(start)+p.JoinGrace)
}

// JoinOpensAt момент открытия окна входа
func (p Policy) JoinOpensAt(start time.Time) time.Time {
	return start.Add(-p.JoinLead)
}

// JoinClosesAt момент закрытия окна входа
func (p Policy) JoinClosesAt(end time.Time) time.Time {
	return end.Add(p.JoinGrace)
}
