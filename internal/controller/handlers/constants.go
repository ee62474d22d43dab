package handlers

// Ограничения на ввод
const (
	SubjectMinLength = 2
	SubjectMaxLength = 200
	MessageMaxLength = 1000

	// Длительность занятия (в минутах)
	MinDuration = 15
	MaxDuration = 240

	// Сколько сессий показывать в /sessions
	SessionsPageSize = 10
)
