package state

import "time"

// UserState представляет текущее состояние пользователя в диалоге
type UserState string

const (
	StateNone UserState = "" // Нет активного состояния

	// Заявка на занятие: ждём тему
	StateRequestSubject UserState = "request_subject"
	// Заявка на занятие: ждём сообщение волонтёру (можно пропустить "-")
	StateRequestMessage UserState = "request_message"
)

// RequestDraft черновик заявки, собираемый по шагам
type RequestDraft struct {
	TargetID   string
	TargetName string
	Date       string
	Time       string
	Subject    string
}

// Dialog состояние диалога пользователя
type Dialog struct {
	State     UserState
	Draft     RequestDraft
	UpdatedAt time.Time
}
