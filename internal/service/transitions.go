package service

import (
	"fmt"

	"github.com/Freeeeeet/tutoring_bot/internal/model"
)

type Action string

const (
	ActionAccept   Action = "accept"
	ActionReject   Action = "reject"
	ActionSchedule Action = "schedule"
	ActionCancel   Action = "cancel"
	ActionJoin     Action = "join"
	ActionLeave    Action = "leave"
	ActionComplete Action = "complete"
	ActionExpire   Action = "expire"
)

// actorPolicy кто может выполнить переход
type actorPolicy int

const (
	// любой из двух участников
	anyParticipant actorPolicy = iota
	// участник, которому адресован запрос (не автор)
	respondent
	// система (планировщик, оператор) или участник
	systemOrParticipant
)

type transitionKey struct {
	from   model.SessionStatus
	action Action
}

type transition struct {
	to    model.SessionStatus
	actor actorPolicy
}

// transitions единственная таблица переходов (status, action) -> status'
var transitions = map[transitionKey]transition{
	{model.SessionStatusPending, ActionAccept}:   {model.SessionStatusAccepted, respondent},
	{model.SessionStatusPending, ActionReject}:   {model.SessionStatusRejected, respondent},
	{model.SessionStatusPending, ActionSchedule}: {model.SessionStatusScheduled, respondent},

	{model.SessionStatusAccepted, ActionSchedule}: {model.SessionStatusScheduled, anyParticipant},
	{model.SessionStatusAccepted, ActionCancel}:   {model.SessionStatusCancelled, anyParticipant},
	{model.SessionStatusAccepted, ActionExpire}:   {model.SessionStatusExpired, systemOrParticipant},

	// перенос уже закреплённого слота
	{model.SessionStatusScheduled, ActionSchedule}: {model.SessionStatusScheduled, anyParticipant},
	{model.SessionStatusScheduled, ActionCancel}:   {model.SessionStatusCancelled, anyParticipant},
	{model.SessionStatusScheduled, ActionJoin}:     {model.SessionStatusInProgress, anyParticipant},
	{model.SessionStatusScheduled, ActionLeave}:    {model.SessionStatusScheduled, anyParticipant},
	{model.SessionStatusScheduled, ActionComplete}: {model.SessionStatusCompleted, anyParticipant},
	{model.SessionStatusScheduled, ActionExpire}:   {model.SessionStatusExpired, systemOrParticipant},

	{model.SessionStatusInProgress, ActionJoin}:     {model.SessionStatusInProgress, anyParticipant},
	{model.SessionStatusInProgress, ActionLeave}:    {model.SessionStatusInProgress, anyParticipant},
	{model.SessionStatusInProgress, ActionComplete}: {model.SessionStatusCompleted, anyParticipant},
}

// nextStatus проверяет переход и право актёра на него
func nextStatus(sess *model.Session, caller model.Caller, action Action) (model.SessionStatus, error) {
	tr, ok := transitions[transitionKey{sess.Status, action}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s session", ErrInvalidTransition, action, sess.Status)
	}
	if err := authorize(sess, caller, tr.actor); err != nil {
		return "", err
	}
	return tr.to, nil
}

// canTransition проверяет только наличие перехода в таблице
func canTransition(from model.SessionStatus, action Action) bool {
	_, ok := transitions[transitionKey{from, action}]
	return ok
}

func authorize(sess *model.Session, caller model.Caller, policy actorPolicy) error {
	switch policy {
	case systemOrParticipant:
		if caller.Role == model.RoleSystem || sess.IsParticipant(caller.UserID) {
			return nil
		}
	case respondent:
		if !sess.IsParticipant(caller.UserID) {
			break
		}
		if caller.UserID == sess.RequestedBy {
			return fmt.Errorf("%w: only the invited participant can respond", ErrForbidden)
		}
		return nil
	default:
		if sess.IsParticipant(caller.UserID) {
			return nil
		}
	}
	return fmt.Errorf("%w: not a participant of this session", ErrForbidden)
}

// requireParticipant проверка для операций чтения и присутствия
func requireParticipant(sess *model.Session, caller model.Caller) error {
	return authorize(sess, caller, anyParticipant)
}
