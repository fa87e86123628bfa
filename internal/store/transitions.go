package store

import "qms/frontdesk-service/internal/models"

const (
	ActionIssue    = "issue"
	ActionRegister = "register"
	ActionTriage   = "triage"
	ActionConsult  = "consult"
)

type transition struct {
	from models.Status
	to   models.Status
}

var transitionMap = map[string]transition{
	ActionRegister: {from: models.StatusPending, to: models.StatusRegistered},
	ActionTriage:   {from: models.StatusRegistered, to: models.StatusTriaged},
	ActionConsult:  {from: models.StatusTriaged, to: models.StatusSeen},
}

// Transition returns the status an action requires and the status it moves to.
func Transition(action string) (from, to models.Status, ok bool) {
	t, ok := transitionMap[action]
	if !ok {
		return "", "", false
	}
	return t.from, t.to, true
}

func ValidTransition(action string, fromStatus models.Status) bool {
	from, _, ok := Transition(action)
	return ok && from == fromStatus
}
