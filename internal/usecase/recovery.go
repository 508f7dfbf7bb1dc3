package usecase

import (
	"errors"

	"callcoach/internal/domain"
)

var errNoMatchingSession = errors.New("server has no matching active session")

type RecoveryOutcome int

const (
	RecoveryResumed RecoveryOutcome = iota
	RecoveryFailed
	RecoveryExhausted
)

func (o RecoveryOutcome) String() string {
	switch o {
	case RecoveryResumed:
		return "resumed"
	case RecoveryFailed:
		return "failed"
	case RecoveryExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// RecoveryManager probes the server for a session the client lost track of.
// Attempts are bounded and reset after every successful respond.
type RecoveryManager struct {
	ctrl    *SessionController
	attempt domain.RecoveryAttempt
}

func newRecoveryManager(ctrl *SessionController, max int) *RecoveryManager {
	return &RecoveryManager{ctrl: ctrl, attempt: domain.RecoveryAttempt{Max: max}}
}

func (r *RecoveryManager) Attempts() domain.RecoveryAttempt {
	return r.attempt
}

// Attempt checks whether the server still holds session. done runs on the
// loop; it runs immediately with RecoveryExhausted once the bound is reached.
func (r *RecoveryManager) Attempt(session domain.Session, done func(RecoveryOutcome, error)) error {
	if r.attempt.Exhausted() {
		done(RecoveryExhausted, nil)
		return nil
	}

	err := roundTrip(r.ctrl.turns, func() (domain.ActiveSessionInfo, error) {
		ctx, cancel := r.ctrl.requestContext()
		defer cancel()
		return r.ctrl.gateway.ActiveSession(ctx)
	}, func(info domain.ActiveSessionInfo, err error) {
		switch {
		case err != nil:
			done(RecoveryFailed, err)
		case info.Matches(session):
			done(RecoveryResumed, nil)
		default:
			done(RecoveryFailed, errNoMatchingSession)
		}
	})
	if err != nil {
		return err
	}
	r.attempt.Count++
	return nil
}

func (r *RecoveryManager) reset() {
	r.attempt.Count = 0
}
