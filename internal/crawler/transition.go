package crawler

import "fmt"

// Outcome is the result of one invocation attempt.
type Outcome int

// Attempt outcomes fed into NextStatus.
const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// OutcomeOf maps an invocation error to an outcome. nil is success.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	if KindOf(err) == ErrorKindPermanent {
		return OutcomePermanent
	}
	return OutcomeTransient
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed || to == StatusPending
	default:
		return false
	}
}

// NextStatus decides where an in-progress task goes after an attempt.
// attemptCount already includes the attempt being settled, so a task is tried
// at most retryAttempts+1 times.
func NextStatus(attemptCount int, outcome Outcome, retryAttempts int) TaskStatus {
	switch outcome {
	case OutcomeSuccess:
		return StatusCompleted
	case OutcomePermanent:
		return StatusFailed
	default:
		if attemptCount <= retryAttempts {
			return StatusPending
		}
		return StatusFailed
	}
}
