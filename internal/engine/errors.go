package engine

import (
	"socialpulse.app/autopilot/internal/faults"
)

// Action is the four-way outcome the classifier produces for an exhausted
// failure.
type Action string

const (
	// ActionSkipAndContinue drops the single work item and moves on.
	ActionSkipAndContinue Action = "skip_and_continue"
	// ActionWaitAndRetry defers the work item to a later cycle without
	// dropping it.
	ActionWaitAndRetry Action = "wait_and_retry"
	// ActionRetryWithBackoff retries the work item later; the bounded
	// in-call retries were already spent.
	ActionRetryWithBackoff Action = "retry_with_backoff"
	// ActionStopAutomation halts the whole engine. Only credential failures
	// escalate this far.
	ActionStopAutomation Action = "stop_automation"
)

// Resolution tells a workflow stage what to do with a failure that survived
// the retry executor.
type Resolution struct {
	Action     Action
	ShouldStop bool
}

// Resolve maps an exhausted failure to a resolution. The caller owns every
// durable consequence: marking comments, logging, and stopping the scheduler.
func Resolve(err error) Resolution {
	switch faults.KindOf(err) {
	case faults.KindAuthentication:
		return Resolution{Action: ActionStopAutomation, ShouldStop: true}
	case faults.KindRateLimited:
		return Resolution{Action: ActionWaitAndRetry}
	case faults.KindPermanent:
		return Resolution{Action: ActionSkipAndContinue}
	default:
		return Resolution{Action: ActionRetryWithBackoff}
	}
}

// defers reports whether the resolution means "leave the work item alone and
// come back to it on a later cycle".
func (r Resolution) defers() bool {
	return r.Action == ActionWaitAndRetry || r.Action == ActionRetryWithBackoff || r.ShouldStop
}
