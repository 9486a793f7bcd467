package session

import "fmt"

// Phase is the session lifecycle state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseAwaitingMedia  Phase = "awaiting_media"
	PhaseActive         Phase = "active"
	PhaseInterrupted    Phase = "interrupted"
	PhaseEnding         Phase = "ending"
	PhaseSummaryPending Phase = "summary_pending"
	PhaseComplete       Phase = "complete"
)

// Trigger drives a phase transition.
type Trigger string

const (
	TriggerStart       Trigger = "start"
	TriggerMediaReady  Trigger = "media_ready"
	TriggerInterrupt   Trigger = "interrupt"
	TriggerResume      Trigger = "resume"
	TriggerEnd         Trigger = "end"
	TriggerSummarize   Trigger = "summarize"
	TriggerSummaryDone Trigger = "summary_done"
	TriggerTerminate   Trigger = "terminate"
)

// Transition returns the phase reached from current on trigger.
func Transition(current Phase, trigger Trigger) (Phase, error) {
	if trigger == TriggerTerminate {
		if current == PhaseComplete {
			return current, invalidTransition(current, trigger)
		}
		return PhaseComplete, nil
	}

	switch current {
	case PhaseIdle:
		if trigger == TriggerStart {
			return PhaseAwaitingMedia, nil
		}
	case PhaseAwaitingMedia:
		switch trigger {
		case TriggerMediaReady:
			return PhaseActive, nil
		case TriggerEnd:
			return PhaseEnding, nil
		}
	case PhaseActive:
		switch trigger {
		case TriggerInterrupt:
			return PhaseInterrupted, nil
		case TriggerEnd:
			return PhaseEnding, nil
		}
	case PhaseInterrupted:
		switch trigger {
		case TriggerResume:
			return PhaseActive, nil
		case TriggerEnd:
			return PhaseEnding, nil
		}
	case PhaseEnding:
		if trigger == TriggerSummarize {
			return PhaseSummaryPending, nil
		}
	case PhaseSummaryPending:
		switch trigger {
		case TriggerSummarize:
			return PhaseSummaryPending, nil
		case TriggerSummaryDone:
			return PhaseComplete, nil
		}
	case PhaseComplete:
	default:
		return current, fmt.Errorf("unknown phase %q", current)
	}
	return current, invalidTransition(current, trigger)
}

// Live reports whether the candidate can still take turns.
func (p Phase) Live() bool {
	return p == PhaseAwaitingMedia || p == PhaseActive || p == PhaseInterrupted
}

func invalidTransition(phase Phase, trigger Trigger) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", phase, trigger)
}
