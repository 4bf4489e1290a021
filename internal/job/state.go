package job

import (
	"tapkit/internal/adql"
	"tapkit/internal/domain"
)

// State is the mutable part of a job. It only changes through Next.
type State struct {
	Phase        domain.Phase
	JobID        string
	Location     string
	StatusCode   int
	Reason       string
	Failed       bool
	ErrorMessage string
}

// Event is an input to the job state machine.
type Event interface {
	event()
}

// Submitted records the launch response before its status is checked.
type Submitted struct {
	StatusCode int
	Reason     string
}

// Rejected records a launch the service refused.
type Rejected struct {
	StatusCode int
	Reason     string
	Message    string
}

// Accepted records the redirect of a created async job.
type Accepted struct {
	Location string
	Autorun  bool
}

// Started records a successful PHASE=RUN request.
type Started struct{}

// Observed records the phase reported by a job description.
type Observed struct {
	Phase string
}

// Completed records that results were fetched or saved.
type Completed struct{}

func (Submitted) event() {}
func (Rejected) event()  {}
func (Accepted) event()  {}
func (Started) event()   {}
func (Observed) event()  {}
func (Completed) event() {}

// Next applies e to s and returns the resulting state. Invalid transitions
// return a ProtocolError and leave the caller's state untouched.
func Next(s State, e Event) (State, error) {
	switch ev := e.(type) {
	case Submitted:
		s.Phase = domain.PhasePending
		s.StatusCode = ev.StatusCode
		s.Reason = ev.Reason
	case Rejected:
		s.Phase = domain.PhaseError
		s.Failed = true
		s.StatusCode = ev.StatusCode
		s.Reason = ev.Reason
		s.ErrorMessage = ev.Message
	case Accepted:
		if ev.Location == "" {
			return s, domain.ErrProtocol("no location found after redirection was received (303)")
		}
		s.Location = ev.Location
		s.JobID = adql.JobIDFromLocation(ev.Location)
		if ev.Autorun {
			s.Phase = domain.PhaseExecuting
		} else {
			s.Phase = domain.PhasePending
		}
	case Started:
		if s.Phase != domain.PhasePending && s.Phase != domain.PhaseHeld {
			return s, domain.ErrProtocol("cannot start job %s in phase %s", s.JobID, s.Phase)
		}
		s.Phase = domain.PhaseExecuting
	case Observed:
		phase, ok := domain.ParsePhase(ev.Phase)
		if !ok {
			return s, domain.ErrProtocol("job %s: unknown phase %q", s.JobID, ev.Phase)
		}
		if s.Phase.Terminal() && phase != s.Phase {
			return s, domain.ErrProtocol("job %s: illegal phase change %s -> %s", s.JobID, s.Phase, phase)
		}
		s.Phase = phase
		if phase == domain.PhaseError {
			s.Failed = true
		}
	case Completed:
		if s.Phase == domain.PhaseError || s.Phase == domain.PhaseAborted {
			return s, domain.ErrProtocol("job %s: cannot complete from phase %s", s.JobID, s.Phase)
		}
		s.Phase = domain.PhaseCompleted
	default:
		return s, domain.ErrProtocol("unknown job event %T", e)
	}
	return s, nil
}
