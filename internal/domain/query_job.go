package domain

import (
	"strings"
	"time"
)

// Phase is the UWS execution phase of a TAP job.
type Phase string

// Job phases reported by UWS services.
const (
	PhasePending   Phase = "PENDING"
	PhaseQueued    Phase = "QUEUED"
	PhaseExecuting Phase = "EXECUTING"
	PhaseCompleted Phase = "COMPLETED"
	PhaseError     Phase = "ERROR"
	PhaseAborted   Phase = "ABORTED"
	PhaseHeld      Phase = "HELD"
	PhaseSuspended Phase = "SUSPENDED"
	PhaseArchived  Phase = "ARCHIVED"
	PhaseUnknown   Phase = "UNKNOWN"
)

var knownPhases = map[Phase]bool{
	PhasePending:   true,
	PhaseQueued:    true,
	PhaseExecuting: true,
	PhaseCompleted: true,
	PhaseError:     true,
	PhaseAborted:   true,
	PhaseHeld:      true,
	PhaseSuspended: true,
	PhaseArchived:  true,
	PhaseUnknown:   true,
}

// ParsePhase normalizes a phase string from a job description.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(strings.ToUpper(strings.TrimSpace(s)))
	return p, knownPhases[p]
}

// Terminal reports whether no further phase change is expected.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseError, PhaseAborted, PhaseArchived:
		return true
	}
	return false
}

// JobDescription is the decoded UWS description of an async job.
type JobDescription struct {
	JobID        string
	RunID        string
	OwnerID      string
	Phase        Phase
	Quote        string
	CreationTime *time.Time
	StartTime    *time.Time
	EndTime      *time.Time
	Destruction  *time.Time
	Duration     int64
	Parameters   []Parameter
	Results      []ResultRef
	ErrorMessage string
}

// Parameter is a single UWS job parameter in document order.
type Parameter struct {
	ID    string
	Value string
}

// ResultRef points at one result of a UWS job.
type ResultRef struct {
	ID   string
	Href string
}

// Param returns the value of the named parameter, matched case-insensitively.
func (d *JobDescription) Param(id string) (string, bool) {
	for _, p := range d.Parameters {
		if strings.EqualFold(p.ID, id) {
			return p.Value, true
		}
	}
	return "", false
}
