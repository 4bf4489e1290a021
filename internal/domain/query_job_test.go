package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParsePhase(t *testing.T) {
	tests := []struct {
		in    string
		want  Phase
		known bool
	}{
		{in: "COMPLETED", want: PhaseCompleted, known: true},
		{in: " executing\n", want: PhaseExecuting, known: true},
		{in: "held", want: PhaseHeld, known: true},
		{in: "RUNNING", want: Phase("RUNNING")},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePhase(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.known, ok)
		})
	}
}

func TestPhase_Terminal(t *testing.T) {
	for _, p := range []Phase{PhaseCompleted, PhaseError, PhaseAborted, PhaseArchived} {
		assert.True(t, p.Terminal(), p)
	}
	for _, p := range []Phase{PhasePending, PhaseQueued, PhaseExecuting, PhaseHeld, PhaseSuspended, PhaseUnknown} {
		assert.False(t, p.Terminal(), p)
	}
}

func TestJobDescription_Param(t *testing.T) {
	d := &JobDescription{Parameters: []Parameter{{ID: "query", Value: "SELECT 1"}, {ID: "FORMAT", Value: "csv"}}}

	v, ok := d.Param("QUERY")
	assert.True(t, ok)
	assert.Equal(t, "SELECT 1", v)

	v, ok = d.Param("format")
	assert.True(t, ok)
	assert.Equal(t, "csv", v)

	_, ok = d.Param("maxrec")
	assert.False(t, ok)
}

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t, "quota exceeded", ErrRemote(0, "", "quota exceeded").Error())
	assert.Equal(t, "500 Internal Server Error", ErrRemote(500, "Internal Server Error", "").Error())
	assert.Equal(t, "400 Bad Request: Unknown table t", ErrRemote(400, "Bad Request", "Unknown table t").Error())
}
