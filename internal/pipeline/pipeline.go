// Package pipeline holds the call session state machine. Every status change
// in the repo goes through CanTransition; storage enforces it with a
// conditional update keyed on the expected current state.
package pipeline

import (
	"call-insights-go/internal/apperr"
	"call-insights-go/internal/types"
)

var transitions = map[types.SessionStatus][]types.SessionStatus{
	types.StatusReceived:          {types.StatusTranscriptPending},
	types.StatusTranscriptPending: {types.StatusTranscriptReady, types.StatusTranscriptFailed},
	types.StatusTranscriptFailed:  {types.StatusTranscriptPending},
	types.StatusTranscriptReady:   {types.StatusAnalyzing},
	types.StatusAnalyzing:         {types.StatusCompleted, types.StatusAnalysisFailed},
	types.StatusAnalysisFailed:    {types.StatusAnalyzing},
	types.StatusCompleted:         nil,
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to types.SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check returns a PreconditionError for edges outside the state machine.
func Check(from, to types.SessionStatus) error {
	if !CanTransition(from, to) {
		return apperr.Preconditionf("invalid transition %s -> %s", from, to)
	}
	return nil
}

// Known reports whether s is one of the pipeline states.
func Known(s types.SessionStatus) bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no worker will move s any further on its own.
// Failed states remain retryable by an operator.
func Terminal(s types.SessionStatus) bool {
	switch s {
	case types.StatusCompleted, types.StatusTranscriptFailed, types.StatusAnalysisFailed:
		return true
	}
	return false
}

// Failed reports whether s is a terminal failure.
func Failed(s types.SessionStatus) bool {
	return s == types.StatusTranscriptFailed || s == types.StatusAnalysisFailed
}

// EnqueueFrom lists the states from which a job of type t may be enqueued,
// and the state the session moves into when it is.
func EnqueueFrom(t types.JobType) ([]types.SessionStatus, types.SessionStatus) {
	switch t {
	case types.JobTranscription:
		return []types.SessionStatus{types.StatusReceived, types.StatusTranscriptFailed}, types.StatusTranscriptPending
	case types.JobAnalysis:
		return []types.SessionStatus{types.StatusTranscriptReady, types.StatusAnalysisFailed}, types.StatusAnalyzing
	}
	return nil, ""
}

// Outcome returns the success and failure states a job of type t resolves to
// from its running state.
func Outcome(t types.JobType) (running, succeeded, failed types.SessionStatus) {
	switch t {
	case types.JobTranscription:
		return types.StatusTranscriptPending, types.StatusTranscriptReady, types.StatusTranscriptFailed
	case types.JobAnalysis:
		return types.StatusAnalyzing, types.StatusCompleted, types.StatusAnalysisFailed
	}
	return "", "", ""
}
