package core

import (
	"errors"
	"fmt"
)

// FailureKind classifies a failed turn stage so the dispatcher can decide
// what degraded response the caller still gets.
type FailureKind string

const (
	// FailureNotUnderstood means the utterance was received but could not be
	// recognized as speech. User-caused, not worth retrying.
	FailureNotUnderstood FailureKind = "not_understood"

	// FailureTranscription means the transcription collaborator was
	// unreachable or errored.
	FailureTranscription FailureKind = "transcription_unavailable"

	// FailureCompletion means the language-model collaborator was
	// unreachable or errored.
	FailureCompletion FailureKind = "completion_unavailable"

	// FailureSynthesis means the text-to-speech collaborator was
	// unreachable or errored.
	FailureSynthesis FailureKind = "synthesis_unavailable"

	// FailureStore means a persistence operation failed.
	FailureStore FailureKind = "store_unavailable"
)

// ApologyText is the fixed reply returned when a turn cannot be processed.
const ApologyText = "Sorry, I couldn't process that request."

// NotUnderstoodText is the reply for speech that could not be recognized.
const NotUnderstoodText = "Sorry, I didn't catch that. Could you say it again?"

// TurnError carries the failure kind for a turn stage alongside the
// underlying cause.
type TurnError struct {
	Kind FailureKind
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// NewTurnError wraps err with a failure kind.
func NewTurnError(kind FailureKind, err error) *TurnError {
	return &TurnError{Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err, or "" if err carries none.
func KindOf(err error) FailureKind {
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
