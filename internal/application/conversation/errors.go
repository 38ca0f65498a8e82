package conversation

import "errors"

var (
	// ErrGenerationFailure is returned when the model fails after its retry.
	ErrGenerationFailure = errors.New("answer generation failed")
	// ErrSessionNotFound means the session id is unknown.
	ErrSessionNotFound = errors.New("conversation session not found")
	// ErrEmptyQuery rejects blank questions before a turn starts.
	ErrEmptyQuery = errors.New("query is required")
)

// ApologyMessage is the answer text of every FAILED turn.
const ApologyMessage = "I'm sorry, I wasn't able to answer that question right now. Please try again in a moment."
