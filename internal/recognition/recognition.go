// Package recognition is the contract with the external speech recognizer. A session
// accepts streamed audio and emits partial and final hypotheses, then ends.
package recognition

import "context"

// Result is one hypothesis.
type Result struct {
	Text    string
	IsFinal bool
}

// SessionConfig describes the audio a session will receive.
type SessionConfig struct {
	Language   string
	SampleRate int
}

// Session is one recognition request. Results is closed when the session ends; Err then
// reports why (nil for a clean end).
type Session interface {
	ID() string
	Feed(samples []float32) error
	Results() <-chan Result
	Err() error
	Close() error
}

// Engine starts sessions.
type Engine interface {
	StartSession(ctx context.Context, cfg SessionConfig) (Session, error)
}
