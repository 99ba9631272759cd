package domain

import "errors"

var (
	// ErrRecognizerUnavailable means no speech recognition engine can run here.
	ErrRecognizerUnavailable = errors.New("speech recognition is not available in this environment")
	// ErrRecognitionNotAllowed means the engine refused access (permissions or credentials).
	ErrRecognitionNotAllowed = errors.New("speech recognition was not allowed")
	// ErrRecognitionAborted marks an intentional stop of a recognition stream.
	ErrRecognitionAborted = errors.New("speech recognition aborted")
)
