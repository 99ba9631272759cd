package usecase

import (
	"sync"

	"medivoice/internal/domain"
	"medivoice/internal/ports"
)

// SessionOptions scopes one recording or upload.
type SessionOptions struct {
	Mode           domain.Mode        `json:"mode"`
	Provider       domain.ProviderID  `json:"provider"`
	TargetLanguage string             `json:"targetLanguage"`
	Patient        domain.Patient     `json:"patient"`
	Credentials    domain.Credentials `json:"-"`
}

type activeSession struct {
	cancel func()
	audio  ports.AudioSession
	opts   SessionOptions
	buffer *pcmBuffer

	stateMu sync.Mutex
	state   domain.SessionState

	audioDone chan struct{}
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// transition moves from one state to another and reports whether it did.
func (s *activeSession) transition(from domain.SessionState, to domain.SessionState) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func (s *activeSession) translating() bool {
	return s.opts.Mode == domain.ModeTranslate
}
