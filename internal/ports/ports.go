package ports

import (
	"context"
	"io"

	"medivoice/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// AudioSession is a live capture session.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture creates microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// PCMFormat describes raw signed little-endian PCM.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// AudioEncoder packs buffered PCM into an uploadable payload.
type AudioEncoder interface {
	Encode(ctx context.Context, pcm []byte, format PCMFormat) (domain.AudioPayload, error)
}

// RecognitionSession is one listening session on a speech recognizer.
// Results is closed once the session has fully ended.
type RecognitionSession interface {
	SendAudio(chunk []byte) error
	Results() <-chan domain.RecognitionResult
	Stop() error
	Wait() error
}

// Recognizer starts continuous, interim-results recognition for a locale tag.
type Recognizer interface {
	Start(ctx context.Context, languageTag string) (RecognitionSession, error)
}

// NoteRequest is one note-generation job. Transcript, when set, replaces
// audio as the model input.
type NoteRequest struct {
	Provider    domain.ProviderID
	Mode        domain.Mode
	Audio       domain.AudioPayload
	Transcript  string
	Credentials domain.Credentials
}

// NoteGenerator turns a recording into a structured note.
type NoteGenerator interface {
	CheckCredentials(provider domain.ProviderID, creds domain.Credentials) error
	Generate(ctx context.Context, req NoteRequest) (domain.NoteResult, error)
}

// Translator renders a single utterance in another language. Failures
// return the input unchanged.
type Translator interface {
	Translate(ctx context.Context, text string, target string, apiKey string) string
}

// LiveConfig scopes one live interpretation session.
type LiveConfig struct {
	TargetLanguage string
	TranslationKey string
}

// LiveCoordinator runs turn-based recognition and translation.
type LiveCoordinator interface {
	Begin(ctx context.Context, cfg LiveConfig) error
	ToggleRole(ctx context.Context, role domain.Role) (domain.Role, error)
	Feed(chunk []byte)
	StopListening()
	ActiveRole() domain.Role
	Utterances() []domain.LiveUtterance
	Wait()
	Close() []domain.LiveUtterance
}

// RecordStore persists clinical records.
type RecordStore interface {
	Save(ctx context.Context, record domain.ClinicalRecord) (domain.ClinicalRecord, error)
	List(ctx context.Context) ([]domain.ClinicalRecord, error)
	Get(ctx context.Context, id string) (domain.ClinicalRecord, bool, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string) ([]domain.ClinicalRecord, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ActiveRoleChanged(role domain.Role)
	UtteranceUpdated(utterance domain.LiveUtterance)
	NoteReady(note domain.NoteReady)
	LogSaved(record domain.ClinicalRecord)
	SessionError(code domain.ErrorCode, detail string)
}
