package domain

import (
	"strings"
	"time"
)

// SessionState models the recording lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStatePaused     SessionState = "paused"
	SessionStateProcessing SessionState = "processing"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady              SessionStateReason = "ready"
	SessionReasonRecordingStarted   SessionStateReason = "recording_started"
	SessionReasonRecordingRestarted SessionStateReason = "recording_restarted"
	SessionReasonRecordingPaused    SessionStateReason = "recording_paused"
	SessionReasonRecordingResumed   SessionStateReason = "recording_resumed"
	SessionReasonProcessing         SessionStateReason = "processing"
	SessionReasonNoteReady          SessionStateReason = "note_ready"
	SessionReasonNoteFailed         SessionStateReason = "note_failed"
	SessionReasonLogSaved           SessionStateReason = "log_saved"
	SessionReasonRecordingDiscarded SessionStateReason = "recording_discarded"
	SessionReasonNoAudio            SessionStateReason = "no_audio"
	SessionReasonStorageFailed      SessionStateReason = "storage_failed"
)

// ErrorCode identifies non-fatal and fatal backend errors.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeConfiguration ErrorCode = "configuration"
	ErrorCodeDevice        ErrorCode = "device"
	ErrorCodeAudioStop     ErrorCode = "audio_stop"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeRecognition   ErrorCode = "recognition"
	ErrorCodeGeneration    ErrorCode = "generation"
	ErrorCodeValidation    ErrorCode = "validation"
	ErrorCodeStorage       ErrorCode = "storage"
	ErrorCodeClipboard     ErrorCode = "clipboard"
)

// Mode selects between plain dictation and live bilingual interpretation.
type Mode string

const (
	ModeStandard  Mode = "standard"
	ModeTranslate Mode = "translate"
)

// Role identifies a party in the consultation.
type Role string

const (
	RoleClinician Role = "clinician"
	RolePatient   Role = "patient"
)

// RoleFromLabel maps speaker labels produced by note models onto a Role.
// Unrecognised labels are attributed to the patient.
func RoleFromLabel(label string) Role {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "医師", "doctor", "clinician", "dr", "ドクター":
		return RoleClinician
	default:
		return RolePatient
	}
}

// Label returns the Japanese chart label for the role.
func (r Role) Label() string {
	if r == RoleClinician {
		return "医師"
	}
	return "患者"
}

// ProviderID names a hosted note-generation provider.
type ProviderID string

const (
	ProviderGemini ProviderID = "gemini"
	ProviderOpenAI ProviderID = "openai"
)

// Providers lists every supported provider in display order.
func Providers() []ProviderID {
	return []ProviderID{ProviderGemini, ProviderOpenAI}
}

// Credentials is a snapshot of provider API keys scoped to one session.
type Credentials map[ProviderID]string

// Key returns the trimmed key for a provider.
func (c Credentials) Key(provider ProviderID) string {
	if c == nil {
		return ""
	}
	return strings.TrimSpace(c[provider])
}

// Has reports whether a non-empty key exists for provider.
func (c Credentials) Has(provider ProviderID) bool {
	return c.Key(provider) != ""
}

// Patient is free-text patient metadata entered by the clinician.
type Patient struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SOAP holds the four free-text note sections.
type SOAP struct {
	S string `json:"s"`
	O string `json:"o"`
	A string `json:"a"`
	P string `json:"p"`
}

// TranscriptTurn is one speaker turn. Slice order is conversation order.
type TranscriptTurn struct {
	Speaker Role   `json:"speaker"`
	Text    string `json:"text"`
}

// NoteResult is the structured outcome of one recording session.
type NoteResult struct {
	DetectedLanguage string           `json:"detectedLanguage"`
	Transcript       []TranscriptTurn `json:"transcript"`
	SOAP             SOAP             `json:"soap"`
	ModelUsed        string           `json:"modelUsed,omitempty"`
}

// ClinicalRecord is a persisted note.
type ClinicalRecord struct {
	ID      string     `json:"id"`
	Date    time.Time  `json:"date"`
	Patient Patient    `json:"patient"`
	Data    NoteResult `json:"data"`
}

// LiveUtterance is a transient utterance captured in translate mode.
type LiveUtterance struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	OriginalText   string    `json:"originalText"`
	TranslatedText string    `json:"translatedText,omitempty"`
	IsFinal        bool      `json:"isFinal"`
	Timestamp      time.Time `json:"timestamp"`
}

// RecognitionResult is one interim or final update from a speech recognizer.
type RecognitionResult struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// AudioPayload is an encoded audio blob with its declared MIME type.
type AudioPayload struct {
	Data     []byte `json:"-"`
	MIMEType string `json:"mimeType"`
}

// Empty reports whether the payload carries no audio.
func (p AudioPayload) Empty() bool {
	return len(p.Data) == 0
}

// NoteReady is handed to the review surface when generation succeeds.
type NoteReady struct {
	Result  NoteResult `json:"result"`
	Patient Patient    `json:"patient"`
}

// Status summarizes the current runtime status.
type Status struct {
	State      SessionState `json:"state"`
	Active     bool         `json:"active"`
	Mode       Mode         `json:"mode,omitempty"`
	ActiveRole Role         `json:"activeRole,omitempty"`
	Recovered  bool         `json:"recoveredAudio"`
	Message    string       `json:"message,omitempty"`
}
