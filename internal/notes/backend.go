package notes

import "medivoice/internal/domain"

// Backend describes how a provider turns audio into a note. The set of
// implementations is closed: NativeAudio and Transcribed.
type Backend interface {
	ProviderID() domain.ProviderID
	requiredKeys() []domain.ProviderID
	sealed()
}

// NativeAudio submits audio directly to a multimodal model, walking Models in
// order of preference.
type NativeAudio struct {
	Provider    domain.ProviderID
	Models      []string
	Temperature float64
}

func (b NativeAudio) ProviderID() domain.ProviderID { return b.Provider }

func (b NativeAudio) requiredKeys() []domain.ProviderID {
	return []domain.ProviderID{b.Provider}
}

func (NativeAudio) sealed() {}

// Transcribed first converts audio to text with the Dependency provider, then
// asks a chat model for the structured note.
type Transcribed struct {
	Provider           domain.ProviderID
	Dependency         domain.ProviderID
	TranscriptionModel string
	TranscriptLanguage string
	ChatModel          string
}

func (b Transcribed) ProviderID() domain.ProviderID { return b.Provider }

func (b Transcribed) requiredKeys() []domain.ProviderID {
	if b.Dependency == "" || b.Dependency == b.Provider {
		return []domain.ProviderID{b.Provider}
	}
	return []domain.ProviderID{b.Dependency, b.Provider}
}

func (Transcribed) sealed() {}

// DefaultGeminiModels is the fallback order for native audio notes.
var DefaultGeminiModels = []string{"gemini-2.5-flash", "gemini-2.0-flash-exp", "gemini-1.5-flash"}

// DefaultBackends returns the built-in provider table.
func DefaultBackends() map[domain.ProviderID]Backend {
	return map[domain.ProviderID]Backend{
		domain.ProviderGemini: NativeAudio{
			Provider:    domain.ProviderGemini,
			Models:      append([]string(nil), DefaultGeminiModels...),
			Temperature: 0.2,
		},
		domain.ProviderOpenAI: Transcribed{
			Provider:           domain.ProviderOpenAI,
			Dependency:         domain.ProviderOpenAI,
			TranscriptionModel: "whisper-1",
			TranscriptLanguage: "ja",
			ChatModel:          "gpt-4o",
		},
	}
}
