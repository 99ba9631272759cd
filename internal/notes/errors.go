package notes

import (
	"errors"
	"fmt"

	"medivoice/internal/domain"
)

var (
	ErrModelsExhausted   = errors.New("all models failed")
	ErrEmptyResponse     = errors.New("no content returned by model")
	ErrMalformedResponse = errors.New("malformed structured response")
	ErrUnknownProvider   = errors.New("unknown note provider")
	ErrNoInput           = errors.New("no audio or transcript to process")
)

// MissingKeyError reports that the selected provider has no API key.
type MissingKeyError struct {
	Provider domain.ProviderID
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("%s API Key is missing", displayName(e.Provider))
}

// MissingDependencyKeyError reports that a provider needs another provider's
// key for speech-to-text.
type MissingDependencyKeyError struct {
	Provider   domain.ProviderID
	Dependency domain.ProviderID
}

func (e *MissingDependencyKeyError) Error() string {
	return fmt.Sprintf("%sを使用するには、音声認識のために%s APIキーも必要です。", displayName(e.Provider), displayName(e.Dependency))
}

func displayName(p domain.ProviderID) string {
	switch p {
	case domain.ProviderGemini:
		return "Gemini"
	case domain.ProviderOpenAI:
		return "OpenAI"
	default:
		return string(p)
	}
}

// IsConfiguration reports whether err is a missing-credential condition.
func IsConfiguration(err error) bool {
	var missing *MissingKeyError
	var dependency *MissingDependencyKeyError
	return errors.As(err, &missing) || errors.As(err, &dependency) || errors.Is(err, ErrUnknownProvider)
}
