// Package translate provides the lightweight per-utterance translation call.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"medivoice/internal/lang"
	"medivoice/internal/notes"
	"medivoice/internal/providers/gemini"
)

// DefaultModel is the translation model.
const DefaultModel = "gemini-2.5-flash"

// Options configures a Translator.
type Options struct {
	Model       string
	Temperature float64
	Retry       notes.RetryPolicy
	Logger      zerolog.Logger
}

// Translator translates single utterances. It never returns an error: any
// failure yields the input text unchanged.
type Translator struct {
	client      notes.ContentGenerator
	model       string
	temperature float64
	retry       notes.RetryPolicy
	log         zerolog.Logger
}

func New(client notes.ContentGenerator, opts Options) *Translator {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Temperature <= 0 {
		opts.Temperature = 0.1
	}
	return &Translator{
		client:      client,
		model:       opts.Model,
		temperature: opts.Temperature,
		retry:       opts.Retry,
		log:         opts.Logger,
	}
}

// Prompt builds the translation instruction for text.
func Prompt(text string, target string) string {
	return fmt.Sprintf("Translate the following text to %s. Only return the translated text, nothing else.\nText: %q", lang.Name(target), text)
}

// Translate renders text in the target language.
func (t *Translator) Translate(ctx context.Context, text string, target string, apiKey string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	if strings.TrimSpace(apiKey) == "" || t.client == nil {
		return text
	}

	req := gemini.GenerateRequest{
		Parts:       []gemini.Part{gemini.TextPart(Prompt(text, target))},
		Temperature: gemini.Float(t.temperature),
	}
	out, err := notes.Do(ctx, t.retry, func(ctx context.Context) (string, error) {
		return t.client.GenerateContent(ctx, apiKey, t.model, req)
	}, nil)
	if err != nil {
		t.log.Warn().Err(err).Str("target", target).Msg("translation failed; keeping original text")
		return text
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return text
	}
	return out
}
