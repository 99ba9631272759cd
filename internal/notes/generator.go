// Package notes turns consultation audio into a structured SOAP note using a
// hosted model provider, with per-model retry and ordered model fallback.
package notes

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"medivoice/internal/apierror"
	"medivoice/internal/domain"
	"medivoice/internal/ports"
	"medivoice/internal/providers/gemini"
	"medivoice/internal/providers/openai"
)

// ContentGenerator is the native-audio model boundary.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, apiKey string, model string, req gemini.GenerateRequest) (string, error)
}

// SpeechTranscriber is the speech-to-text boundary for transcribed backends.
type SpeechTranscriber interface {
	Transcribe(ctx context.Context, apiKey string, audio domain.AudioPayload, opts openai.TranscribeOptions) (string, error)
}

// ChatCompleter is the JSON chat-completion boundary.
type ChatCompleter interface {
	CompleteJSON(ctx context.Context, apiKey string, model string, system string, user string) (string, error)
}

// TermNormalizer rewrites note text with deterministic terminology rules.
type TermNormalizer interface {
	Apply(text string) (string, error)
}

// Request is one note-generation job.
type Request = ports.NoteRequest

// Options configures a Generator.
type Options struct {
	Backends map[domain.ProviderID]Backend
	Retry    RetryPolicy
	Terms    TermNormalizer
	Logger   zerolog.Logger
}

// Generator produces notes across the configured backends.
type Generator struct {
	native      ContentGenerator
	transcriber SpeechTranscriber
	chat        ChatCompleter
	backends    map[domain.ProviderID]Backend
	retry       RetryPolicy
	terms       TermNormalizer
	log         zerolog.Logger
}

func NewGenerator(native ContentGenerator, transcriber SpeechTranscriber, chat ChatCompleter, opts Options) *Generator {
	if opts.Backends == nil {
		opts.Backends = DefaultBackends()
	}
	return &Generator{
		native:      native,
		transcriber: transcriber,
		chat:        chat,
		backends:    opts.Backends,
		retry:       opts.Retry.withDefaults(),
		terms:       opts.Terms,
		log:         opts.Logger,
	}
}

// CheckCredentials verifies that every key the provider needs is present.
func (g *Generator) CheckCredentials(provider domain.ProviderID, creds domain.Credentials) error {
	backend, ok := g.backends[provider]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return checkBackendKeys(backend, creds)
}

func checkBackendKeys(backend Backend, creds domain.Credentials) error {
	switch b := backend.(type) {
	case NativeAudio:
		if !creds.Has(b.Provider) {
			return &MissingKeyError{Provider: b.Provider}
		}
	case Transcribed:
		dependency := b.Dependency
		if dependency == "" {
			dependency = b.Provider
		}
		if !creds.Has(dependency) {
			if dependency == b.Provider {
				return &MissingKeyError{Provider: b.Provider}
			}
			return &MissingDependencyKeyError{Provider: b.Provider, Dependency: dependency}
		}
		if !creds.Has(b.Provider) {
			return &MissingKeyError{Provider: b.Provider}
		}
	}
	return nil
}

// Generate runs req against its provider's backend.
func (g *Generator) Generate(ctx context.Context, req Request) (domain.NoteResult, error) {
	backend, ok := g.backends[req.Provider]
	if !ok {
		return domain.NoteResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	if err := checkBackendKeys(backend, req.Credentials); err != nil {
		return domain.NoteResult{}, err
	}
	if req.Audio.Empty() && strings.TrimSpace(req.Transcript) == "" {
		return domain.NoteResult{}, ErrNoInput
	}

	var (
		result domain.NoteResult
		err    error
	)
	switch b := backend.(type) {
	case NativeAudio:
		result, err = g.generateNative(ctx, b, req)
	case Transcribed:
		result, err = g.generateTranscribed(ctx, b, req)
	default:
		return domain.NoteResult{}, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}
	if err != nil {
		return domain.NoteResult{}, err
	}

	result.SOAP = g.normalize(result.SOAP)
	return result, nil
}

func (g *Generator) generateNative(ctx context.Context, b NativeAudio, req Request) (domain.NoteResult, error) {
	key := req.Credentials.Key(b.Provider)

	genReq := gemini.GenerateRequest{
		Temperature:      gemini.Float(b.Temperature),
		ResponseMIMEType: "application/json",
		ResponseSchema:   ResponseSchema(),
	}
	if strings.TrimSpace(req.Transcript) != "" {
		genReq.SystemInstruction = SystemInstruction(SourceTranscript, req.Mode)
		genReq.Parts = []gemini.Part{gemini.TextPart(TranscriptInstruction + req.Transcript)}
	} else {
		genReq.SystemInstruction = SystemInstruction(SourceAudio, req.Mode)
		genReq.Parts = []gemini.Part{gemini.BlobPart(req.Audio.MIMEType, req.Audio.Data)}
	}

	raw, model, err := g.tryModels(ctx, b.Provider, b.Models, func(ctx context.Context, model string) (string, error) {
		return g.native.GenerateContent(ctx, key, model, genReq)
	})
	if err != nil {
		return domain.NoteResult{}, err
	}
	return g.finish(b.Provider, model, raw)
}

func (g *Generator) generateTranscribed(ctx context.Context, b Transcribed, req Request) (domain.NoteResult, error) {
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		dependency := b.Dependency
		if dependency == "" {
			dependency = b.Provider
		}
		dependencyKey := req.Credentials.Key(dependency)
		opts := openai.TranscribeOptions{Model: b.TranscriptionModel, Language: b.TranscriptLanguage}

		text, err := Do(ctx, g.retry, func(ctx context.Context) (string, error) {
			return g.transcriber.Transcribe(ctx, dependencyKey, req.Audio, opts)
		}, g.notifier(dependency, b.TranscriptionModel))
		if err != nil {
			return domain.NoteResult{}, fmt.Errorf("transcribe audio: %w", err)
		}
		transcript = strings.TrimSpace(text)
		g.log.Debug().Str("provider", string(dependency)).Int("chars", len(transcript)).Msg("transcription complete")
	}

	key := req.Credentials.Key(b.Provider)
	system := SystemInstruction(SourceTranscript, req.Mode) + jsonShapeAddendum
	user := TranscriptInstruction + transcript

	raw, model, err := g.tryModels(ctx, b.Provider, []string{b.ChatModel}, func(ctx context.Context, model string) (string, error) {
		return g.chat.CompleteJSON(ctx, key, model, system, user)
	})
	if err != nil {
		return domain.NoteResult{}, err
	}
	return g.finish(b.Provider, model, raw)
}

// tryModels walks models in order. Transient failures are retried on the same
// model and then fall through to the next one; any other failure stops.
func (g *Generator) tryModels(
	ctx context.Context,
	provider domain.ProviderID,
	models []string,
	call func(ctx context.Context, model string) (string, error),
) (string, string, error) {
	if len(models) == 0 {
		return "", "", fmt.Errorf("%w: no models configured for %s", ErrModelsExhausted, provider)
	}

	var lastErr error
	for i, model := range models {
		g.log.Debug().Str("provider", string(provider)).Str("model", model).Msg("attempting model")

		raw, err := Do(ctx, g.retry, func(ctx context.Context) (string, error) {
			return call(ctx, model)
		}, g.notifier(provider, model))
		if err == nil {
			if strings.TrimSpace(raw) == "" {
				return "", model, fmt.Errorf("%w: %s", ErrEmptyResponse, model)
			}
			return raw, model, nil
		}

		lastErr = err
		if !apierror.IsTransient(err) {
			g.log.Warn().Err(err).Str("model", model).Msg("non-retryable model error")
			return "", model, err
		}
		if i < len(models)-1 {
			g.log.Warn().Err(err).Str("model", model).Str("next", models[i+1]).Msg("falling back to next model")
		}
	}

	g.log.Error().Err(lastErr).Str("provider", string(provider)).Msg("all models failed")
	return "", "", fmt.Errorf("%w: %w", ErrModelsExhausted, lastErr)
}

func (g *Generator) finish(provider domain.ProviderID, model string, raw string) (domain.NoteResult, error) {
	result, err := parseNote(raw)
	if err != nil {
		return domain.NoteResult{}, malformed(provider, err)
	}
	result.ModelUsed = model
	g.log.Info().Str("provider", string(provider)).Str("model", model).Int("turns", len(result.Transcript)).Msg("note generated")
	return result, nil
}

func (g *Generator) notifier(provider domain.ProviderID, model string) RetryNotify {
	return func(attempt int, err error, wait time.Duration) {
		g.log.Warn().
			Err(err).
			Str("provider", string(provider)).
			Str("model", model).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying transient provider error")
	}
}

func (g *Generator) normalize(soap domain.SOAP) domain.SOAP {
	if g.terms == nil {
		return soap
	}
	fields := []*string{&soap.S, &soap.O, &soap.A, &soap.P}
	for _, field := range fields {
		out, err := g.terms.Apply(*field)
		if err != nil {
			g.log.Warn().Err(err).Msg("terminology rules failed; keeping model text")
			continue
		}
		*field = out
	}
	return soap
}
