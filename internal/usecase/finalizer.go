package usecase

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"medivoice/internal/apierror"
	"medivoice/internal/domain"
	"medivoice/internal/notes"
	"medivoice/internal/ports"
)

// noteFinalizer runs note generation and hands the outcome to the UI.
type noteFinalizer struct {
	notes  ports.NoteGenerator
	events ports.EventSink
	log    zerolog.Logger
}

func newNoteFinalizer(generator ports.NoteGenerator, events ports.EventSink, log zerolog.Logger) noteFinalizer {
	return noteFinalizer{notes: generator, events: events, log: log}
}

func (f noteFinalizer) Finalize(ctx context.Context, req ports.NoteRequest, patient domain.Patient) (domain.NoteResult, domain.SessionStateReason, error) {
	result, err := f.notes.Generate(ctx, req)
	if err != nil {
		f.log.Error().Err(err).
			Str("provider", string(req.Provider)).
			Str("class", string(apierror.ClassOf(err))).
			Msg("note generation failed")
		f.events.SessionError(failureCode(err), failureMessage(err))
		return domain.NoteResult{}, domain.SessionReasonNoteFailed, err
	}

	f.log.Info().Str("provider", string(req.Provider)).Str("model", result.ModelUsed).
		Int("turns", len(result.Transcript)).Msg("note ready")
	f.events.NoteReady(domain.NoteReady{Result: result, Patient: patient})
	return result, domain.SessionReasonNoteReady, nil
}

func failureCode(err error) domain.ErrorCode {
	if notes.IsConfiguration(err) {
		return domain.ErrorCodeConfiguration
	}
	return domain.ErrorCodeGeneration
}

func failureMessage(err error) string {
	switch {
	case notes.IsConfiguration(err):
		return err.Error()
	case errors.Is(err, notes.ErrEmptyResponse):
		return "AIから応答がありませんでした。もう一度お試しください。"
	case errors.Is(err, notes.ErrNoInput):
		return "音声データがありません。"
	default:
		return apierror.Guidance(err)
	}
}
