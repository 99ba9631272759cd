package usecase

import (
	"testing"

	"medivoice/internal/domain"
)

func TestBuildLogResultSkipsBlankUtterances(t *testing.T) {
	t.Parallel()

	result := buildLogResult([]domain.LiveUtterance{
		{Role: domain.RolePatient, OriginalText: "  "},
		{Role: domain.RoleClinician, OriginalText: "お大事に", TranslatedText: " Take care "},
	}, "en")

	if result.DetectedLanguage != "en" || len(result.Transcript) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if got := result.Transcript[0]; got.Speaker != domain.RoleClinician || got.Text != "お大事に (Take care)" {
		t.Fatalf("unexpected turn: %+v", got)
	}
}

func TestBuildLogResultEmpty(t *testing.T) {
	t.Parallel()

	result := buildLogResult(nil, "vi")
	if result.Transcript == nil || len(result.Transcript) != 0 {
		t.Fatalf("expected empty, non-nil transcript: %+v", result.Transcript)
	}
}
