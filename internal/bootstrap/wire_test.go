package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"medivoice/internal/config"
	"medivoice/internal/domain"
	"medivoice/internal/notes"
)

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("MEDIVOICE_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("MEDIVOICE_CONFIG_FILE", "")
	t.Setenv("MEDIVOICE_TERMS_FILE", "")
	t.Setenv("MEDIVOICE_DB_PATH", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	return home
}

func TestBuildSuccess(t *testing.T) {
	home := isolate(t)
	t.Setenv("DEEPGRAM_API_KEY", "test-key")

	services, err := Build(context.Background(), noopEventSink{}, noopClipboard{}, config.WithEnvFile(""))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	if services.Controller == nil || services.Records == nil || services.Credentials == nil {
		t.Fatalf("expected assembled services: %+v", services)
	}
	if _, err := os.Stat(filepath.Join(home, "data", "medivoice.sqlite")); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
}

func TestBuildFailsOnInvalidTerms(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "bad.rules")
	if err := os.WriteFile(path, []byte("not a valid rule\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("MEDIVOICE_TERMS_FILE", path)

	if _, err := Build(context.Background(), noopEventSink{}, noopClipboard{}, config.WithEnvFile("")); err == nil {
		t.Fatalf("expected build error due to invalid terms")
	}
}

func TestSessionCredentialsPrefersSavedKeys(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "env-gemini")
	t.Setenv("OPENAI_API_KEY", "env-openai")

	ctx := context.Background()
	services, err := Build(ctx, noopEventSink{}, noopClipboard{}, config.WithEnvFile(""))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	t.Cleanup(func() { _ = services.Close() })

	if err := services.Credentials.Save(ctx, domain.ProviderGemini, "saved-gemini"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	creds := services.SessionCredentials()
	if got := creds.Key(domain.ProviderGemini); got != "saved-gemini" {
		t.Fatalf("expected saved gemini key, got %q", got)
	}
	if got := creds.Key(domain.ProviderOpenAI); got != "env-openai" {
		t.Fatalf("expected env openai key, got %q", got)
	}
}

func TestBackendsFollowConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Gemini: config.GeminiConfig{NoteModels: []string{"gemini-x"}, Temperature: 0.3},
		OpenAI: config.OpenAIConfig{ChatModel: "gpt-test"},
	}
	table := backends(cfg)

	native, ok := table[domain.ProviderGemini].(notes.NativeAudio)
	if !ok || len(native.Models) != 1 || native.Models[0] != "gemini-x" {
		t.Fatalf("unexpected gemini backend: %#v", table[domain.ProviderGemini])
	}
	transcribed, ok := table[domain.ProviderOpenAI].(notes.Transcribed)
	if !ok || transcribed.ChatModel != "gpt-test" || transcribed.TranscriptionModel != "whisper-1" {
		t.Fatalf("unexpected openai backend: %#v", table[domain.ProviderOpenAI])
	}
}

type noopEventSink struct{}

func (noopEventSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (noopEventSink) ActiveRoleChanged(domain.Role)                                      {}
func (noopEventSink) UtteranceUpdated(domain.LiveUtterance)                              {}
func (noopEventSink) NoteReady(domain.NoteReady)                                         {}
func (noopEventSink) LogSaved(domain.ClinicalRecord)                                     {}
func (noopEventSink) SessionError(domain.ErrorCode, string)                              {}

type noopClipboard struct{}

func (noopClipboard) SetText(context.Context, string) error { return nil }
