package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range env {
		t.Setenv(name, "")
	}
	t.Setenv("MEDIVOICE_CONFIG_FILE", "")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load(WithEnvFile(""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	dataDir := filepath.Join(home, ".config", "medivoice")
	if cfg.Storage.DataDir != dataDir || cfg.Storage.DatabasePath != filepath.Join(dataDir, "medivoice.sqlite") {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
	if cfg.Terms.Path != filepath.Join(dataDir, "terms.rules") || cfg.Terms.PassLimit != 30 {
		t.Fatalf("unexpected terms config: %+v", cfg.Terms)
	}
	wantModels := []string{"gemini-2.5-flash", "gemini-2.0-flash-exp", "gemini-1.5-flash"}
	if !reflect.DeepEqual(cfg.Gemini.NoteModels, wantModels) {
		t.Fatalf("unexpected note models: %v", cfg.Gemini.NoteModels)
	}
	if cfg.Gemini.TranslateModel != "gemini-2.5-flash" || cfg.Gemini.Timeout != 0 || cfg.OpenAI.Timeout != 0 {
		t.Fatalf("unexpected gemini config: %+v", cfg.Gemini)
	}
	if cfg.OpenAI.TranscriptionModel != "whisper-1" || cfg.OpenAI.ChatModel != "gpt-4o" {
		t.Fatalf("unexpected openai config: %+v", cfg.OpenAI)
	}
	if cfg.Audio.Bitrate != 32000 || cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 1 {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.Factor != 2 {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	if !cfg.Deepgram.SmartFormat || cfg.Deepgram.Model != "nova-2" {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if cfg.Session.TargetLanguage != "en" || cfg.Log.Level != "info" {
		t.Fatalf("unexpected session/log config: %+v %+v", cfg.Session, cfg.Log)
	}
}

func TestLoadRespectsOverridesAndFallbacks(t *testing.T) {
	clearEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("DEEPGRAM_API_KEY", "dg-key")
	t.Setenv("DEEPGRAM_API_BASE", "https://example.com/v1")
	t.Setenv("DEEPGRAM_SMART_FORMAT", "false")
	t.Setenv("GEMINI_NOTE_MODELS", " gemini-x , ,gemini-y ")
	t.Setenv("GEMINI_TEMPERATURE", "0.5")
	t.Setenv("OPENAI_TIMEOUT", "45s")
	t.Setenv("MEDIVOICE_FFMPEG_COMMAND", "my-ffmpeg")
	t.Setenv("MEDIVOICE_AUDIO_INPUT_FORMAT", "alsa")
	t.Setenv("MEDIVOICE_AUDIO_INPUT_DEVICE", "mic0")
	t.Setenv("MEDIVOICE_SAMPLE_RATE", "-1")
	t.Setenv("MEDIVOICE_CHANNELS", "2")
	t.Setenv("MEDIVOICE_AUDIO_CHUNK_SIZE", "12")
	t.Setenv("MEDIVOICE_TARGET_LANGUAGE", "VI")
	t.Setenv("MEDIVOICE_RETRY_MAX_ATTEMPTS", "6")
	t.Setenv("MEDIVOICE_RETRY_BASE_DELAY", "250ms")
	t.Setenv("MEDIVOICE_DATA_DIR", filepath.Join(home, "data"))
	t.Setenv("MEDIVOICE_TERMS_FILE", filepath.Join(home, "clinic.rules"))
	t.Setenv("MEDIVOICE_LOG_FORMAT", "json")

	cfg, err := Load(WithEnvFile(""))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Deepgram.APIKey != "dg-key" || cfg.Deepgram.APIBaseURL != "https://example.com/v1" || cfg.Deepgram.SmartFormat {
		t.Fatalf("unexpected deepgram config: %+v", cfg.Deepgram)
	}
	if !reflect.DeepEqual(cfg.Gemini.NoteModels, []string{"gemini-x", "gemini-y"}) || cfg.Gemini.Temperature != 0.5 {
		t.Fatalf("unexpected gemini config: %+v", cfg.Gemini)
	}
	if cfg.OpenAI.Timeout != 45*time.Second {
		t.Fatalf("unexpected openai timeout: %s", cfg.OpenAI.Timeout)
	}
	if cfg.Audio.RecorderCommand != "my-ffmpeg" || cfg.Audio.InputFormat != "alsa" || cfg.Audio.InputDevice != "mic0" {
		t.Fatalf("unexpected audio config: %+v", cfg.Audio)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.Channels != 2 {
		t.Fatalf("expected sample rate fallback, got %+v", cfg.Audio)
	}
	if cfg.Session.ChunkSize != 4096 || cfg.Session.TargetLanguage != "vi" {
		t.Fatalf("unexpected session config: %+v", cfg.Session)
	}
	if cfg.Retry.MaxAttempts != 6 || cfg.Retry.BaseDelay != 250*time.Millisecond {
		t.Fatalf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.Storage.DatabasePath != filepath.Join(home, "data", "medivoice.sqlite") {
		t.Fatalf("unexpected db path: %s", cfg.Storage.DatabasePath)
	}
	if cfg.Terms.Path != filepath.Join(home, "clinic.rules") || cfg.Log.Format != "json" {
		t.Fatalf("unexpected terms/log config: %+v %+v", cfg.Terms, cfg.Log)
	}
}

func TestLoadRejectsUnsupportedTargetLanguage(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	for _, code := range []string{"xx", "ja"} {
		t.Setenv("MEDIVOICE_TARGET_LANGUAGE", code)
		cfg, err := Load(WithEnvFile(""))
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if cfg.Session.TargetLanguage != "en" {
			t.Fatalf("%s: expected en fallback, got %q", code, cfg.Session.TargetLanguage)
		}
	}
}

func TestLoadReadsEnvFileWithoutOverridingEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MEDIVOICE_LOG_LEVEL", "warn")
	t.Setenv("OPENAI_CHAT_MODEL", "")
	if err := os.Unsetenv("OPENAI_CHAT_MODEL"); err != nil {
		t.Fatalf("unsetenv failed: %v", err)
	}

	envFile := filepath.Join(t.TempDir(), ".env")
	contents := "MEDIVOICE_LOG_LEVEL=debug\nOPENAI_CHAT_MODEL=gpt-4o-mini\n"
	if err := os.WriteFile(envFile, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(WithEnvFile(envFile))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("environment should win over .env, got %q", cfg.Log.Level)
	}
	if cfg.OpenAI.ChatModel != "gpt-4o-mini" {
		t.Fatalf("expected .env value, got %q", cfg.OpenAI.ChatModel)
	}
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	if _, err := Load(WithEnvFile(filepath.Join(t.TempDir(), "absent.env"))); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())

	path := filepath.Join(t.TempDir(), "medivoice.yaml")
	contents := "deepgram:\n  model: nova-3\nsession:\n  target_language: zh\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cfg, err := Load(WithEnvFile(""), WithConfigFile(path))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Deepgram.Model != "nova-3" || cfg.Session.TargetLanguage != "zh" {
		t.Fatalf("config file values not applied: %+v %+v", cfg.Deepgram, cfg.Session)
	}
}
