package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"medivoice/internal/lang"
	"medivoice/internal/localstore"
	"medivoice/internal/terms"
)

// Config stores runtime configuration for the desktop app.
type Config struct {
	Deepgram DeepgramConfig
	Gemini   GeminiConfig
	OpenAI   OpenAIConfig
	Audio    AudioConfig
	Terms    TermsConfig
	Session  SessionConfig
	Retry    RetryConfig
	Storage  StorageConfig
	Log      LogConfig
}

type DeepgramConfig struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

// GeminiConfig holds the native-audio provider settings. APIKey only seeds
// the credential cache when the user has not saved a key.
type GeminiConfig struct {
	APIKey         string
	BaseURL        string
	NoteModels     []string
	TranslateModel string
	Temperature    float64
	Timeout        time.Duration
}

type OpenAIConfig struct {
	APIKey             string
	BaseURL            string
	TranscriptionModel string
	ChatModel          string
	Timeout            time.Duration
}

type AudioConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	SampleRate      int
	Channels        int
	Bitrate         int
}

type TermsConfig struct {
	Path      string
	PassLimit int
}

type SessionConfig struct {
	ChunkSize      int
	TargetLanguage string
}

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Factor      float64
	MaxDelay    time.Duration
}

type StorageConfig struct {
	DataDir      string
	DatabasePath string
}

type LogConfig struct {
	Level  string
	Format string
}

// env maps viper keys to the environment variables that feed them.
var env = map[string]string{
	"deepgram.api_key":           "DEEPGRAM_API_KEY",
	"deepgram.api_base":          "DEEPGRAM_API_BASE",
	"deepgram.model":             "DEEPGRAM_MODEL",
	"deepgram.smart_format":      "DEEPGRAM_SMART_FORMAT",
	"gemini.api_key":             "GEMINI_API_KEY",
	"gemini.api_base":            "GEMINI_API_BASE",
	"gemini.note_models":         "GEMINI_NOTE_MODELS",
	"gemini.translate_model":     "GEMINI_TRANSLATE_MODEL",
	"gemini.temperature":         "GEMINI_TEMPERATURE",
	"gemini.timeout":             "GEMINI_TIMEOUT",
	"openai.api_key":             "OPENAI_API_KEY",
	"openai.api_base":            "OPENAI_API_BASE",
	"openai.transcription_model": "OPENAI_TRANSCRIPTION_MODEL",
	"openai.chat_model":          "OPENAI_CHAT_MODEL",
	"openai.timeout":             "OPENAI_TIMEOUT",
	"audio.ffmpeg_command":       "MEDIVOICE_FFMPEG_COMMAND",
	"audio.input_format":         "MEDIVOICE_AUDIO_INPUT_FORMAT",
	"audio.input_device":         "MEDIVOICE_AUDIO_INPUT_DEVICE",
	"audio.sample_rate":          "MEDIVOICE_SAMPLE_RATE",
	"audio.channels":             "MEDIVOICE_CHANNELS",
	"audio.bitrate":              "MEDIVOICE_AUDIO_BITRATE",
	"terms.file":                 "MEDIVOICE_TERMS_FILE",
	"terms.pass_limit":           "MEDIVOICE_TERMS_PASS_LIMIT",
	"session.chunk_size":         "MEDIVOICE_AUDIO_CHUNK_SIZE",
	"session.target_language":    "MEDIVOICE_TARGET_LANGUAGE",
	"retry.max_attempts":         "MEDIVOICE_RETRY_MAX_ATTEMPTS",
	"retry.base_delay":           "MEDIVOICE_RETRY_BASE_DELAY",
	"retry.factor":               "MEDIVOICE_RETRY_FACTOR",
	"retry.max_delay":            "MEDIVOICE_RETRY_MAX_DELAY",
	"storage.data_dir":           "MEDIVOICE_DATA_DIR",
	"storage.database":           "MEDIVOICE_DB_PATH",
	"log.level":                  "MEDIVOICE_LOG_LEVEL",
	"log.format":                 "MEDIVOICE_LOG_FORMAT",
}

var defaults = map[string]any{
	"deepgram.api_base":          "https://api.deepgram.com/v1",
	"deepgram.model":             "nova-2",
	"deepgram.smart_format":      true,
	"gemini.api_base":            "https://generativelanguage.googleapis.com",
	"gemini.note_models":         "gemini-2.5-flash,gemini-2.0-flash-exp,gemini-1.5-flash",
	"gemini.translate_model":     "gemini-2.5-flash",
	"gemini.temperature":         0.2,
	"openai.api_base":            "https://api.openai.com",
	"openai.transcription_model": "whisper-1",
	"openai.chat_model":          "gpt-4o",
	"audio.ffmpeg_command":       "ffmpeg",
	"audio.input_format":         "pulse",
	"audio.input_device":         "default",
	"audio.sample_rate":          16000,
	"audio.channels":             1,
	"audio.bitrate":              32000,
	"terms.pass_limit":           30,
	"session.chunk_size":         4096,
	"session.target_language":    "en",
	"retry.max_attempts":         4,
	"retry.base_delay":           "1s",
	"retry.factor":               2.0,
	"retry.max_delay":            "30s",
	"log.level":                  "info",
	"log.format":                 "console",
}

type loaderConfig struct {
	envFile    string
	configFile string
}

// LoaderOption customises Load.
type LoaderOption func(*loaderConfig)

// WithEnvFile reads variables from path instead of ./.env.
func WithEnvFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.envFile = path }
}

// WithConfigFile reads a YAML/TOML/JSON file underneath the environment.
func WithConfigFile(path string) LoaderOption {
	return func(lc *loaderConfig) { lc.configFile = path }
}

// Load resolves configuration from an optional config file, an optional
// .env file, environment variables and defaults. Real environment variables
// win over .env entries.
func Load(opts ...LoaderOption) (Config, error) {
	lc := loaderConfig{
		envFile:    ".env",
		configFile: strings.TrimSpace(os.Getenv("MEDIVOICE_CONFIG_FILE")),
	}
	for _, opt := range opts {
		opt(&lc)
	}

	if lc.envFile != "" {
		if err := godotenv.Load(lc.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %q: %w", lc.envFile, err)
		}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for key, name := range env {
		if err := v.BindEnv(key, name); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", name, err)
		}
	}
	if lc.configFile != "" {
		v.SetConfigFile(lc.configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %q: %w", lc.configFile, err)
		}
	}

	dataDir := strings.TrimSpace(v.GetString("storage.data_dir"))
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, errors.New("could not determine home directory")
		}
		dataDir = filepath.Join(home, ".config", "medivoice")
	}

	cfg := Config{
		Deepgram: DeepgramConfig{
			APIKey:      strings.TrimSpace(v.GetString("deepgram.api_key")),
			APIBaseURL:  strings.TrimSpace(v.GetString("deepgram.api_base")),
			Model:       strings.TrimSpace(v.GetString("deepgram.model")),
			SmartFormat: v.GetBool("deepgram.smart_format"),
		},
		Gemini: GeminiConfig{
			APIKey:         strings.TrimSpace(v.GetString("gemini.api_key")),
			BaseURL:        strings.TrimSpace(v.GetString("gemini.api_base")),
			NoteModels:     splitList(v.GetString("gemini.note_models")),
			TranslateModel: strings.TrimSpace(v.GetString("gemini.translate_model")),
			Temperature:    v.GetFloat64("gemini.temperature"),
			Timeout:        v.GetDuration("gemini.timeout"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             strings.TrimSpace(v.GetString("openai.api_key")),
			BaseURL:            strings.TrimSpace(v.GetString("openai.api_base")),
			TranscriptionModel: strings.TrimSpace(v.GetString("openai.transcription_model")),
			ChatModel:          strings.TrimSpace(v.GetString("openai.chat_model")),
			Timeout:            v.GetDuration("openai.timeout"),
		},
		Audio: AudioConfig{
			RecorderCommand: strings.TrimSpace(v.GetString("audio.ffmpeg_command")),
			InputFormat:     strings.TrimSpace(v.GetString("audio.input_format")),
			InputDevice:     strings.TrimSpace(v.GetString("audio.input_device")),
			SampleRate:      v.GetInt("audio.sample_rate"),
			Channels:        v.GetInt("audio.channels"),
			Bitrate:         v.GetInt("audio.bitrate"),
		},
		Terms: TermsConfig{
			Path:      strings.TrimSpace(v.GetString("terms.file")),
			PassLimit: v.GetInt("terms.pass_limit"),
		},
		Session: SessionConfig{
			ChunkSize:      v.GetInt("session.chunk_size"),
			TargetLanguage: strings.ToLower(strings.TrimSpace(v.GetString("session.target_language"))),
		},
		Retry: RetryConfig{
			MaxAttempts: v.GetInt("retry.max_attempts"),
			BaseDelay:   v.GetDuration("retry.base_delay"),
			Factor:      v.GetFloat64("retry.factor"),
			MaxDelay:    v.GetDuration("retry.max_delay"),
		},
		Storage: StorageConfig{
			DataDir:      dataDir,
			DatabasePath: strings.TrimSpace(v.GetString("storage.database")),
		},
		Log: LogConfig{
			Level:  strings.TrimSpace(v.GetString("log.level")),
			Format: strings.TrimSpace(v.GetString("log.format")),
		},
	}

	cfg.sanitize()
	return cfg, nil
}

func (cfg *Config) sanitize() {
	if cfg.Audio.RecorderCommand == "" {
		cfg.Audio.RecorderCommand = "ffmpeg"
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	if cfg.Audio.Bitrate <= 0 {
		cfg.Audio.Bitrate = 32000
	}
	if cfg.Terms.Path == "" {
		cfg.Terms.Path = terms.DefaultPath(cfg.Storage.DataDir)
	}
	if cfg.Terms.PassLimit <= 0 {
		cfg.Terms.PassLimit = 30
	}
	if cfg.Session.ChunkSize < 256 {
		cfg.Session.ChunkSize = 4096
	}
	if !lang.Supported(cfg.Session.TargetLanguage) || cfg.Session.TargetLanguage == lang.NativeCode {
		cfg.Session.TargetLanguage = "en"
	}
	if len(cfg.Gemini.NoteModels) == 0 {
		cfg.Gemini.NoteModels = splitList(defaults["gemini.note_models"].(string))
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 4
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = time.Second
	}
	if cfg.Retry.Factor < 1 {
		cfg.Retry.Factor = 2
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = localstore.DefaultPath(cfg.Storage.DataDir)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
