package bootstrap

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"medivoice/internal/audio"
	"medivoice/internal/config"
	"medivoice/internal/credentials"
	"medivoice/internal/domain"
	"medivoice/internal/live"
	"medivoice/internal/localstore"
	"medivoice/internal/logging"
	"medivoice/internal/notes"
	"medivoice/internal/ports"
	"medivoice/internal/providers/deepgram"
	"medivoice/internal/providers/gemini"
	"medivoice/internal/providers/openai"
	"medivoice/internal/records"
	"medivoice/internal/terms"
	"medivoice/internal/translate"
	"medivoice/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller  *usecase.SessionController
	Records     *records.Store
	Credentials *credentials.Cache
	Clipboard   ports.Clipboard
	Config      config.Config
	Logger      zerolog.Logger

	db *localstore.Store
}

// Close releases the local database.
func (s Services) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Build wires all backend dependencies for the current runtime.
func Build(ctx context.Context, eventSink ports.EventSink, clipboard ports.Clipboard, opts ...config.LoaderOption) (Services, error) {
	cfg, err := config.Load(opts...)
	if err != nil {
		return Services{}, err
	}

	root := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	normalizer, err := terms.Load(cfg.Terms.Path, cfg.Terms.PassLimit)
	if err != nil {
		return Services{}, err
	}

	db, err := localstore.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return Services{}, err
	}
	creds := credentials.NewCache(db)
	if err := creds.Load(ctx); err != nil {
		_ = db.Close()
		return Services{}, fmt.Errorf("load credentials: %w", err)
	}
	store := records.NewStore(db)

	retry := notes.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Factor:      cfg.Retry.Factor,
		MaxDelay:    cfg.Retry.MaxDelay,
	}
	geminiClient := gemini.NewClient(gemini.Config{BaseURL: cfg.Gemini.BaseURL, Timeout: cfg.Gemini.Timeout})
	openaiClient := openai.NewClient(openai.Config{BaseURL: cfg.OpenAI.BaseURL, Timeout: cfg.OpenAI.Timeout})

	generator := notes.NewGenerator(geminiClient, openaiClient, openaiClient, notes.Options{
		Backends: backends(cfg),
		Retry:    retry,
		Terms:    normalizer,
		Logger:   logging.Component(root, "notes"),
	})

	translator := translate.New(geminiClient, translate.Options{
		Model:  cfg.Gemini.TranslateModel,
		Retry:  retry,
		Logger: logging.Component(root, "translate"),
	})

	recognizer := deepgram.NewRecognizer(deepgram.Config{
		APIKey:      cfg.Deepgram.APIKey,
		APIBaseURL:  cfg.Deepgram.APIBaseURL,
		Model:       cfg.Deepgram.Model,
		SmartFormat: cfg.Deepgram.SmartFormat,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    cfg.Audio.Channels,
		Encoding:    "linear16",
		Logger:      logging.Component(root, "deepgram"),
	})
	coordinator := live.NewCoordinator(recognizer, translator, eventSink, logging.Component(root, "live"))

	controller := usecase.NewSessionController(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand, logging.Component(root, "capture")),
		audio.NewOpusEncoder(cfg.Audio.RecorderCommand, cfg.Audio.Bitrate, logging.Component(root, "encoder")),
		generator,
		coordinator,
		store,
		eventSink,
		usecase.Config{
			Audio: ports.AudioConfig{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			ChunkSize: cfg.Session.ChunkSize,
			Logger:    logging.Component(root, "session"),
		},
	)

	root.Info().
		Int("terms", normalizer.Len()).
		Str("database", cfg.Storage.DatabasePath).
		Msg("backend ready")

	return Services{
		Controller:  controller,
		Records:     store,
		Credentials: creds,
		Clipboard:   clipboard,
		Config:      cfg,
		Logger:      root,
		db:          db,
	}, nil
}

// SessionCredentials snapshots saved keys, falling back to environment keys
// for providers the user has not configured.
func (s Services) SessionCredentials() domain.Credentials {
	snapshot := domain.Credentials{}
	if s.Credentials != nil {
		snapshot = s.Credentials.Snapshot()
	}
	fallback := map[domain.ProviderID]string{
		domain.ProviderGemini: s.Config.Gemini.APIKey,
		domain.ProviderOpenAI: s.Config.OpenAI.APIKey,
	}
	for provider, key := range fallback {
		if !snapshot.Has(provider) && key != "" {
			snapshot[provider] = key
		}
	}
	return snapshot
}

func backends(cfg config.Config) map[domain.ProviderID]notes.Backend {
	table := notes.DefaultBackends()
	table[domain.ProviderGemini] = notes.NativeAudio{
		Provider:    domain.ProviderGemini,
		Models:      cfg.Gemini.NoteModels,
		Temperature: cfg.Gemini.Temperature,
	}
	if openaiBackend, ok := table[domain.ProviderOpenAI].(notes.Transcribed); ok {
		if cfg.OpenAI.TranscriptionModel != "" {
			openaiBackend.TranscriptionModel = cfg.OpenAI.TranscriptionModel
		}
		if cfg.OpenAI.ChatModel != "" {
			openaiBackend.ChatModel = cfg.OpenAI.ChatModel
		}
		table[domain.ProviderOpenAI] = openaiBackend
	}
	return table
}
