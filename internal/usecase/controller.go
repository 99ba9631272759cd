package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"medivoice/internal/audio"
	"medivoice/internal/domain"
	"medivoice/internal/lang"
	"medivoice/internal/ports"
	"medivoice/internal/records"
)

var (
	ErrNoActiveSession   = errors.New("no active recording session")
	ErrBusy              = errors.New("a note is already being generated")
	ErrNotTranslating    = errors.New("live interpretation is not active")
	ErrNotPaused         = errors.New("recording is not paused")
	ErrPaused            = errors.New("recording is paused")
	ErrUnsupportedTarget = errors.New("unsupported target language")
)

// Config controls recording behavior.
type Config struct {
	Audio       ports.AudioConfig
	ChunkSize   int
	StopTimeout time.Duration
	Logger      zerolog.Logger
}

// SessionController owns the microphone and drives a recording from capture
// to a generated note or a saved interpretation log.
type SessionController struct {
	audio     ports.AudioCapture
	encoder   ports.AudioEncoder
	live      ports.LiveCoordinator
	store     ports.RecordStore
	notes     ports.NoteGenerator
	events    ports.EventSink
	finalizer noteFinalizer
	cfg       Config
	log       zerolog.Logger
	now       func() time.Time

	mu         sync.Mutex
	current    *activeSession
	processing bool
	recovered  domain.AudioPayload
}

func NewSessionController(
	capture ports.AudioCapture,
	encoder ports.AudioEncoder,
	generator ports.NoteGenerator,
	live ports.LiveCoordinator,
	store ports.RecordStore,
	events ports.EventSink,
	cfg Config,
) *SessionController {
	if cfg.ChunkSize < 256 {
		cfg.ChunkSize = 4096
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 4 * time.Second
	}
	if cfg.Audio.SampleRate <= 0 {
		cfg.Audio.SampleRate = 16000
	}
	if cfg.Audio.Channels <= 0 {
		cfg.Audio.Channels = 1
	}
	return &SessionController{
		audio:     capture,
		encoder:   encoder,
		live:      live,
		store:     store,
		notes:     generator,
		events:    events,
		finalizer: newNoteFinalizer(generator, events, cfg.Logger),
		cfg:       cfg,
		log:       cfg.Logger,
		now:       time.Now,
	}
}

// Start begins a new capture session, stopping any previous one first.
func (c *SessionController) Start(ctx context.Context, opts SessionOptions) error {
	opts, err := c.prepare(opts)
	if err != nil {
		return err
	}
	if opts.Mode == domain.ModeTranslate {
		if !lang.Supported(opts.TargetLanguage) || opts.TargetLanguage == lang.NativeCode {
			err := fmt.Errorf("%w: %q", ErrUnsupportedTarget, opts.TargetLanguage)
			c.events.SessionError(domain.ErrorCodeValidation, err.Error())
			return err
		}
	}

	var previous *activeSession
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return ErrBusy
	}
	previous = c.current
	c.current = nil
	c.mu.Unlock()

	if previous != nil {
		c.stopSession(previous)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	audioSession, err := c.audio.Start(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		c.log.Error().Err(err).Msg("microphone unavailable")
		c.events.SessionError(domain.ErrorCodeDevice, deviceMessage(err))
		c.events.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
		return err
	}

	active := &activeSession{
		cancel:    cancel,
		audio:     audioSession,
		opts:      opts,
		buffer:    &pcmBuffer{},
		state:     domain.SessionStateRecording,
		audioDone: make(chan struct{}),
	}

	var tee func([]byte)
	if active.translating() {
		err := c.live.Begin(sessionCtx, ports.LiveConfig{
			TargetLanguage: opts.TargetLanguage,
			TranslationKey: opts.Credentials.Key(domain.ProviderGemini),
		})
		if err != nil {
			_ = audioSession.Stop()
			cancel()
			c.events.SessionError(domain.ErrorCodeValidation, err.Error())
			return err
		}
		tee = c.live.Feed
	}

	c.mu.Lock()
	c.current = active
	c.recovered = domain.AudioPayload{}
	c.mu.Unlock()

	go pumpAudioChunks(active.audio, active.buffer, tee, c.cfg.ChunkSize, c.events, active.audioDone)

	reason := domain.SessionReasonRecordingStarted
	if previous != nil {
		reason = domain.SessionReasonRecordingRestarted
	}
	c.log.Info().Str("mode", string(opts.Mode)).Str("provider", string(opts.Provider)).Msg("recording started")
	c.events.SessionStateChanged(domain.SessionStateRecording, reason)
	return nil
}

// Stop finalizes a standard recording. A translate-mode recording is paused
// instead so the user can finalize, save the log or resume.
func (c *SessionController) Stop(ctx context.Context) error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}

	if !active.translating() {
		_, err := c.finalize(ctx, active)
		return err
	}

	if !active.transition(domain.SessionStateRecording, domain.SessionStatePaused) {
		return nil
	}
	active.buffer.SetPaused(true)
	c.live.StopListening()
	c.events.SessionStateChanged(domain.SessionStatePaused, domain.SessionReasonRecordingPaused)
	return nil
}

// Resume continues a paused translate-mode recording.
func (c *SessionController) Resume() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !active.transition(domain.SessionStatePaused, domain.SessionStateRecording) {
		return ErrNotPaused
	}
	active.buffer.SetPaused(false)
	c.events.SessionStateChanged(domain.SessionStateRecording, domain.SessionReasonRecordingResumed)
	return nil
}

// Finalize stops capture and generates a note from the whole recording.
func (c *SessionController) Finalize(ctx context.Context) (domain.NoteResult, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.NoteResult{}, err
	}
	return c.finalize(ctx, active)
}

// SaveLogOnly stores the live interpretation log as a record with empty
// SOAP sections, skipping note generation.
func (c *SessionController) SaveLogOnly(ctx context.Context) (domain.ClinicalRecord, error) {
	active, err := c.getCurrent()
	if err != nil {
		return domain.ClinicalRecord{}, err
	}
	if !active.translating() {
		return domain.ClinicalRecord{}, ErrNotTranslating
	}
	if !c.detach(active) {
		return domain.ClinicalRecord{}, ErrNoActiveSession
	}
	defer c.release()

	c.stopCapture(active)
	c.live.StopListening()
	c.live.Wait()
	utterances := c.live.Close()
	active.cancel()

	result := buildLogResult(utterances, active.opts.TargetLanguage)
	record := records.NewRecord(active.opts.Patient, result, c.now())
	saved, err := c.store.Save(context.WithoutCancel(ctx), record)
	if err != nil {
		c.log.Error().Err(err).Msg("saving interpretation log failed")
		c.events.SessionError(domain.ErrorCodeStorage, fmt.Sprintf("記録の保存に失敗しました: %v", err))
		c.setState(active, domain.SessionStateIdle, domain.SessionReasonStorageFailed)
		return domain.ClinicalRecord{}, err
	}

	c.log.Info().Str("record", saved.ID).Int("turns", len(saved.Data.Transcript)).Msg("interpretation log saved")
	c.events.LogSaved(saved)
	c.setState(active, domain.SessionStateIdle, domain.SessionReasonLogSaved)
	return saved, nil
}

// Abort cancels and discards an active session.
func (c *SessionController) Abort() error {
	active, err := c.getCurrent()
	if err != nil {
		return err
	}
	if !c.detach(active) {
		return ErrNoActiveSession
	}
	defer c.release()

	c.stopSession(active)
	c.setState(active, domain.SessionStateIdle, domain.SessionReasonRecordingDiscarded)
	return nil
}

// ToggleRole switches the live listener. See ports.LiveCoordinator.
func (c *SessionController) ToggleRole(ctx context.Context, role domain.Role) (domain.Role, error) {
	active, err := c.getCurrent()
	if err != nil {
		return "", err
	}
	if !active.translating() {
		return "", ErrNotTranslating
	}
	if active.getState() != domain.SessionStateRecording {
		return "", ErrPaused
	}
	return c.live.ToggleRole(ctx, role)
}

// ProcessUpload generates a note from a pre-recorded file.
func (c *SessionController) ProcessUpload(ctx context.Context, opts SessionOptions, upload audio.Upload, data []byte) (domain.NoteResult, error) {
	if len(data) > 0 {
		upload.Size = int64(len(data))
	}
	if err := audio.ValidateUpload(upload); err != nil {
		c.events.SessionError(domain.ErrorCodeValidation, err.Error())
		return domain.NoteResult{}, err
	}
	opts, err := c.prepare(opts)
	if err != nil {
		return domain.NoteResult{}, err
	}

	c.mu.Lock()
	if c.processing || c.current != nil {
		c.mu.Unlock()
		return domain.NoteResult{}, ErrBusy
	}
	c.processing = true
	c.mu.Unlock()
	defer c.release()

	c.events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonProcessing)
	req := ports.NoteRequest{
		Provider:    opts.Provider,
		Mode:        opts.Mode,
		Audio:       domain.AudioPayload{Data: data, MIMEType: audio.MIMETypeFor(upload.Name)},
		Credentials: opts.Credentials,
	}
	result, reason, err := c.finalizer.Finalize(context.WithoutCancel(ctx), req, opts.Patient)
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
	return result, err
}

// RecoveredAudio returns the payload of the last recording whose note
// generation failed.
func (c *SessionController) RecoveredAudio() (domain.AudioPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovered, !c.recovered.Empty()
}

// DiscardRecoveredAudio forgets the preserved payload.
func (c *SessionController) DiscardRecoveredAudio() {
	c.mu.Lock()
	c.recovered = domain.AudioPayload{}
	c.mu.Unlock()
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	current := c.current
	processing := c.processing
	recovered := !c.recovered.Empty()
	c.mu.Unlock()

	status := domain.Status{State: domain.SessionStateIdle, Recovered: recovered}
	switch {
	case current != nil:
		status.State = current.getState()
		status.Active = true
		status.Mode = current.opts.Mode
		if current.translating() {
			status.ActiveRole = c.live.ActiveRole()
		}
	case processing:
		status.State = domain.SessionStateProcessing
		status.Active = true
	}
	return status
}

func (c *SessionController) prepare(opts SessionOptions) (SessionOptions, error) {
	if opts.Mode == "" {
		opts.Mode = domain.ModeStandard
	}
	if opts.Provider == "" {
		opts.Provider = domain.ProviderGemini
	}

	if err := c.notes.CheckCredentials(opts.Provider, opts.Credentials); err != nil {
		c.events.SessionError(domain.ErrorCodeConfiguration, err.Error())
		return opts, err
	}
	return opts, nil
}

func (c *SessionController) finalize(ctx context.Context, active *activeSession) (domain.NoteResult, error) {
	if !c.detach(active) {
		return domain.NoteResult{}, ErrNoActiveSession
	}
	defer c.release()

	active.setState(domain.SessionStateProcessing)
	c.events.SessionStateChanged(domain.SessionStateProcessing, domain.SessionReasonProcessing)

	c.stopCapture(active)
	if active.translating() {
		_ = c.live.Close()
	}
	active.cancel()

	// Generation is never canceled once issued.
	genCtx := context.WithoutCancel(ctx)

	pcm := active.buffer.Bytes()
	if len(pcm) == 0 {
		c.events.SessionError(domain.ErrorCodeAudioStream, "録音データがありません。")
		c.setState(active, domain.SessionStateIdle, domain.SessionReasonNoAudio)
		return domain.NoteResult{}, audio.ErrNoAudio
	}

	format := ports.PCMFormat{
		SampleRate: c.cfg.Audio.SampleRate,
		Channels:   c.cfg.Audio.Channels,
		BitDepth:   16,
	}
	payload, err := c.encoder.Encode(genCtx, pcm, format)
	if err != nil {
		c.log.Error().Err(err).Int("bytes", len(pcm)).Msg("encoding recording failed")
		c.mu.Lock()
		c.recovered = audio.RawPCM(pcm, format)
		c.mu.Unlock()
		c.events.SessionError(domain.ErrorCodeAudioStream, fmt.Sprintf("録音データの変換に失敗しました: %v", err))
		c.setState(active, domain.SessionStateIdle, domain.SessionReasonNoteFailed)
		return domain.NoteResult{}, err
	}

	req := ports.NoteRequest{
		Provider:    active.opts.Provider,
		Mode:        active.opts.Mode,
		Audio:       payload,
		Credentials: active.opts.Credentials,
	}
	result, reason, err := c.finalizer.Finalize(genCtx, req, active.opts.Patient)
	if err != nil {
		c.mu.Lock()
		c.recovered = payload
		c.mu.Unlock()
	}
	c.setState(active, domain.SessionStateIdle, reason)
	return result, err
}

func deviceMessage(err error) string {
	if errors.Is(err, audio.ErrPermissionDenied) {
		return "マイクへのアクセスが拒否されました。ブラウザまたはOSの設定を確認してください。"
	}
	return fmt.Sprintf("マイクを使用できません: %v", err)
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

// detach claims active for a terminal operation. Only one caller wins.
func (c *SessionController) detach(active *activeSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != active {
		return false
	}
	c.current = nil
	c.processing = true
	return true
}

func (c *SessionController) release() {
	c.mu.Lock()
	c.processing = false
	c.mu.Unlock()
}

// stopCapture releases the microphone and drains the pump.
func (c *SessionController) stopCapture(active *activeSession) {
	if err := active.audio.Stop(); err != nil {
		c.log.Warn().Err(err).Msg("audio capture did not stop cleanly")
		c.events.SessionError(domain.ErrorCodeAudioStop, "failed to stop audio capture cleanly")
	}
	waitForPump(active.audio, active.audioDone, c.cfg.StopTimeout)
}

func (c *SessionController) stopSession(active *activeSession) {
	active.cancel()
	_ = active.audio.Stop()
	waitForPump(active.audio, active.audioDone, c.cfg.StopTimeout)
	if active.translating() {
		_ = c.live.Close()
	}
}

func (c *SessionController) setState(active *activeSession, state domain.SessionState, reason domain.SessionStateReason) {
	active.setState(state)
	c.events.SessionStateChanged(state, reason)
}
