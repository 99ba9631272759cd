// Package live coordinates turn-based bilingual capture: one speaker listens
// at a time, final utterances are translated asynchronously.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"medivoice/internal/domain"
	"medivoice/internal/lang"
	"medivoice/internal/ports"
)

var (
	ErrNotStarted          = errors.New("live session has not started")
	ErrUnsupportedLanguage = errors.New("unsupported target language")
)

// Coordinator implements ports.LiveCoordinator.
type Coordinator struct {
	recognizer ports.Recognizer
	translator ports.Translator
	events     ports.EventSink
	log        zerolog.Logger

	newID func() string
	now   func() time.Time

	// toggleMu serializes listener transitions.
	toggleMu sync.Mutex

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	cfg        ports.LiveConfig
	active     *listener
	utterances []domain.LiveUtterance
	byID       map[string]int

	translations sync.WaitGroup
}

type listener struct {
	role    domain.Role
	session ports.RecognitionSession
	// ids maps result index to utterance identity for this listening session only.
	ids  map[int]string
	done chan struct{}
}

func NewCoordinator(recognizer ports.Recognizer, translator ports.Translator, events ports.EventSink, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		recognizer: recognizer,
		translator: translator,
		events:     events,
		log:        log,
		newID:      func() string { return uuid.NewString() },
		now:        time.Now,
		byID:       map[string]int{},
	}
}

// Begin starts a fresh live session, discarding any previous one.
func (c *Coordinator) Begin(ctx context.Context, cfg ports.LiveConfig) error {
	if !lang.Supported(cfg.TargetLanguage) {
		return fmt.Errorf("%w: %q", ErrUnsupportedLanguage, cfg.TargetLanguage)
	}

	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.stopActiveLocked()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.cfg = cfg
	c.utterances = nil
	c.byID = map[string]int{}
	c.mu.Unlock()

	if cfg.TranslationKey == "" {
		c.log.Info().Msg("no translation key; utterances will not be translated")
	}
	return nil
}

// ToggleRole stops role if it is listening, otherwise preempts the current
// listener and starts role. It returns the role now listening ("" for none).
func (c *Coordinator) ToggleRole(ctx context.Context, role domain.Role) (domain.Role, error) {
	if err := ctx.Err(); err != nil {
		return c.ActiveRole(), err
	}

	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()

	c.mu.Lock()
	sessionCtx := c.ctx
	cfg := c.cfg
	previous := c.active
	c.active = nil
	c.mu.Unlock()

	if sessionCtx == nil {
		return "", ErrNotStarted
	}

	if previous != nil {
		stopListener(previous)
		if previous.role == role {
			c.events.ActiveRoleChanged("")
			return "", nil
		}
	}

	tag := lang.LocaleFor(role, cfg.TargetLanguage)
	session, err := c.recognizer.Start(sessionCtx, tag)
	if err != nil {
		c.log.Warn().Err(err).Str("role", string(role)).Str("language", tag).Msg("recognition did not start")
		c.events.ActiveRoleChanged("")
		c.events.SessionError(domain.ErrorCodeRecognition, recognitionMessage(err))
		return "", err
	}

	l := &listener{
		role:    role,
		session: session,
		ids:     map[int]string{},
		done:    make(chan struct{}),
	}
	c.mu.Lock()
	c.active = l
	c.mu.Unlock()

	go c.consume(l)

	c.log.Debug().Str("role", string(role)).Str("language", tag).Msg("listening")
	c.events.ActiveRoleChanged(role)
	return role, nil
}

// Feed forwards captured PCM to the active listener, if any.
func (c *Coordinator) Feed(chunk []byte) {
	c.mu.Lock()
	l := c.active
	c.mu.Unlock()
	if l == nil {
		return
	}
	if err := l.session.SendAudio(chunk); err != nil && !errors.Is(err, domain.ErrRecognitionAborted) {
		c.log.Debug().Err(err).Msg("dropping audio chunk")
	}
}

// StopListening returns the speaker slot to idle.
func (c *Coordinator) StopListening() {
	c.toggleMu.Lock()
	defer c.toggleMu.Unlock()
	if c.stopActiveLocked() {
		c.events.ActiveRoleChanged("")
	}
}

// ActiveRole reports the listening role, or "" when idle.
func (c *Coordinator) ActiveRole() domain.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return ""
	}
	return c.active.role
}

// Utterances returns a snapshot in capture order.
func (c *Coordinator) Utterances() []domain.LiveUtterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.LiveUtterance(nil), c.utterances...)
}

// Wait blocks until in-flight translations have been applied.
func (c *Coordinator) Wait() {
	c.translations.Wait()
}

// Close stops listening, abandons pending translations and returns the
// final utterance list.
func (c *Coordinator) Close() []domain.LiveUtterance {
	c.StopListening()

	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	c.translations.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]domain.LiveUtterance(nil), c.utterances...)
	c.ctx = nil
	c.cancel = nil
	return out
}

// stopActiveLocked requires toggleMu.
func (c *Coordinator) stopActiveLocked() bool {
	c.mu.Lock()
	l := c.active
	c.active = nil
	c.mu.Unlock()
	if l == nil {
		return false
	}
	stopListener(l)
	return true
}

func stopListener(l *listener) {
	_ = l.session.Stop()
	<-l.done
}

func (c *Coordinator) consume(l *listener) {
	defer close(l.done)

	for result := range l.session.Results() {
		c.apply(l, result)
	}

	err := l.session.Wait()

	c.mu.Lock()
	current := c.active == l
	if current {
		c.active = nil
	}
	c.mu.Unlock()

	if !current {
		return
	}
	c.events.ActiveRoleChanged("")
	if err != nil && !errors.Is(err, domain.ErrRecognitionAborted) && !errors.Is(err, context.Canceled) {
		c.log.Warn().Err(err).Str("role", string(l.role)).Msg("recognition ended with error")
		c.events.SessionError(domain.ErrorCodeRecognition, recognitionMessage(err))
	}
}

func (c *Coordinator) apply(l *listener, result domain.RecognitionResult) {
	c.mu.Lock()
	if c.active != l {
		c.mu.Unlock()
		return
	}

	becameFinal := false
	id, known := l.ids[result.Index]
	var idx int
	if !known {
		id = c.newID()
		l.ids[result.Index] = id
		c.utterances = append(c.utterances, domain.LiveUtterance{
			ID:           id,
			Role:         l.role,
			OriginalText: result.Text,
			IsFinal:      result.IsFinal,
			Timestamp:    c.now(),
		})
		idx = len(c.utterances) - 1
		c.byID[id] = idx
		becameFinal = result.IsFinal
	} else {
		idx = c.byID[id]
		if c.utterances[idx].IsFinal {
			c.mu.Unlock()
			return
		}
		c.utterances[idx].OriginalText = result.Text
		c.utterances[idx].IsFinal = result.IsFinal
		becameFinal = result.IsFinal
	}

	snapshot := c.utterances[idx]
	ctx := c.ctx
	key := c.cfg.TranslationKey
	target := lang.TranslationTarget(l.role, c.cfg.TargetLanguage)
	translate := becameFinal && key != "" && c.translator != nil
	if translate {
		c.translations.Add(1)
	}
	c.mu.Unlock()

	c.events.UtteranceUpdated(snapshot)
	if translate {
		go c.translate(ctx, id, snapshot.OriginalText, target, key)
	}
}

func (c *Coordinator) translate(ctx context.Context, id string, text string, target string, key string) {
	defer c.translations.Done()

	translated := c.translator.Translate(ctx, text, target, key)
	if ctx.Err() != nil {
		return
	}

	c.mu.Lock()
	idx, ok := c.byID[id]
	if !ok || c.ctx != ctx {
		c.mu.Unlock()
		return
	}
	c.utterances[idx].TranslatedText = translated
	snapshot := c.utterances[idx]
	c.mu.Unlock()

	c.events.UtteranceUpdated(snapshot)
}

func recognitionMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrRecognizerUnavailable):
		return "この環境では音声認識を利用できません。"
	case errors.Is(err, domain.ErrRecognitionNotAllowed):
		return "音声認識の使用が許可されていません。マイクの権限または認識サービスのキーを確認してください。"
	default:
		return fmt.Sprintf("音声認識エラー: %v", err)
	}
}
