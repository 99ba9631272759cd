package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"medivoice/internal/domain"
	"medivoice/internal/ports"
)

// Config controls Deepgram websocket settings.
type Config struct {
	APIKey      string
	APIBaseURL  string
	Model       string
	SmartFormat bool
	SampleRate  int
	Channels    int
	Encoding    string
	Logger      zerolog.Logger
}

// Recognizer implements ports.Recognizer over the Deepgram live API.
type Recognizer struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewRecognizer(cfg Config) *Recognizer {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "linear16"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	return &Recognizer{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Start opens a listening session for languageTag.
func (r *Recognizer) Start(ctx context.Context, languageTag string) (ports.RecognitionSession, error) {
	if strings.TrimSpace(r.cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: DEEPGRAM_API_KEY is not configured", domain.ErrRecognizerUnavailable)
	}

	wsURL, err := buildListenURL(r.cfg, languageTag)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+r.cfg.APIKey)

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: deepgram rejected credentials (HTTP %d)", domain.ErrRecognitionNotAllowed, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to Deepgram websocket: %w", err)
	}

	session := &recognitionSession{
		conn:     conn,
		results:  make(chan domain.RecognitionResult, 64),
		audio:    make(chan []byte, 32),
		stopCh:   make(chan struct{}),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
		log:      r.cfg.Logger.With().Str("language", languageTag).Logger(),
	}

	session.wg.Add(2)
	go session.readLoop()
	go session.writeLoop()
	go func() {
		session.wg.Wait()
		close(session.results)
		close(session.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = session.Stop()
		case <-session.done:
		}
	}()

	return session, nil
}

type recognitionSession struct {
	conn *websocket.Conn
	log  zerolog.Logger

	results  chan domain.RecognitionResult
	audio    chan []byte
	stopCh   chan struct{}
	readDone chan struct{}
	done     chan struct{}

	wg sync.WaitGroup

	errMu   sync.Mutex
	err     error
	stopped bool

	closeSendOnce sync.Once
	stopOnce      sync.Once
	sendMu        sync.RWMutex
	sendClosed    bool

	// index is only touched by readLoop.
	index int
}

func (s *recognitionSession) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.sendClosed {
		return errors.New("recognition stream is already closed")
	}

	copied := append([]byte(nil), chunk...)
	select {
	case s.audio <- copied:
		return nil
	case <-s.stopCh:
		return domain.ErrRecognitionAborted
	case <-s.done:
		if err := s.waitErr(); err != nil {
			return err
		}
		return errors.New("recognition session closed")
	}
}

func (s *recognitionSession) Results() <-chan domain.RecognitionResult {
	return s.results
}

// Stop ends the session intentionally. Errors raised while tearing down are
// not reported by Wait.
func (s *recognitionSession) Stop() error {
	s.stopOnce.Do(func() {
		s.errMu.Lock()
		s.stopped = true
		s.errMu.Unlock()

		close(s.stopCh)
		s.closeSend()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *recognitionSession) Wait() error {
	<-s.done
	return s.waitErr()
}

func (s *recognitionSession) closeSend() {
	s.closeSendOnce.Do(func() {
		s.sendMu.Lock()
		s.sendClosed = true
		close(s.audio)
		s.sendMu.Unlock()
	})
}

func (s *recognitionSession) waitErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.stopped {
		return nil
	}
	return s.err
}

func (s *recognitionSession) setErr(err error) {
	if err == nil {
		return
	}
	if isNormalClose(err) {
		return
	}

	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.stopped {
		return
	}
	if s.err == nil {
		s.err = err
	}
}

// isNormalClose reports whether err, possibly wrapped, is an orderly close
// from the server.
func isNormalClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	switch closeErr.Code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func (s *recognitionSession) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case chunk, ok := <-s.audio:
			if !ok {
				if err := s.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
					s.setErr(fmt.Errorf("failed to close stream: %w", err))
				}
				return
			}
			if err := s.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				s.setErr(fmt.Errorf("failed to send audio: %w", err))
				return
			}
		case <-s.readDone:
			return
		}
	}
}

func (s *recognitionSession) readLoop() {
	defer s.wg.Done()
	defer close(s.readDone)

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(fmt.Errorf("failed to read recognition event: %w", err))
			return
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			s.log.Debug().Err(err).Msg("skipping undecodable recognition event")
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			s.setErr(errors.New(message))
			return
		}

		transcript := extractTranscript(response)
		final := response.IsFinal || response.SpeechFinal
		if transcript == "" {
			continue
		}

		if !s.emit(domain.RecognitionResult{Index: s.index, Text: transcript, IsFinal: final}) {
			return
		}
		if final {
			s.index++
		}
	}
}

func (s *recognitionSession) emit(result domain.RecognitionResult) bool {
	select {
	case s.results <- result:
		return true
	case <-s.stopCh:
		return false
	}
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func extractTranscript(response deepgramResponse) string {
	if len(response.Channel.Alternatives) > 0 {
		return strings.TrimSpace(response.Channel.Alternatives[0].Transcript)
	}
	return ""
}

func buildListenURL(cfg Config, languageTag string) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}

	query := listenURL.Query()
	query.Set("model", cfg.Model)
	query.Set("encoding", cfg.Encoding)
	query.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	query.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	query.Set("interim_results", "true")
	query.Set("smart_format", fmt.Sprintf("%t", cfg.SmartFormat))
	if languageTag != "" {
		query.Set("language", languageTag)
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
