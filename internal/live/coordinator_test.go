package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"medivoice/internal/domain"
	"medivoice/internal/logging"
	"medivoice/internal/ports"
)

type fakeSession struct {
	tag     string
	results chan domain.RecognitionResult
	late    []domain.RecognitionResult

	mu       sync.Mutex
	stopped  bool
	ended    bool
	waitErr  error
	received [][]byte

	stopOnce sync.Once
}

func newFakeSession(tag string) *fakeSession {
	return &fakeSession{tag: tag, results: make(chan domain.RecognitionResult, 16)}
}

func (s *fakeSession) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return domain.ErrRecognitionAborted
	}
	s.received = append(s.received, chunk)
	return nil
}

func (s *fakeSession) Results() <-chan domain.RecognitionResult { return s.results }

func (s *fakeSession) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
		for _, r := range s.late {
			s.results <- r
		}
		s.end(nil)
	})
	return nil
}

func (s *fakeSession) Wait() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

func (s *fakeSession) push(r domain.RecognitionResult) {
	s.results <- r
}

func (s *fakeSession) end(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.waitErr = err
	close(s.results)
}

func (s *fakeSession) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type fakeRecognizer struct {
	mu       sync.Mutex
	sessions []*fakeSession
	startErr error
	late     []domain.RecognitionResult
}

func (r *fakeRecognizer) Start(_ context.Context, tag string) (ports.RecognitionSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return nil, r.startErr
	}
	s := newFakeSession(tag)
	s.late = r.late
	r.sessions = append(r.sessions, s)
	return s, nil
}

func (r *fakeRecognizer) session(i int) *fakeSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[i]
}

type fakeTranslator struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
}

func (t *fakeTranslator) Translate(ctx context.Context, text string, target string, _ string) string {
	t.mu.Lock()
	t.calls = append(t.calls, target+":"+text)
	gate := t.gate
	t.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return text
		}
	}
	return fmt.Sprintf("[%s] %s", target, text)
}

func (t *fakeTranslator) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type recordingSink struct {
	mu         sync.Mutex
	roles      []domain.Role
	utterances []domain.LiveUtterance
	errors     []domain.ErrorCode
}

func (s *recordingSink) SessionStateChanged(domain.SessionState, domain.SessionStateReason) {}
func (s *recordingSink) NoteReady(domain.NoteReady)                                         {}
func (s *recordingSink) LogSaved(domain.ClinicalRecord)                                     {}

func (s *recordingSink) ActiveRoleChanged(role domain.Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, role)
}

func (s *recordingSink) UtteranceUpdated(u domain.LiveUtterance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.utterances = append(s.utterances, u)
}

func (s *recordingSink) SessionError(code domain.ErrorCode, _ string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, code)
}

func (s *recordingSink) errorCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errors)
}

func newTestCoordinator(rec *fakeRecognizer, tr ports.Translator, sink *recordingSink) *Coordinator {
	c := NewCoordinator(rec, tr, sink, logging.Nop())
	n := 0
	var mu sync.Mutex
	c.newID = func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("utt-%d", n)
	}
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before timeout")
}

func TestUpdatesForSameIndexShareIdentity(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	tr := &fakeTranslator{}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, tr, sink)
	if err := c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en", TranslationKey: "key"}); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if role, err := c.ToggleRole(context.Background(), domain.RolePatient); err != nil || role != domain.RolePatient {
		t.Fatalf("toggle: %v %v", role, err)
	}
	s := rec.session(0)
	if s.tag != "en-US" {
		t.Fatalf("patient should listen in target locale, got %s", s.tag)
	}

	s.push(domain.RecognitionResult{Index: 0, Text: "It"})
	s.push(domain.RecognitionResult{Index: 0, Text: "It itches", IsFinal: true})
	s.push(domain.RecognitionResult{Index: 0, Text: "It itches a lot"})

	waitFor(t, func() bool { return tr.callCount() == 1 })
	c.StopListening()
	c.Wait()

	got := c.Utterances()
	if len(got) != 1 {
		t.Fatalf("expected one utterance, got %#v", got)
	}
	u := got[0]
	if u.ID != "utt-1" || u.OriginalText != "It itches" || !u.IsFinal || u.Role != domain.RolePatient {
		t.Fatalf("unexpected utterance: %#v", u)
	}
	if u.TranslatedText != "[ja] It itches" {
		t.Fatalf("patient speech should translate to ja, got %q", u.TranslatedText)
	}
}

func TestRoleSwitchPreemptsAndResetsIdentities(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{late: []domain.RecognitionResult{{Index: 5, Text: "late callback", IsFinal: true}}}
	tr := &fakeTranslator{}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, tr, sink)
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "vi", TranslationKey: "key"})

	if _, err := c.ToggleRole(context.Background(), domain.RoleClinician); err != nil {
		t.Fatalf("toggle clinician: %v", err)
	}
	first := rec.session(0)
	if first.tag != "ja-JP" {
		t.Fatalf("clinician should listen in ja-JP, got %s", first.tag)
	}
	first.push(domain.RecognitionResult{Index: 0, Text: "どうされました", IsFinal: true})
	waitFor(t, func() bool { return len(c.Utterances()) == 1 })

	if role, err := c.ToggleRole(context.Background(), domain.RolePatient); err != nil || role != domain.RolePatient {
		t.Fatalf("toggle patient: %v %v", role, err)
	}
	if !first.isStopped() {
		t.Fatalf("previous listener should be stopped")
	}
	if c.ActiveRole() != domain.RolePatient {
		t.Fatalf("expected patient to be the only listener, got %s", c.ActiveRole())
	}

	second := rec.session(1)
	second.push(domain.RecognitionResult{Index: 0, Text: "Ngứa quá", IsFinal: true})
	waitFor(t, func() bool { return len(c.Utterances()) == 2 })

	c.StopListening()
	c.Wait()

	got := c.Utterances()
	if len(got) != 2 {
		t.Fatalf("late callback from stopped listener was applied: %#v", got)
	}
	if got[0].ID == got[1].ID {
		t.Fatalf("index 0 from a new listening session must get a new identity")
	}
	if got[0].TranslatedText != "[vi] どうされました" || got[1].TranslatedText != "[ja] Ngứa quá" {
		t.Fatalf("unexpected translations: %#v", got)
	}
}

func TestToggleSameRoleStopsListening(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, &fakeTranslator{}, sink)
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})

	_, _ = c.ToggleRole(context.Background(), domain.RoleClinician)
	role, err := c.ToggleRole(context.Background(), domain.RoleClinician)
	if err != nil || role != "" {
		t.Fatalf("expected idle, got %q %v", role, err)
	}
	if c.ActiveRole() != "" {
		t.Fatalf("expected no active role")
	}
	if !rec.session(0).isStopped() {
		t.Fatalf("listener should be stopped")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	want := []domain.Role{domain.RoleClinician, ""}
	if len(sink.roles) != len(want) || sink.roles[0] != want[0] || sink.roles[1] != want[1] {
		t.Fatalf("unexpected role events: %#v", sink.roles)
	}
}

func TestMissingKeySkipsTranslation(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	tr := &fakeTranslator{}
	c := newTestCoordinator(rec, tr, &recordingSink{})
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})
	_, _ = c.ToggleRole(context.Background(), domain.RoleClinician)
	rec.session(0).push(domain.RecognitionResult{Index: 0, Text: "こんにちは", IsFinal: true})

	waitFor(t, func() bool { return len(c.Utterances()) == 1 })
	utterances := c.Close()
	if tr.callCount() != 0 {
		t.Fatalf("translation should not be requested without a key")
	}
	if len(utterances) != 1 || utterances[0].TranslatedText != "" {
		t.Fatalf("unexpected utterances: %#v", utterances)
	}
}

func TestStartFailureIsReported(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{startErr: domain.ErrRecognizerUnavailable}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, &fakeTranslator{}, sink)
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})

	role, err := c.ToggleRole(context.Background(), domain.RolePatient)
	if !errors.Is(err, domain.ErrRecognizerUnavailable) || role != "" {
		t.Fatalf("expected unavailable error, got %q %v", role, err)
	}
	if sink.errorCount() != 1 {
		t.Fatalf("expected one recognition error event")
	}
}

func TestRecognitionErrorRevertsToIdle(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, &fakeTranslator{}, sink)
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})
	_, _ = c.ToggleRole(context.Background(), domain.RolePatient)

	rec.session(0).end(errors.New("network dropped"))
	waitFor(t, func() bool { return c.ActiveRole() == "" })
	waitFor(t, func() bool { return sink.errorCount() == 1 })
}

func TestAbortIsNotAnError(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	sink := &recordingSink{}
	c := newTestCoordinator(rec, &fakeTranslator{}, sink)
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})
	_, _ = c.ToggleRole(context.Background(), domain.RolePatient)

	rec.session(0).end(domain.ErrRecognitionAborted)
	waitFor(t, func() bool { return c.ActiveRole() == "" })
	if sink.errorCount() != 0 {
		t.Fatalf("abort should not surface an error")
	}
}

func TestTranslationAfterResetIsDiscarded(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	tr := &fakeTranslator{gate: make(chan struct{})}
	c := newTestCoordinator(rec, tr, &recordingSink{})
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en", TranslationKey: "key"})
	_, _ = c.ToggleRole(context.Background(), domain.RoleClinician)
	rec.session(0).push(domain.RecognitionResult{Index: 0, Text: "お大事に", IsFinal: true})
	waitFor(t, func() bool { return tr.callCount() == 1 })

	if err := c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en", TranslationKey: "key"}); err != nil {
		t.Fatalf("restart: %v", err)
	}
	close(tr.gate)
	c.Wait()

	if got := c.Utterances(); len(got) != 0 {
		t.Fatalf("stale translation should be discarded, got %#v", got)
	}
}

func TestFeedForwardsToActiveListener(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	c := newTestCoordinator(rec, &fakeTranslator{}, &recordingSink{})
	c.Feed([]byte("ignored"))
	_ = c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "en"})
	_, _ = c.ToggleRole(context.Background(), domain.RoleClinician)
	c.Feed([]byte("pcm"))

	s := rec.session(0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.received) != 1 || string(s.received[0]) != "pcm" {
		t.Fatalf("unexpected forwarded audio: %#v", s.received)
	}
}

func TestToggleBeforeBegin(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(&fakeRecognizer{}, nil, &recordingSink{})
	if _, err := c.ToggleRole(context.Background(), domain.RolePatient); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := c.Begin(context.Background(), ports.LiveConfig{TargetLanguage: "xx"}); !errors.Is(err, ErrUnsupportedLanguage) {
		t.Fatalf("expected ErrUnsupportedLanguage, got %v", err)
	}
}
