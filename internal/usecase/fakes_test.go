package usecase

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medivoice/internal/domain"
	"medivoice/internal/notes"
	"medivoice/internal/ports"
)

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

type fakeAudioCapture struct {
	sessions []ports.AudioSession
	err      error
	calls    int
}

func (f *fakeAudioCapture) Start(_ context.Context, _ ports.AudioConfig) (ports.AudioSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.sessions) {
		return nil, errors.New("no audio session configured")
	}
	session := f.sessions[f.calls]
	f.calls++
	return session, nil
}

type fakeAudioSession struct {
	mu        sync.Mutex
	chunks    [][]byte
	index     int
	stopCalls int
	stopErr   error
}

func (f *fakeAudioSession) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index >= len(f.chunks) {
		return 0, io.EOF
	}
	n := copy(p, f.chunks[f.index])
	f.index++
	return n, nil
}

func (f *fakeAudioSession) Close() error { return nil }

func (f *fakeAudioSession) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeAudioSession) stops() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

type fakeEncoder struct {
	mu      sync.Mutex
	pcm     []byte
	err     error
	payload domain.AudioPayload
}

func (f *fakeEncoder) Encode(_ context.Context, pcm []byte, _ ports.PCMFormat) (domain.AudioPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pcm = append([]byte(nil), pcm...)
	if f.err != nil {
		return domain.AudioPayload{}, f.err
	}
	if !f.payload.Empty() {
		return f.payload, nil
	}
	return domain.AudioPayload{Data: append([]byte("webm:"), pcm...), MIMEType: "audio/webm"}, nil
}

type fakeNotes struct {
	mu       sync.Mutex
	result   domain.NoteResult
	err      error
	requests []ports.NoteRequest
}

func (f *fakeNotes) CheckCredentials(provider domain.ProviderID, creds domain.Credentials) error {
	if !creds.Has(provider) {
		return &notes.MissingKeyError{Provider: provider}
	}
	return nil
}

func (f *fakeNotes) Generate(_ context.Context, req ports.NoteRequest) (domain.NoteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.NoteResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeNotes) calls() []ports.NoteRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ports.NoteRequest(nil), f.requests...)
}

type fakeLive struct {
	mu         sync.Mutex
	begun      []ports.LiveConfig
	beginErr   error
	fed        []byte
	role       domain.Role
	toggles    []domain.Role
	stops      int
	waits      int
	closes     int
	utterances []domain.LiveUtterance
}

func (f *fakeLive) Begin(_ context.Context, cfg ports.LiveConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.beginErr != nil {
		return f.beginErr
	}
	f.begun = append(f.begun, cfg)
	return nil
}

func (f *fakeLive) ToggleRole(_ context.Context, role domain.Role) (domain.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, role)
	if f.role == role {
		f.role = ""
	} else {
		f.role = role
	}
	return f.role, nil
}

func (f *fakeLive) Feed(chunk []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fed = append(f.fed, chunk...)
}

func (f *fakeLive) fedBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.fed...)
}

// waitForFed blocks until n bytes have been teed to the recognizer.
func waitForFed(t *testing.T, f *fakeLive, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(f.fedBytes()) < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d audio bytes, got %q", n, f.fedBytes())
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fakeLive) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.role = ""
}

func (f *fakeLive) ActiveRole() domain.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *fakeLive) Utterances() []domain.LiveUtterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.LiveUtterance(nil), f.utterances...)
}

func (f *fakeLive) Wait() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.waits++
}

func (f *fakeLive) Close() []domain.LiveUtterance {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return append([]domain.LiveUtterance(nil), f.utterances...)
}

type fakeStore struct {
	mu      sync.Mutex
	records []domain.ClinicalRecord
	err     error
}

func (f *fakeStore) Save(_ context.Context, record domain.ClinicalRecord) (domain.ClinicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ClinicalRecord{}, f.err
	}
	f.records = append([]domain.ClinicalRecord{record}, f.records...)
	return record, nil
}

func (f *fakeStore) List(_ context.Context) ([]domain.ClinicalRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ClinicalRecord(nil), f.records...), nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (domain.ClinicalRecord, bool, error) {
	list, _ := f.List(ctx)
	for _, record := range list {
		if record.ID == id {
			return record, true, nil
		}
	}
	return domain.ClinicalRecord{}, false, nil
}

func (f *fakeStore) Delete(_ context.Context, _ string) error { return nil }

func (f *fakeStore) Search(ctx context.Context, _ string) ([]domain.ClinicalRecord, error) {
	return f.List(ctx)
}

type fakeEventSink struct {
	mu sync.Mutex

	states     []stateEvent
	roles      []domain.Role
	utterances []domain.LiveUtterance
	notes      []domain.NoteReady
	logs       []domain.ClinicalRecord
	errors     []errEvent
}

type stateEvent struct {
	state  domain.SessionState
	reason domain.SessionStateReason
}

type errEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeEventSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, stateEvent{state: state, reason: reason})
}

func (f *fakeEventSink) ActiveRoleChanged(role domain.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, role)
}

func (f *fakeEventSink) UtteranceUpdated(utterance domain.LiveUtterance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, utterance)
}

func (f *fakeEventSink) NoteReady(note domain.NoteReady) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, note)
}

func (f *fakeEventSink) LogSaved(record domain.ClinicalRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, record)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, errEvent{code: code, detail: detail})
}

func (f *fakeEventSink) snapshotStates() []stateEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stateEvent, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeEventSink) snapshotErrors() []errEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]errEvent, len(f.errors))
	copy(out, f.errors)
	return out
}

func (f *fakeEventSink) lastReason() domain.SessionStateReason {
	states := f.snapshotStates()
	if len(states) == 0 {
		return ""
	}
	return states[len(states)-1].reason
}
