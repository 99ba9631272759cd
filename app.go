package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"medivoice/internal/audio"
	"medivoice/internal/bootstrap"
	"medivoice/internal/domain"
	"medivoice/internal/records"
	"medivoice/internal/usecase"
)

const (
	eventSession   = "medivoice:session"
	eventRole      = "medivoice:role"
	eventUtterance = "medivoice:utterance"
	eventNote      = "medivoice:note"
	eventLog       = "medivoice:log"
	eventError     = "medivoice:error"
)

type saveDialogFunc func(ctx context.Context, opts runtime.SaveDialogOptions) (string, error)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services bootstrap.Services
	bootErr  error
	log      zerolog.Logger

	saveDialog saveDialogFunc
	now        func() time.Time
}

func NewApp() *App {
	return &App{
		log:        zerolog.Nop(),
		saveDialog: runtime.SaveFileDialog,
		now:        time.Now,
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, &wailsClipboard{})
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.log = services.Logger
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(_ context.Context) {
	if a.services.Controller != nil {
		_ = a.services.Controller.Abort()
	}
	if err := a.services.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close local store")
	}
}

// StartRecording begins a dictation or interpretation session.
func (a *App) StartRecording(opts usecase.SessionOptions) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	opts.Credentials = a.services.SessionCredentials()
	if err := a.services.Controller.Start(a.context(), opts); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// StopRecording generates the note for a dictation, or pauses an
// interpretation session.
func (a *App) StopRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Stop(a.context()); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// ResumeRecording continues a paused interpretation session.
func (a *App) ResumeRecording() (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.services.Controller.Resume(); err != nil {
		return domain.Status{}, err
	}
	return a.services.Controller.Status(), nil
}

// FinalizeRecording ends the session and generates a SOAP note.
func (a *App) FinalizeRecording() (domain.NoteResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.NoteResult{}, err
	}
	return a.services.Controller.Finalize(a.context())
}

// SaveLogOnly stores the interpretation log without generating a note.
func (a *App) SaveLogOnly() (domain.ClinicalRecord, error) {
	if err := a.requireReady(); err != nil {
		return domain.ClinicalRecord{}, err
	}
	return a.services.Controller.SaveLogOnly(a.context())
}

// AbortRecording discards an in-progress recording.
func (a *App) AbortRecording() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	if err := a.services.Controller.Abort(); err != nil {
		if errors.Is(err, usecase.ErrNoActiveSession) {
			return nil
		}
		return err
	}
	return nil
}

// ToggleRole switches the speaking party during interpretation.
func (a *App) ToggleRole(role domain.Role) (domain.Role, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	return a.services.Controller.ToggleRole(a.context(), role)
}

// UploadFile generates a note from a pre-recorded audio file.
func (a *App) UploadFile(opts usecase.SessionOptions, name string, data []byte) (domain.NoteResult, error) {
	if err := a.requireReady(); err != nil {
		return domain.NoteResult{}, err
	}
	opts.Credentials = a.services.SessionCredentials()
	return a.services.Controller.ProcessUpload(a.context(), opts, audio.Upload{Name: name}, data)
}

// SaveRecord persists a reviewed note.
func (a *App) SaveRecord(patient domain.Patient, result domain.NoteResult) (domain.ClinicalRecord, error) {
	if err := a.requireStore(); err != nil {
		return domain.ClinicalRecord{}, err
	}
	record, err := a.services.Records.Save(a.context(), records.NewRecord(patient, result, a.now()))
	if err != nil {
		a.SessionError(domain.ErrorCodeStorage, err.Error())
		return domain.ClinicalRecord{}, err
	}
	return record, nil
}

// ListRecords returns saved records, newest first.
func (a *App) ListRecords() ([]domain.ClinicalRecord, error) {
	if err := a.requireStore(); err != nil {
		return nil, err
	}
	return a.services.Records.List(a.context())
}

// SearchRecords filters records by patient name, patient ID or subjective text.
func (a *App) SearchRecords(query string) ([]domain.ClinicalRecord, error) {
	if err := a.requireStore(); err != nil {
		return nil, err
	}
	return a.services.Records.Search(a.context(), query)
}

// DeleteRecord removes a record. Unknown IDs are ignored.
func (a *App) DeleteRecord(id string) error {
	if err := a.requireStore(); err != nil {
		return err
	}
	return a.services.Records.Delete(a.context(), id)
}

// CopySOAP places the note on the clipboard in (S)(O)(A)(P) form.
func (a *App) CopySOAP(soap domain.SOAP) error {
	if a.services.Clipboard == nil {
		return a.notReady()
	}
	if err := a.services.Clipboard.SetText(a.context(), records.FormatSOAPText(soap)); err != nil {
		a.SessionError(domain.ErrorCodeClipboard, err.Error())
		return err
	}
	return nil
}

// ExportRecordText writes a record as plain text to a user-chosen file and
// returns the path. An empty path means the user cancelled.
func (a *App) ExportRecordText(id string) (string, error) {
	if err := a.requireStore(); err != nil {
		return "", err
	}
	record, ok, err := a.services.Records.Get(a.context(), id)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("record %q not found", id)
	}

	return a.saveFile(runtime.SaveDialogOptions{
		Title:           "診療記録を保存",
		DefaultFilename: records.ExportFilename(record.Patient, record.Date),
		Filters:         []runtime.FileFilter{{DisplayName: "Text", Pattern: "*.txt"}},
	}, []byte(records.FormatPlainText(record)))
}

// SaveRecoveredAudio writes the audio kept from the last failed generation.
func (a *App) SaveRecoveredAudio() (string, error) {
	if err := a.requireReady(); err != nil {
		return "", err
	}
	payload, ok := a.services.Controller.RecoveredAudio()
	if !ok {
		return "", errors.New("no recovered audio")
	}

	path, err := a.saveFile(runtime.SaveDialogOptions{
		Title:           "録音データを保存",
		DefaultFilename: records.RecoveryFilename(payload.MIMEType, a.now()),
	}, payload.Data)
	if err != nil || path == "" {
		return path, err
	}
	a.services.Controller.DiscardRecoveredAudio()
	return path, nil
}

// DiscardRecoveredAudio forgets the audio kept from the last failed generation.
func (a *App) DiscardRecoveredAudio() {
	if a.services.Controller != nil {
		a.services.Controller.DiscardRecoveredAudio()
	}
}

// SaveAPIKey stores a provider key. A blank key clears it.
func (a *App) SaveAPIKey(provider domain.ProviderID, key string) error {
	if a.services.Credentials == nil {
		return a.notReady()
	}
	if err := a.services.Credentials.Save(a.context(), provider, key); err != nil {
		a.SessionError(domain.ErrorCodeStorage, err.Error())
		return err
	}
	return nil
}

// ClearAPIKey removes a provider key.
func (a *App) ClearAPIKey(provider domain.ProviderID) error {
	if a.services.Credentials == nil {
		return a.notReady()
	}
	return a.services.Credentials.Clear(a.context(), provider)
}

// APIKeyStatus reports which providers have a usable key.
func (a *App) APIKeyStatus() map[domain.ProviderID]bool {
	out := make(map[domain.ProviderID]bool, len(domain.Providers()))
	if a.services.Credentials == nil {
		return out
	}
	creds := a.services.SessionCredentials()
	for _, provider := range domain.Providers() {
		out[provider] = creds.Has(provider)
	}
	return out
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.services.Controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.services.Controller.Status()
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"noteModels":         strings.Join(cfg.Gemini.NoteModels, ","),
		"translateModel":     cfg.Gemini.TranslateModel,
		"transcriptionModel": cfg.OpenAI.TranscriptionModel,
		"chatModel":          cfg.OpenAI.ChatModel,
		"recognizer":         "Deepgram " + cfg.Deepgram.Model,
		"targetLanguage":     cfg.Session.TargetLanguage,
		"termsFile":          cfg.Terms.Path,
		"database":           cfg.Storage.DatabasePath,
		"audioInput":         cfg.Audio.InputDevice,
		"audioInputFormat":   cfg.Audio.InputFormat,
	}
}

func (a *App) saveFile(opts runtime.SaveDialogOptions, data []byte) (string, error) {
	path, err := a.saveDialog(a.context(), opts)
	if err != nil {
		return "", err
	}
	if path == "" {
		return "", nil
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		a.SessionError(domain.ErrorCodeStorage, err.Error())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (a *App) context() context.Context {
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Controller == nil {
		return a.notReady()
	}
	return nil
}

func (a *App) requireStore() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.services.Records == nil {
		return a.notReady()
	}
	return nil
}

func (a *App) notReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	return fmt.Errorf("application is not initialized")
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	a.emit(eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// ActiveRoleChanged emits the party currently being listened to.
func (a *App) ActiveRoleChanged(role domain.Role) {
	a.emit(eventRole, map[string]string{"role": string(role)})
}

// UtteranceUpdated emits interim, final and translated utterances.
func (a *App) UtteranceUpdated(utterance domain.LiveUtterance) {
	a.emit(eventUtterance, utterance)
}

// NoteReady hands a generated note to the review screen.
func (a *App) NoteReady(note domain.NoteReady) {
	a.emit(eventNote, note)
}

// LogSaved announces an interpretation log stored without a note.
func (a *App) LogSaved(record domain.ClinicalRecord) {
	a.emit(eventLog, record)
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	a.log.Warn().Str("code", string(code)).Str("detail", detail).Msg("session error")
	a.emit(eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func (a *App) emit(name string, payload any) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, name, payload)
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "準備完了"
	case domain.SessionReasonRecordingStarted:
		return "録音中"
	case domain.SessionReasonRecordingRestarted:
		return "録音を再開しました (前の録音は破棄されました)"
	case domain.SessionReasonRecordingPaused:
		return "一時停止中"
	case domain.SessionReasonRecordingResumed:
		return "録音を再開しました"
	case domain.SessionReasonProcessing:
		return "AIがカルテを作成中..."
	case domain.SessionReasonNoteReady:
		return "カルテが作成されました"
	case domain.SessionReasonNoteFailed:
		return "カルテの作成に失敗しました"
	case domain.SessionReasonLogSaved:
		return "通訳ログを保存しました"
	case domain.SessionReasonRecordingDiscarded:
		return "録音を破棄しました"
	case domain.SessionReasonNoAudio:
		return "音声データがありません"
	case domain.SessionReasonStorageFailed:
		return "保存に失敗しました"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "起動に失敗しました"
	case domain.ErrorCodeDevice:
		return "マイクへのアクセスが拒否されたか、エラーが発生しました。"
	case domain.ErrorCodeAudioStop:
		return "録音の停止中に問題が発生しました"
	case domain.ErrorCodeAudioStream:
		return "音声ストリームに問題が発生しました"
	case domain.ErrorCodeRecognition:
		return "音声認識エラー"
	case domain.ErrorCodeStorage:
		return "保存に失敗しました"
	case domain.ErrorCodeClipboard:
		return "クリップボードへのコピーに失敗しました"
	case domain.ErrorCodeValidation:
		return validationMessage(detail)
	default:
		if detail == "" {
			return "不明なエラー"
		}
		return detail
	}
}

func validationMessage(detail string) string {
	switch {
	case strings.HasPrefix(detail, audio.ErrUnsupportedFileType.Error()):
		return "対応していないファイル形式です。mp3, mp4, webm, m4a ファイルを選択してください。"
	case strings.HasPrefix(detail, audio.ErrFileTooLarge.Error()):
		return fmt.Sprintf("ファイルサイズが大きすぎます (最大%dMB)。", audio.MaxUploadBytes>>20)
	case strings.HasPrefix(detail, usecase.ErrUnsupportedTarget.Error()):
		return "翻訳先の言語を選択してください。"
	case detail == "":
		return "入力内容を確認してください。"
	default:
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
