// Package apierror classifies failures from hosted model providers.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Class groups remote failures by how callers should react.
type Class string

const (
	ClassBadRequest Class = "bad_request"
	ClassAuth       Class = "auth"
	ClassRateLimit  Class = "rate_limit"
	ClassServer     Class = "server"
	ClassNetwork    Class = "network"
	ClassMalformed  Class = "malformed"
	ClassUnknown    Class = "unknown"
)

// Error is a classified provider error.
type Error struct {
	Provider   string
	StatusCode int
	Class      Class
	Message    string
	Body       []byte
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %s", e.Provider, e.Class, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Class, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FromStatus converts a non-2xx response into a classified error.
// It returns nil for 2xx statuses.
func FromStatus(provider string, status int, body []byte) *Error {
	if status >= 200 && status < 300 {
		return nil
	}

	class := ClassUnknown
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		class = ClassAuth
	case status == http.StatusTooManyRequests:
		class = ClassRateLimit
	case status >= 500:
		class = ClassServer
	case status >= 400:
		class = ClassBadRequest
	}

	message := fmt.Sprintf("HTTP %d", status)
	if snippet := strings.TrimSpace(string(body)); snippet != "" {
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		message = snippet
	}
	// Some providers report an invalid key as a 400 with a recognisable message.
	if class == ClassBadRequest && strings.Contains(strings.ToLower(message), "api key not valid") {
		class = ClassAuth
	}

	return &Error{
		Provider:   provider,
		StatusCode: status,
		Class:      class,
		Message:    message,
		Body:       body,
	}
}

// Network wraps a transport-level failure.
func Network(provider string, err error) *Error {
	return &Error{
		Provider: provider,
		Class:    ClassNetwork,
		Message:  err.Error(),
		Err:      err,
	}
}

// Malformed reports a response that could not be decoded.
func Malformed(provider string, err error) *Error {
	return &Error{
		Provider: provider,
		Class:    ClassMalformed,
		Message:  err.Error(),
		Err:      err,
	}
}

// ClassOf returns the class of err, or ClassUnknown.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ClassUnknown
}

// IsTransient reports whether err is worth retrying or falling back on.
// Only rate limiting and server errors qualify; everything else is final.
func IsTransient(err error) bool {
	switch ClassOf(err) {
	case ClassRateLimit, ClassServer:
		return true
	default:
		return false
	}
}

// Guidance returns user-facing remediation text for a failure.
func Guidance(err error) string {
	switch ClassOf(err) {
	case ClassBadRequest:
		return "リクエストが不正です (400)。音声形式やデータを確認してください。"
	case ClassAuth:
		return "APIキーが無効です (401)。設定画面でキーを確認してください。"
	case ClassRateLimit:
		return "API利用制限を超えました (429)。しばらく待ってから再試行してください。"
	case ClassServer:
		return "AIサーバーでエラーが発生しました (500/503)。時間をおいて再試行してください。"
	case ClassMalformed:
		return "AIの応答を解析できませんでした。もう一度お試しください。"
	default:
		return "通信エラーが発生しました。ネットワーク接続とAPIキーを確認してください。"
	}
}
