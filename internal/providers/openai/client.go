// Package openai is a small REST client for the OpenAI transcription and chat APIs.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"medivoice/internal/apierror"
	"medivoice/internal/domain"
)

const (
	// ProviderName identifies OpenAI in classified errors.
	ProviderName = "openai"

	defaultBaseURL = "https://api.openai.com"

	// DefaultTranscriptionModel is the speech-to-text model.
	DefaultTranscriptionModel = "whisper-1"
	// DefaultChatModel is the structured note model.
	DefaultChatModel = "gpt-4o"
)

// Config controls the HTTP client. A zero Timeout leaves requests bounded
// only by the caller's context.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the OpenAI REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client with defaults applied.
func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// TranscribeOptions tunes the transcription request.
type TranscribeOptions struct {
	Model    string
	Language string
}

// Transcribe uploads audio and returns the plain-text transcript.
func (c *Client) Transcribe(ctx context.Context, apiKey string, audio domain.AudioPayload, opts TranscribeOptions) (string, error) {
	if opts.Model == "" {
		opts.Model = DefaultTranscriptionModel
	}
	if opts.Language == "" {
		opts.Language = "ja"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "recording."+extensionFor(audio.MIMEType))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", opts.Model)
	_ = writer.WriteField("language", opts.Language)
	_ = writer.WriteField("response_format", "text")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("create transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+apiKey)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteJSON runs a chat completion constrained to a JSON object and returns
// the raw message content.
func (c *Client) CompleteJSON(ctx context.Context, apiKey string, model string, system string, user string) (string, error) {
	if model == "" {
		model = DefaultChatModel
	}
	payload := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}
	payload.ResponseFormat.Type = "json_object"

	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var decoded chatResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", apierror.Malformed(ProviderName, fmt.Errorf("decode chat response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", nil
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierror.Network(ProviderName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.Network(ProviderName, err)
	}
	if classified := apierror.FromStatus(ProviderName, resp.StatusCode, body); classified != nil {
		return nil, classified
	}
	return body, nil
}

func extensionFor(mimeType string) string {
	base := strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])
	switch base {
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/mp4", "video/mp4":
		return "mp4"
	case "audio/x-m4a", "audio/m4a":
		return "m4a"
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/ogg":
		return "ogg"
	default:
		return "webm"
	}
}
