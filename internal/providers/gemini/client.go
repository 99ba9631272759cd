// Package gemini is a minimal REST client for the Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medivoice/internal/apierror"
)

const (
	// ProviderName identifies Gemini in classified errors.
	ProviderName = "gemini"

	defaultBaseURL = "https://generativelanguage.googleapis.com"
)

// Config controls the HTTP client. A zero Timeout leaves requests bounded
// only by the caller's context.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls the Gemini REST API.
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

// Schema mirrors the REST schema object used for structured output.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// Part is one piece of prompt content. Exactly one of Text or Inline is used.
type Part struct {
	Text   string
	Inline *InlineData
}

// InlineData carries raw bytes with their MIME type.
type InlineData struct {
	MIMEType string
	Data     []byte
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// BlobPart builds an inline-data part.
func BlobPart(mimeType string, data []byte) Part {
	return Part{Inline: &InlineData{MIMEType: mimeType, Data: data}}
}

// GenerateRequest is a single-turn generation request.
type GenerateRequest struct {
	SystemInstruction string
	Parts             []Part
	Temperature       *float64
	ResponseMIMEType  string
	ResponseSchema    *Schema
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wireGenerationConfig struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	ResponseMIMEType string   `json:"responseMimeType,omitempty"`
	ResponseSchema   *Schema  `json:"responseSchema,omitempty"`
}

type wireRequest struct {
	SystemInstruction *wireContent          `json:"systemInstruction,omitempty"`
	Contents          []wireContent         `json:"contents"`
	GenerationConfig  *wireGenerationConfig `json:"generationConfig,omitempty"`
}

type wireResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// GenerateContent sends req to model and returns the concatenated text of the
// first candidate. An empty string means the model produced no content.
func (c *Client) GenerateContent(ctx context.Context, apiKey string, model string, req GenerateRequest) (string, error) {
	body, err := json.Marshal(buildWireRequest(req))
	if err != nil {
		return "", fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", apierror.Network(ProviderName, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apierror.Network(ProviderName, err)
	}
	if classified := apierror.FromStatus(ProviderName, resp.StatusCode, payload); classified != nil {
		return "", classified
	}

	var decoded wireResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return "", apierror.Malformed(ProviderName, fmt.Errorf("decode gemini response: %w", err))
	}
	if len(decoded.Candidates) == 0 {
		return "", nil
	}

	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

func buildWireRequest(req GenerateRequest) wireRequest {
	parts := make([]wirePart, 0, len(req.Parts))
	for _, part := range req.Parts {
		if part.Inline != nil {
			parts = append(parts, wirePart{InlineData: &wireInlineData{
				MIMEType: part.Inline.MIMEType,
				Data:     base64.StdEncoding.EncodeToString(part.Inline.Data),
			}})
			continue
		}
		parts = append(parts, wirePart{Text: part.Text})
	}

	out := wireRequest{
		Contents: []wireContent{{Role: "user", Parts: parts}},
	}
	if strings.TrimSpace(req.SystemInstruction) != "" {
		out.SystemInstruction = &wireContent{Parts: []wirePart{{Text: req.SystemInstruction}}}
	}
	if req.Temperature != nil || req.ResponseMIMEType != "" || req.ResponseSchema != nil {
		out.GenerationConfig = &wireGenerationConfig{
			Temperature:      req.Temperature,
			ResponseMIMEType: req.ResponseMIMEType,
			ResponseSchema:   req.ResponseSchema,
		}
	}
	return out
}

// Float returns a pointer to v for optional request fields.
func Float(v float64) *float64 {
	return &v
}
