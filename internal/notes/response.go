package notes

import (
	"encoding/json"
	"fmt"
	"strings"

	"medivoice/internal/apierror"
	"medivoice/internal/domain"
	"medivoice/internal/providers/gemini"
)

const defaultLanguage = "ja-JP"

type wireTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type wireNote struct {
	Language      string      `json:"language"`
	Transcription []wireTurn  `json:"transcription"`
	SOAP          domain.SOAP `json:"soap"`
}

// parseNote decodes the structured model output into a NoteResult.
func parseNote(raw string) (domain.NoteResult, error) {
	text := stripCodeFence(raw)

	var decoded wireNote
	if err := json.Unmarshal([]byte(text), &decoded); err != nil {
		return domain.NoteResult{}, err
	}

	result := domain.NoteResult{
		DetectedLanguage: strings.TrimSpace(decoded.Language),
		Transcript:       make([]domain.TranscriptTurn, 0, len(decoded.Transcription)),
		SOAP:             decoded.SOAP,
	}
	if result.DetectedLanguage == "" {
		result.DetectedLanguage = defaultLanguage
	}
	for _, turn := range decoded.Transcription {
		result.Transcript = append(result.Transcript, domain.TranscriptTurn{
			Speaker: domain.RoleFromLabel(turn.Speaker),
			Text:    turn.Text,
		})
	}
	return result, nil
}

func stripCodeFence(raw string) string {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}

func malformed(provider domain.ProviderID, err error) error {
	return fmt.Errorf("%w: %w", ErrMalformedResponse, apierror.Malformed(string(provider), err))
}

// ResponseSchema constrains native-audio output to the note shape.
func ResponseSchema() *gemini.Schema {
	return &gemini.Schema{
		Type: "OBJECT",
		Properties: map[string]*gemini.Schema{
			"language": {Type: "STRING", Description: "Detected main language code (e.g., ja-JP, en-US)"},
			"transcription": {
				Type: "ARRAY",
				Items: &gemini.Schema{
					Type: "OBJECT",
					Properties: map[string]*gemini.Schema{
						"speaker": {
							Type:        "STRING",
							Enum:        []string{"医師", "患者"},
							Description: "Identify speaker exactly: '医師' or '患者'. Switch explicitly on turn taking.",
						},
						"text": {
							Type:        "STRING",
							Description: "Transcribed text. MUST use format 'Original Text (Japanese Translation)' for ANY non-Japanese speech.",
						},
					},
					Required: []string{"speaker", "text"},
				},
			},
			"soap": {
				Type: "OBJECT",
				Properties: map[string]*gemini.Schema{
					"s": {Type: "STRING", Description: "Subjective"},
					"o": {Type: "STRING", Description: "Objective"},
					"a": {Type: "STRING", Description: "Assessment"},
					"p": {Type: "STRING", Description: "Plan"},
				},
				Required: []string{"s", "o", "a", "p"},
			},
		},
		Required: []string{"language", "transcription", "soap"},
	}
}
