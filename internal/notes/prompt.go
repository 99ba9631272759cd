package notes

import (
	_ "embed"
	"strings"

	"medivoice/internal/domain"
)

//go:embed prompts/dermatology.txt
var dermatologyPrompt string

//go:embed prompts/transcription_rules.txt
var transcriptionRules string

//go:embed prompts/translate_mode.txt
var translateAddendum string

//go:embed prompts/json_shape.txt
var jsonShapeAddendum string

// Source is what the model reads: raw audio or a transcript.
type Source int

const (
	SourceAudio Source = iota
	SourceTranscript
)

// TranscriptInstruction prefixes transcript text sent as the user message.
const TranscriptInstruction = "以下の会話ログを元にカルテを作成してください:\n\n"

// SystemInstruction assembles the note-writing policy for source and mode.
func SystemInstruction(source Source, mode domain.Mode) string {
	subject := "患者と医師の会話音声"
	if source == SourceTranscript {
		subject = "以下の「会話ログ」"
	}

	var b strings.Builder
	b.WriteString(strings.ReplaceAll(dermatologyPrompt, "{{source}}", subject))
	b.WriteString("\n\n")
	b.WriteString(transcriptionRules)
	if mode == domain.ModeTranslate {
		b.WriteString(translateAddendum)
	}
	return b.String()
}
