package usecase

import (
	"fmt"
	"strings"

	"medivoice/internal/domain"
)

// buildLogResult turns a live interpretation log into a note result with
// empty SOAP sections. Translated utterances render as "original (translation)".
func buildLogResult(utterances []domain.LiveUtterance, language string) domain.NoteResult {
	turns := make([]domain.TranscriptTurn, 0, len(utterances))
	for _, u := range utterances {
		original := strings.TrimSpace(u.OriginalText)
		if original == "" {
			continue
		}
		text := original
		if translated := strings.TrimSpace(u.TranslatedText); translated != "" {
			text = fmt.Sprintf("%s (%s)", original, translated)
		}
		turns = append(turns, domain.TranscriptTurn{Speaker: u.Role, Text: text})
	}
	return domain.NoteResult{DetectedLanguage: language, Transcript: turns}
}
