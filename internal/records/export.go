package records

import (
	"fmt"
	"strings"
	"time"

	"medivoice/internal/domain"
)

// FormatSOAPText renders the four sections for pasting into an EHR.
func FormatSOAPText(soap domain.SOAP) string {
	return fmt.Sprintf("(S)\n%s\n\n(O)\n%s\n\n(A)\n%s\n\n(P)\n%s", soap.S, soap.O, soap.A, soap.P)
}

// FormatPlainText renders a full record as a downloadable text document.
func FormatPlainText(record domain.ClinicalRecord) string {
	soap := record.Data.SOAP
	lines := []string{
		"【診療記録】",
		"日時: " + record.Date.Local().Format("2006/1/2 15:04:05"),
		"患者ID: " + record.Patient.ID,
		"氏名: " + record.Patient.Name,
		"",
		"【SOAP】",
		"(S) " + soap.S,
		"(O) " + soap.O,
		"(A) " + soap.A,
		"(P) " + soap.P,
		"",
		"【文字起こし】",
	}
	for _, turn := range record.Data.Transcript {
		lines = append(lines, fmt.Sprintf("[%s] %s", turn.Speaker.Label(), turn.Text))
	}
	return strings.Join(lines, "\n")
}

// ExportFilename names the text export for a patient on a given day.
func ExportFilename(patient domain.Patient, at time.Time) string {
	id := strings.TrimSpace(patient.ID)
	if id == "" {
		id = "no_id"
	}
	return fmt.Sprintf("medical_record_%s_%s.txt", id, at.Local().Format("2006-01-02"))
}

// RecoveryFilename names a preserved recording that failed note generation.
func RecoveryFilename(mimeType string, at time.Time) string {
	ext := "webm"
	switch {
	case mimeType == "audio/wav":
		ext = "wav"
	case strings.HasPrefix(mimeType, "audio/L16"):
		ext = "pcm"
	}
	return fmt.Sprintf("recording_%s.%s", at.UTC().Format("2006-01-02T15-04-05Z"), ext)
}

