package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"medivoice/internal/domain"
)

// legacyRecord is the version 0 layout: a bare JSON array whose note payload
// used the model's field names and Japanese speaker labels.
type legacyRecord struct {
	ID      string         `json:"id"`
	Date    time.Time      `json:"date"`
	Patient domain.Patient `json:"patient"`
	Data    struct {
		Language      string `json:"language"`
		Transcription []struct {
			Speaker string `json:"speaker"`
			Text    string `json:"text"`
		} `json:"transcription"`
		SOAP      domain.SOAP `json:"soap"`
		UsedModel string      `json:"usedModel"`
	} `json:"data"`
}

func decode(raw []byte) ([]domain.ClinicalRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return migrateV0(raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch {
	case env.SchemaVersion > SchemaVersion:
		return nil, fmt.Errorf("%w: schema version %d", ErrUnsupportedSchema, env.SchemaVersion)
	case env.Records == nil:
		return []domain.ClinicalRecord{}, nil
	}
	return env.Records, nil
}

func migrateV0(raw []byte) ([]domain.ClinicalRecord, error) {
	var legacy []legacyRecord
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, err
	}

	out := make([]domain.ClinicalRecord, 0, len(legacy))
	for _, old := range legacy {
		turns := make([]domain.TranscriptTurn, 0, len(old.Data.Transcription))
		for _, t := range old.Data.Transcription {
			turns = append(turns, domain.TranscriptTurn{Speaker: domain.RoleFromLabel(t.Speaker), Text: t.Text})
		}
		out = append(out, domain.ClinicalRecord{
			ID:      old.ID,
			Date:    old.Date,
			Patient: old.Patient,
			Data: domain.NoteResult{
				DetectedLanguage: old.Data.Language,
				Transcript:       turns,
				SOAP:             old.Data.SOAP,
				ModelUsed:        old.Data.UsedModel,
			},
		})
	}
	return out, nil
}
