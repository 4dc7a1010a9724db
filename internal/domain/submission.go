package domain

import (
	"encoding/json"
	"time"
)

// Submission is one field-data record collected by an enumerator.
type Submission struct {
	ID                    string         `json:"id"`
	EnumeratorID          string         `json:"enumeratorId"`
	QuestionnaireFormID   string         `json:"questionnaireFormId"`
	SubmittedAt           time.Time      `json:"submittedAt"`
	GPSLatitude           *float64       `json:"gpsLatitude,omitempty"`
	GPSLongitude          *float64       `json:"gpsLongitude,omitempty"`
	CompletionTimeSeconds *int           `json:"completionTimeSeconds,omitempty"`
	RawData               map[string]any `json:"rawData,omitempty"`
	CreatedAt             time.Time      `json:"createdAt"`
}

// HasGPS reports whether the submission carries a GPS fix.
func (s *Submission) HasGPS() bool {
	return s != nil && s.GPSLatitude != nil && s.GPSLongitude != nil
}

// SubmissionContext is the read-only bundle handed to every heuristic.
// Built fresh per evaluation, never persisted, never mutated afterwards.
type SubmissionContext struct {
	SubmissionID          string
	EnumeratorID          string
	QuestionnaireFormID   string
	SubmittedAt           time.Time
	GPSLatitude           *float64
	GPSLongitude          *float64
	CompletionTimeSeconds *int
	RawData               map[string]any
	FormSchema            *FormSchema

	// RecentSubmissions holds the same enumerator's submissions inside the
	// lookback window, most recent first, current submission excluded.
	RecentSubmissions []*Submission

	// NearbySubmissions holds other enumerators' GPS-bearing submissions
	// inside the GPS time window. Empty when the current submission has no GPS.
	NearbySubmissions []*Submission
}

// HasGPS reports whether the evaluated submission carries a GPS fix.
func (c *SubmissionContext) HasGPS() bool {
	return c != nil && c.GPSLatitude != nil && c.GPSLongitude != nil
}

// QuestionnaireForm is a stored form definition with its parsed schema.
type QuestionnaireForm struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Schema    *FormSchema `json:"schema,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
}

// FormSchema describes the shape of a questionnaire: ordered sections of
// questions. Form builders variously emit sections/pages and
// questions/fields; both spellings are accepted on decode.
type FormSchema struct {
	Sections []FormSection `json:"sections"`
}

// FormSection is one page or group of questions.
type FormSection struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Questions []FormQuestion `json:"questions"`
}

// FormQuestion is a single question definition. Type follows XLSForm-style
// naming (select_one, text, integer, ...).
type FormQuestion struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UnmarshalJSON accepts both the canonical keys and the pages/fields aliases.
func (s *FormSchema) UnmarshalJSON(data []byte) error {
	var aux struct {
		Sections []json.RawMessage `json:"sections"`
		Pages    []json.RawMessage `json:"pages"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	raw := aux.Sections
	if len(raw) == 0 {
		raw = aux.Pages
	}

	s.Sections = make([]FormSection, 0, len(raw))
	for _, r := range raw {
		var sec FormSection
		if err := json.Unmarshal(r, &sec); err != nil {
			return err
		}
		s.Sections = append(s.Sections, sec)
	}
	return nil
}

// UnmarshalJSON accepts both questions and the fields alias, and id/name
// interchangeably for the section identifier.
func (sec *FormSection) UnmarshalJSON(data []byte) error {
	var aux struct {
		ID        string         `json:"id"`
		Name      string         `json:"name"`
		Questions []FormQuestion `json:"questions"`
		Fields    []FormQuestion `json:"fields"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	sec.ID = aux.ID
	if sec.ID == "" {
		sec.ID = aux.Name
	}
	sec.Name = aux.Name
	sec.Questions = aux.Questions
	if len(sec.Questions) == 0 {
		sec.Questions = aux.Fields
	}
	return nil
}
