package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Keys of the analysis result as they appear in the example schema.
const (
	KeyMeterReading    = "meter_reading"
	KeyReadingQuality  = "reading_quality"
	KeyDigitConfidence = "digit_confidence"
	KeyCondition       = "condition_assessment"
	KeySummary         = "summary"

	KeyPhysicalState    = "physical_state"
	KeyEnvironment      = "environment"
	KeyLabelVisibility  = "label_visibility"
	KeyOverallCondition = "overall_condition"
)

// Spellings the model uses for the per-digit fields. Matching is
// case-insensitive, so "Confianza" and "Dígito" are covered too.
var (
	digitKeys      = []string{"digit", "digito", "dígito"}
	confidenceKeys = []string{"confidence", "confianza"}
)

// DigitConfidence is one entry of the per-digit confidence list.
type DigitConfidence struct {
	Digit      *string
	Confidence *float64
}

// ConditionAssessment describes the meter and its surroundings.
type ConditionAssessment struct {
	PhysicalState    *string
	Environment      *string
	LabelVisibility  *string
	OverallCondition *string
}

// Reading is the analysis result returned by the vision model. Every field is
// optional: the example schema is advisory and the model may drop or rename keys.
type Reading struct {
	MeterReading    *string
	ReadingQuality  *float64
	DigitConfidence []DigitConfidence
	Condition       *ConditionAssessment
	Summary         *string

	// Raw is the parsed reply, kept for export.
	Raw map[string]any
}

// ParseReading decodes the model's reply. Anything that is not a JSON object
// is an error.
func ParseReading(content string) (*Reading, error) {
	dec := json.NewDecoder(strings.NewReader(content))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	// anything but EOF here, including a stray } or ], is trailing data
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("decode reading: trailing data after JSON value")
	}

	raw, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("decode reading: expected a JSON object, got %s", jsonKind(v))
	}
	return NormalizeReading(raw), nil
}

// NormalizeReading maps a loosely shaped object onto Reading. It never fails;
// values of the wrong type are treated as absent.
func NormalizeReading(raw map[string]any) *Reading {
	r := &Reading{Raw: raw}
	if raw == nil {
		return r
	}

	r.MeterReading = stringValue(raw[KeyMeterReading])
	r.ReadingQuality = floatValue(raw[KeyReadingQuality])
	r.Summary = stringValue(raw[KeySummary])

	if items, ok := raw[KeyDigitConfidence].([]any); ok {
		for _, item := range items {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			r.DigitConfidence = append(r.DigitConfidence, DigitConfidence{
				Digit:      stringValue(lookupFold(entry, digitKeys)),
				Confidence: floatValue(lookupFold(entry, confidenceKeys)),
			})
		}
	}

	if cond, ok := raw[KeyCondition].(map[string]any); ok {
		r.Condition = &ConditionAssessment{
			PhysicalState:    stringValue(cond[KeyPhysicalState]),
			Environment:      stringValue(cond[KeyEnvironment]),
			LabelVisibility:  stringValue(cond[KeyLabelVisibility]),
			OverallCondition: stringValue(cond[KeyOverallCondition]),
		}
	}

	return r
}

// ExportJSON writes the reply exactly as received, indented by two spaces.
func (r *Reading) ExportJSON() ([]byte, error) {
	if r == nil || r.Raw == nil {
		return nil, ErrNoResult
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r.Raw); err != nil {
		return nil, fmt.Errorf("export reading: %w", err)
	}
	return buf.Bytes(), nil
}

func lookupFold(m map[string]any, names []string) any {
	for _, name := range names {
		if v, ok := m[name]; ok {
			return v
		}
	}
	for key, v := range m {
		for _, name := range names {
			if strings.EqualFold(key, name) {
				return v
			}
		}
	}
	return nil
}

func stringValue(v any) *string {
	switch t := v.(type) {
	case string:
		return &t
	case json.Number:
		s := t.String()
		return &s
	case float64:
		s := strconv.FormatFloat(t, 'f', -1, 64)
		return &s
	}
	return nil
}

func floatValue(v any) *float64 {
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case float64:
		f = t
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		return nil
	}
	if err != nil {
		return nil
	}
	return &f
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case json.Number, float64:
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	}
	return fmt.Sprintf("%T", v)
}
