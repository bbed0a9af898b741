package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultPrompt instructs the model how to read the meter.
const DefaultPrompt = `You are an expert in electrical infrastructure inspection. 
Analyze the provided image of an electrical energy meter.

Your tasks:
1. Detect and extract the numeric reading shown on the meter display (in kWh).
2. Evaluate the readability of each digit and provide an overall reading quality score (0–100), where 100 = perfectly clear.
3. Assess the condition of the meter and its immediate surroundings based on visual cues:
   - Dirt, rust, cracks, or damage.
   - Vegetation, moisture, or obstructions.
   - Visibility of labels and seals.
   - General maintenance state (good / moderate / poor).
4. Provide a short human-readable summary describing your assessment in plain language.

Do not include any explanation or formatting other than the requested JSON output. 
Attached is an example for you to replace with the current, correct data.

If the image does not show an electrical meter, just return the same JSON with zeros and in the summary add a text saying that what the photo is, if recognizable.

All answers on the returning JSON must be in SPANISH.`

// DefaultSchema is the example reply handed to the model.
const DefaultSchema = `{
  "meter_reading": "078254",
  "reading_quality": 92,
  "digit_confidence": [
    {"digito": "0", "confianza": 0.98},
    {"digito": "7", "confianza": 0.95},
    {"digito": "8", "confianza": 0.94},
    {"digito": "2", "confianza": 0.90},
    {"digito": "5", "confianza": 0.88},
    {"digito": "4", "confianza": 0.92}
  ],
  "condition_assessment": {
    "physical_state": "Intacto pero sucio",
    "environment": "Vegetacion presente, expuesto a la lluvia",
    "label_visibility": "Limpio y claro",
    "overall_condition": "Moderado"
  },
  "summary": "El medidor aparece funcional y legible con una pantalla clara. Se observan algunos residuos y cerca de la vegetación; se recomienda limpiar para evitar la degradación futura."
}`

// Sealer protects the credential while it sits in memory.
type Sealer interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Settings holds the three user-editable values of a session.
type Settings struct {
	sealer Sealer

	sealedKey string
	prompt    string
	schema    string
}

// NewSettings returns settings holding the hardcoded defaults and no
// credential. A nil sealer keeps the credential in plain memory.
func NewSettings(sealer Sealer) *Settings {
	return &Settings{
		sealer: sealer,
		prompt: DefaultPrompt,
		schema: DefaultSchema,
	}
}

func (s *Settings) Prompt() string { return s.prompt }
func (s *Settings) Schema() string { return s.schema }

// HasAPIKey reports whether a credential has been entered.
func (s *Settings) HasAPIKey() bool { return s.sealedKey != "" }

// APIKey unseals the credential. An empty string means none is set.
func (s *Settings) APIKey() (string, error) {
	if s.sealedKey == "" {
		return "", nil
	}
	if s.sealer == nil {
		return s.sealedKey, nil
	}
	key, err := s.sealer.Decrypt(s.sealedKey)
	if err != nil {
		return "", fmt.Errorf("unseal api key: %w", err)
	}
	return key, nil
}

// SetAPIKey stores the credential. Surrounding whitespace is dropped, so a
// blank value clears it.
func (s *Settings) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" || s.sealer == nil {
		s.sealedKey = key
		return nil
	}
	sealed, err := s.sealer.Encrypt(key)
	if err != nil {
		return fmt.Errorf("seal api key: %w", err)
	}
	s.sealedKey = sealed
	return nil
}

func (s *Settings) SetPrompt(prompt string) {
	s.prompt = prompt
}

// SetSchema replaces the example JSON. Invalid JSON is rejected and the
// previous value stays in place.
func (s *Settings) SetSchema(schema string) error {
	if err := ValidateSchema(schema); err != nil {
		return err
	}
	s.schema = schema
	return nil
}

func (s *Settings) ResetAPIKey() { s.sealedKey = "" }
func (s *Settings) ResetPrompt() { s.prompt = DefaultPrompt }
func (s *Settings) ResetSchema() { s.schema = DefaultSchema }

// ResetDefaults restores prompt and schema; the credential is kept.
func (s *Settings) ResetDefaults() {
	s.ResetPrompt()
	s.ResetSchema()
}

// ResetAll also forgets the credential.
func (s *Settings) ResetAll() {
	s.ResetAPIKey()
	s.ResetDefaults()
}

// ValidateSchema checks that the text is a single JSON value.
func ValidateSchema(schema string) error {
	var v any
	if err := json.Unmarshal([]byte(schema), &v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchema, err)
	}
	return nil
}
