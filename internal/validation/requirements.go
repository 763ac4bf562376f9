package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/inkwell-ai/fabler/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// requirementsSchemaJSON is the JSON Schema for story requirements documents.
// Embedded as a constant to avoid filesystem dependencies.
const requirementsSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://fabler.dev/schemas/requirements.json",
  "type": "object",
  "required": ["genre", "target_word_count"],
  "properties": {
    "title": { "type": "string" },
    "genre": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[a-z][a-z_]*$"
    },
    "target_word_count": {
      "type": "integer",
      "minimum": 50,
      "maximum": 200000
    },
    "theme": { "type": "string" },
    "setting": { "type": "string" },
    "tone": { "type": "string" },
    "characters": {
      "type": "array",
      "items": { "type": "string", "minLength": 1 }
    },
    "notes": { "type": "string" }
  },
  "additionalProperties": false
}`

// RequirementsValidator validates story requirements documents against the
// embedded JSON Schema plus semantic checks the schema cannot express.
// It is safe for concurrent use.
type RequirementsValidator struct {
	compiled *jsonschema.Schema
}

// NewRequirementsValidator creates a validator with the schema pre-compiled.
func NewRequirementsValidator() (*RequirementsValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(requirementsSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal requirements schema: %w", err)
	}
	if err := c.AddResource("https://fabler.dev/schemas/requirements.json", doc); err != nil {
		return nil, fmt.Errorf("add requirements schema resource: %w", err)
	}

	compiled, err := c.Compile("https://fabler.dev/schemas/requirements.json")
	if err != nil {
		return nil, fmt.Errorf("compile requirements schema: %w", err)
	}

	return &RequirementsValidator{compiled: compiled}, nil
}

// Validate checks a Requirements document. It returns a FablerError with the
// VALIDATION_ERROR code describing every violation, or nil when valid.
func (v *RequirementsValidator) Validate(req *schema.Requirements) error {
	if req == nil {
		return schema.NewError(schema.ErrCodeValidation, "requirements document is nil")
	}

	doc, err := toJSONValue(req)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize requirements").WithCause(err)
	}

	if err := v.compiled.Validate(doc); err != nil {
		return toFablerError(err)
	}

	// Semantic checks beyond JSON Schema: duplicate character names.
	result := &schema.ValidationResult{}
	seen := make(map[string]struct{}, len(req.Characters))
	for i, name := range req.Characters {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, exists := seen[key]; exists {
			result.AddError(fmt.Sprintf("characters[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("duplicate character %q", name))
		}
		seen[key] = struct{}{}
	}
	if req.TargetWordCount > 50000 {
		result.AddWarning("target_word_count", schema.ErrCodeValidation,
			"targets above 50000 words produce multi-part generation with long run times")
	}

	return result.ToError()
}

// ValidateJSON unmarshals raw bytes into Requirements and validates them.
func (v *RequirementsValidator) ValidateJSON(raw []byte) (*schema.Requirements, error) {
	var req schema.Requirements
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid requirements JSON").WithCause(err)
	}
	if err := v.Validate(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFablerError converts a jsonschema.ValidationError into a FablerError
// with one message per leaf violation.
func toFablerError(err error) *schema.FablerError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
