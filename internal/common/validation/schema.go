package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WorkflowPolicySchema describes the workflow config document. Unknown keys
// are allowed so older engines can read newer documents.
const WorkflowPolicySchema = `{
  "type": "object",
  "properties": {
    "unitIntakeMode":        {"type": "string", "enum": ["LOCK_ON_SUBMIT", "CAP_N_SUBMITS", "OPEN"]},
    "submitCap":             {"type": "integer", "minimum": 1},
    "submittedTtlHours":     {"type": "integer", "minimum": 1},
    "screeningLockTtlHours": {"type": "integer", "minimum": 1},
    "softHoldTtlHours":      {"type": "integer", "minimum": 1},
    "screeningTimeoutHours": {"type": "integer", "minimum": 1},
    "requiredCoApplicants":  {"type": "integer", "minimum": 0},
    "maxReminders":          {"type": "integer", "minimum": 0},
    "reminderIntervalHours": {"type": "integer", "minimum": 1},
    "applicationFeeCents":   {"type": "integer", "minimum": 0},
    "requirementTemplates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type", "name"],
        "properties": {
          "id":   {"type": "string", "minLength": 1},
          "type": {"type": "string", "enum": ["DOCUMENT", "SCREENING", "PAYMENT", "SIGNATURE", "VERIFICATION", "CUSTOM"]},
          "name": {"type": "string", "minLength": 1},
          "required": {"type": "boolean"},
          "partyRoles": {
            "type": "array",
            "items": {"type": "string", "enum": ["PRIMARY", "CO_APPLICANT", "OCCUPANT", "GUARANTOR"]}
          },
          "relocationStatuses": {"type": "array", "items": {"type": "string"}},
          "alternativeSets": {
            "type": "object",
            "additionalProperties": {"type": "array", "items": {"type": "string"}}
          },
          "documentType": {"type": "string"},
          "dueInHours":   {"type": "integer", "minimum": 0}
        }
      }
    }
  }
}`

var workflowPolicySchema = gojsonschema.NewStringLoader(WorkflowPolicySchema)

// ValidateWorkflowPolicy validates a raw workflow config document.
func ValidateWorkflowPolicy(document []byte) (*ValidationResult, error) {
	return ValidateJSON(workflowPolicySchema, gojsonschema.NewBytesLoader(document))
}

// ValidateDocument validates a decoded Go value against a JSON schema string.
func ValidateDocument(schemaJSON string, doc interface{}) (*ValidationResult, error) {
	return ValidateJSON(gojsonschema.NewStringLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
}

// ValidateJSON runs gojsonschema and flattens its errors into ValidationErrors.
func ValidateJSON(schema, document gojsonschema.JSONLoader) (*ValidationResult, error) {
	result, err := gojsonschema.Validate(schema, document)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}

	out := &ValidationResult{Valid: result.Valid()}
	for _, desc := range result.Errors() {
		out.Errors = append(out.Errors, ValidationError{
			Field:   desc.Field(),
			Message: desc.Description(),
			Code:    strings.ToUpper(desc.Type()),
		})
	}
	return out, nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+".") {
			return true
		}
	}
	return false
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^\+?[\d\s\-\(\)]{10,}$`)
)

// ValidateEmail validates email format
func ValidateEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidatePhone validates basic phone number format
func ValidatePhone(phone string) bool {
	return phonePattern.MatchString(phone)
}
