package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateWorkflowPolicy(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		valid     bool
		badFields []string
	}{
		{
			name:  "empty document uses defaults",
			doc:   `{}`,
			valid: true,
		},
		{
			name: "full document",
			doc: `{
				"unitIntakeMode": "CAP_N_SUBMITS",
				"submitCap": 3,
				"requirementTemplates": [
					{"id": "gov-id", "type": "DOCUMENT", "name": "Government ID",
					 "partyRoles": ["PRIMARY", "CO_APPLICANT"],
					 "alternativeSets": {"default": ["PASSPORT"], "INTERNATIONAL": ["VISA"]}}
				],
				"futureFlag": true
			}`,
			valid: true,
		},
		{
			name:      "unknown intake mode",
			doc:       `{"unitIntakeMode": "FIRST_COME"}`,
			valid:     false,
			badFields: []string{"unitIntakeMode"},
		},
		{
			name:      "template missing name and bad role",
			doc:       `{"requirementTemplates": [{"id": "x", "type": "DOCUMENT", "partyRoles": ["LANDLORD"]}]}`,
			valid:     false,
			badFields: []string{"requirementTemplates.0"},
		},
		{
			name:      "zero cap",
			doc:       `{"submitCap": 0}`,
			valid:     false,
			badFields: []string{"submitCap"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateWorkflowPolicy([]byte(tt.doc))
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid, result.GetErrorMessages())
			for _, f := range tt.badFields {
				assert.True(t, result.HasErrors(f), "expected error on %s, got %v", f, result.GetErrorMessages())
			}
		})
	}
}

func TestValidateWorkflowPolicy_MalformedJSON(t *testing.T) {
	_, err := ValidateWorkflowPolicy([]byte(`{"submitCap":`))
	assert.Error(t, err)
}

func TestValidateEmailAndPhone(t *testing.T) {
	assert.True(t, ValidateEmail("renter@example.com"))
	assert.False(t, ValidateEmail("renter@"))
	assert.True(t, ValidatePhone("+1 (555) 010-2000"))
	assert.False(t, ValidatePhone("555"))
}
