package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequirementMetadata_PreservesUnknownFields(t *testing.T) {
	in := []byte(`{"kind":"document","sourceTemplateId":"tpl-id","documentType":"GOVERNMENT_ID","reviewerNote":"blurry","legacy":{"a":1}}`)

	var meta RequirementMetadata
	require.NoError(t, json.Unmarshal(in, &meta))

	assert.Equal(t, MetadataDocument, meta.Kind)
	assert.Equal(t, "tpl-id", meta.SourceTemplateID)
	assert.Equal(t, "GOVERNMENT_ID", meta.DocumentType)
	require.Len(t, meta.Extra, 2)
	assert.JSONEq(t, `"blurry"`, string(meta.Extra["reviewerNote"]))

	out, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.JSONEq(t, string(in), string(out))
}

func TestRequirementMetadata_KnownFieldsWinOverExtra(t *testing.T) {
	meta := RequirementMetadata{
		Kind:  MetadataCustom,
		Extra: map[string]json.RawMessage{"kind": json.RawMessage(`"stale"`)},
	}

	out, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"custom"}`, string(out))
}

func TestMetadataKindFor(t *testing.T) {
	assert.Equal(t, MetadataDocument, MetadataKindFor(RequirementDocument))
	assert.Equal(t, MetadataDocument, MetadataKindFor(RequirementVerification))
	assert.Equal(t, MetadataScreening, MetadataKindFor(RequirementScreening))
	assert.Equal(t, MetadataCustom, MetadataKindFor(RequirementSignature))
}

func TestPriorityRank(t *testing.T) {
	assert.Greater(t, PriorityEmergency.Rank(), PriorityPriority.Rank())
	assert.Greater(t, PriorityPriority.Rank(), PriorityStandard.Rank())
	assert.False(t, Priority("URGENT").Valid())
}
