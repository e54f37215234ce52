package requirements

import (
	"testing"
	"time"

	"leasing-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func jointApp(relocation string) *models.Application {
	app := &models.Application{ID: "app-1", OrgID: "org-1", ApplicationType: models.ApplicationTypeJoint}
	if relocation != "" {
		app.RelocationStatus = strPtr(relocation)
	}
	return app
}

func jointParties() []models.Party {
	return []models.Party{
		{ID: "p-primary", ApplicationID: "app-1", Role: models.RolePrimary},
		{ID: "p-co", ApplicationID: "app-1", Role: models.RoleCoApplicant},
		{ID: "p-occ", ApplicationID: "app-1", Role: models.RoleOccupant},
	}
}

func TestExpandTemplates(t *testing.T) {
	templates := []models.RequirementTemplate{
		{
			ID:           "income",
			Type:         models.RequirementDocument,
			Name:         "Proof of income",
			Required:     true,
			PartyRoles:   []models.PartyRole{models.RolePrimary, models.RoleCoApplicant},
			DocumentType: "PAYSTUB",
			DueInHours:   48,
			AlternativeSets: map[string][]string{
				"default":    {"PAYSTUB", "W2"},
				"RELOCATING": {"OFFER_LETTER"},
			},
		},
		{ID: "screening", Type: models.RequirementScreening, Name: "Background check", Required: true},
		{
			ID:                 "relocation-letter",
			Type:               models.RequirementDocument,
			Name:               "Relocation letter",
			RelocationStatuses: []string{"RELOCATING"},
		},
	}

	t.Run("fans out by role and skips unmatched relocation", func(t *testing.T) {
		items := ExpandTemplates(templates, jointApp("LOCAL"), jointParties(), now)
		require.Len(t, items, 3)

		assert.Equal(t, "p-primary", *items[0].PartyID)
		assert.Equal(t, "p-co", *items[1].PartyID)
		assert.Nil(t, items[2].PartyID)

		income := items[0]
		assert.Equal(t, models.RequirementPending, income.Status)
		assert.Equal(t, models.MetadataDocument, income.Metadata.Kind)
		assert.Equal(t, "income", income.Metadata.SourceTemplateID)
		assert.Equal(t, "PAYSTUB", income.Metadata.DocumentType)
		assert.Equal(t, []string{"PAYSTUB", "W2"}, income.Metadata.AlternativeRequirements)
		require.NotNil(t, income.DueAt)
		assert.Equal(t, now.Add(48*time.Hour), *income.DueAt)

		assert.Equal(t, models.MetadataScreening, items[2].Metadata.Kind)
		assert.Nil(t, items[2].DueAt)
		assert.NotEqual(t, items[0].ID, items[1].ID)
	})

	t.Run("relocation selects alternative set and template", func(t *testing.T) {
		items := ExpandTemplates(templates, jointApp("RELOCATING"), jointParties(), now)
		require.Len(t, items, 4)
		assert.Equal(t, []string{"OFFER_LETTER"}, items[0].Metadata.AlternativeRequirements)
		assert.Equal(t, "relocation-letter", items[3].Metadata.SourceTemplateID)
	})

	t.Run("no relocation status skips filtered templates", func(t *testing.T) {
		items := ExpandTemplates(templates, jointApp(""), jointParties(), now)
		assert.Len(t, items, 3)
	})

	t.Run("no matching parties", func(t *testing.T) {
		items := ExpandTemplates(templates[:1], jointApp(""), nil, now)
		assert.Empty(t, items)
	})
}

func TestAlternativeSet_NoDefault(t *testing.T) {
	tpl := models.RequirementTemplate{AlternativeSets: map[string][]string{"RELOCATING": {"A"}}}
	assert.Nil(t, AlternativeSet(tpl, "LOCAL"))
	assert.Equal(t, []string{"A"}, AlternativeSet(tpl, "RELOCATING"))
}
