package requirements

import (
	"time"

	"leasing-workers/internal/models"

	"github.com/google/uuid"
)

// DefaultAlternativeSet is used when no set is keyed by the relocation status.
const DefaultAlternativeSet = "default"

// ExpandTemplates turns requirement templates into PENDING items for app.
// A template listing relocation statuses is skipped unless the application's
// status is among them. A template listing party roles yields one item per
// matching party; without roles it yields one application-level item.
func ExpandTemplates(templates []models.RequirementTemplate, app *models.Application, parties []models.Party, now time.Time) []models.RequirementItem {
	relocation := app.Relocation()
	var items []models.RequirementItem

	for _, tpl := range templates {
		if len(tpl.RelocationStatuses) > 0 && !contains(tpl.RelocationStatuses, relocation) {
			continue
		}

		meta := models.RequirementMetadata{
			Kind:                    models.MetadataKindFor(tpl.Type),
			SourceTemplateID:        tpl.ID,
			DocumentType:            tpl.DocumentType,
			AlternativeRequirements: AlternativeSet(tpl, relocation),
		}

		var due *time.Time
		if tpl.DueInHours > 0 {
			d := now.Add(time.Duration(tpl.DueInHours) * time.Hour)
			due = &d
		}

		newItem := func(partyID *string) models.RequirementItem {
			return models.RequirementItem{
				ID:            uuid.New().String(),
				ApplicationID: app.ID,
				PartyID:       partyID,
				Type:          tpl.Type,
				Name:          tpl.Name,
				Status:        models.RequirementPending,
				Required:      tpl.Required,
				DueAt:         due,
				Metadata:      meta,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
		}

		if len(tpl.PartyRoles) == 0 {
			items = append(items, newItem(nil))
			continue
		}
		for i := range parties {
			if !containsRole(tpl.PartyRoles, parties[i].Role) {
				continue
			}
			partyID := parties[i].ID
			items = append(items, newItem(&partyID))
		}
	}
	return items
}

// AlternativeSet returns the alternatives keyed by relocation status,
// falling back to the default set.
func AlternativeSet(tpl models.RequirementTemplate, relocation string) []string {
	if relocation != "" {
		if set, ok := tpl.AlternativeSets[relocation]; ok {
			return set
		}
	}
	return tpl.AlternativeSets[DefaultAlternativeSet]
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func containsRole(roles []models.PartyRole, r models.PartyRole) bool {
	for _, role := range roles {
		if role == r {
			return true
		}
	}
	return false
}
