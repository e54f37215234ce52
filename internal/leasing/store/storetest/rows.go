// Package storetest builds sqlmock rows for application and party queries.
package storetest

import (
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

// ApplicationRowColumns names the columns of ApplicationColumns, for sqlmock rows.
var ApplicationRowColumns = []string{
	"id", "org_id", "property_id", "unit_id", "jurisdiction_code", "status", "priority",
	"application_type", "relocation_status", "duplicate_check_hash", "fee_status",
	"unit_availability_snapshot", "submitted_at", "expires_at", "decisioned_at",
	"closed_at", "closed_reason", "created_at", "updated_at",
}

// PartyRowColumns names the columns of PartyColumns, for sqlmock rows.
var PartyRowColumns = []string{
	"id", "application_id", "role", "status", "email", "phone", "first_name", "last_name",
	"invited_at", "completed_at", "last_reminded_at", "created_at", "updated_at",
}

// ApplicationFixture describes an application row for tests.
type ApplicationFixture struct {
	ID, OrgID, PropertyID, UnitID string
	Jurisdiction                  interface{}
	Status, Priority, Type        string
	Relocation                    interface{}
	FeeStatus                     interface{}
	SubmittedAt, ExpiresAt        interface{}
	At                            time.Time
}

// ApplicationRows builds sqlmock rows for the given fixtures.
func ApplicationRows(fixtures ...ApplicationFixture) *sqlmock.Rows {
	rows := sqlmock.NewRows(ApplicationRowColumns)
	for _, f := range fixtures {
		if f.Priority == "" {
			f.Priority = "STANDARD"
		}
		if f.Type == "" {
			f.Type = "INDIVIDUAL"
		}
		if f.OrgID == "" {
			f.OrgID = "org-1"
		}
		if f.PropertyID == "" {
			f.PropertyID = "property-1"
		}
		if f.UnitID == "" {
			f.UnitID = "unit-1"
		}
		rows.AddRow(f.ID, f.OrgID, f.PropertyID, f.UnitID, f.Jurisdiction, f.Status, f.Priority,
			f.Type, f.Relocation, "hash-"+f.ID, f.FeeStatus,
			nil, f.SubmittedAt, f.ExpiresAt, nil,
			nil, nil, f.At, f.At)
	}
	return rows
}

// PartyRow appends one party to rows.
func PartyRow(rows *sqlmock.Rows, id, applicationID, role, status string, at time.Time) *sqlmock.Rows {
	return rows.AddRow(id, applicationID, role, status, id+"@example.com", nil, nil, nil,
		nil, nil, nil, at, at)
}
