// internal/models/reservation.go
package models

import "time"

type ReservationKind string

const (
	KindScreeningLock ReservationKind = "SCREENING_LOCK"
	KindSoftHold      ReservationKind = "SOFT_HOLD"
	KindHardHold      ReservationKind = "HARD_HOLD"
)

// IsHold reports the cooperatively checked kinds.
func (k ReservationKind) IsHold() bool {
	return k == KindSoftHold || k == KindHardHold
}

type ReservationStatus string

const (
	ReservationActive   ReservationStatus = "ACTIVE"
	ReservationReleased ReservationStatus = "RELEASED"
	ReservationExpired  ReservationStatus = "EXPIRED"
)

// Release reason codes.
const (
	ReleaseWithdrawn  = "WITHDRAWN"
	ReleaseExpired    = "EXPIRED"
	ReleaseDecisioned = "DECISIONED"
	ReleaseManual     = "MANUAL"
	ReleaseTimedOut   = "SCREENING_TIMEOUT"
)

// UnitReservation is a claim on a unit.
type UnitReservation struct {
	ID                string            `json:"id"`
	OrgID             string            `json:"orgId"`
	UnitID            string            `json:"unitId"`
	ApplicationID     *string           `json:"applicationId,omitempty"`
	Kind              ReservationKind   `json:"kind"`
	Status            ReservationStatus `json:"status"`
	ExpiresAt         *time.Time        `json:"expiresAt,omitempty"`
	ReleasedAt        *time.Time        `json:"releasedAt,omitempty"`
	ReleaseReasonCode *string           `json:"releaseReasonCode,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
}

// HolderApplicationID returns the owning application or "" for administrative holds.
func (r *UnitReservation) HolderApplicationID() string {
	if r.ApplicationID == nil {
		return ""
	}
	return *r.ApplicationID
}
