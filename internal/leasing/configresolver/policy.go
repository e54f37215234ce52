package configresolver

import (
	"leasing-workers/internal/common/config"
	"leasing-workers/internal/models"
)

// DefaultPolicy is the hard-coded policy used when nothing resolves.
func DefaultPolicy(d config.PolicyDefaults, feeCents int64) models.WorkflowPolicy {
	return models.WorkflowPolicy{
		UnitIntakeMode:        d.UnitIntakeMode,
		SubmitCap:             d.SubmitCap,
		SubmittedTTLHours:     d.SubmittedTTLHours,
		ScreeningLockTTLHours: d.ScreeningLockTTLHours,
		SoftHoldTTLHours:      d.SoftHoldTTLHours,
		ScreeningTimeoutHours: d.ScreeningTimeoutHours,
		RequiredCoApplicants:  d.RequiredCoApplicants,
		MaxReminders:          d.MaxReminders,
		ReminderIntervalHours: d.ReminderIntervalHours,
		ApplicationFeeCents:   feeCents,
	}
}

// mergePolicy fills unset fields of p from def.
func mergePolicy(p, def models.WorkflowPolicy) models.WorkflowPolicy {
	if p.UnitIntakeMode == "" {
		p.UnitIntakeMode = def.UnitIntakeMode
	}
	if p.SubmitCap == 0 {
		p.SubmitCap = def.SubmitCap
	}
	if p.SubmittedTTLHours == 0 {
		p.SubmittedTTLHours = def.SubmittedTTLHours
	}
	if p.ScreeningLockTTLHours == 0 {
		p.ScreeningLockTTLHours = def.ScreeningLockTTLHours
	}
	if p.SoftHoldTTLHours == 0 {
		p.SoftHoldTTLHours = def.SoftHoldTTLHours
	}
	if p.ScreeningTimeoutHours == 0 {
		p.ScreeningTimeoutHours = def.ScreeningTimeoutHours
	}
	if p.RequiredCoApplicants == 0 {
		p.RequiredCoApplicants = def.RequiredCoApplicants
	}
	if p.MaxReminders == 0 {
		p.MaxReminders = def.MaxReminders
	}
	if p.ReminderIntervalHours == 0 {
		p.ReminderIntervalHours = def.ReminderIntervalHours
	}
	if p.ApplicationFeeCents == 0 {
		p.ApplicationFeeCents = def.ApplicationFeeCents
	}
	return p
}
