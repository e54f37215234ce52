package decisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/store"
	"leasing-workers/internal/models"

	"github.com/lib/pq"
)

// Sort keys.
const (
	SortPrioritySLA = "priority_sla"
	SortSubmitted   = "submitted_at"
	SortUpdated     = "updated_at"
)

const (
	slaWarningAfter = 24 * time.Hour
	slaBreachAfter  = 48 * time.Hour

	defaultPageSize = 50
	maxPageSize     = 200
)

type GateStatus string

const (
	GatePass    GateStatus = "PASS"
	GateBlocked GateStatus = "BLOCKED"
)

// Gates are the independent preconditions shown per queue row.
type Gates struct {
	Parties          GateStatus `json:"parties"`
	Docs             GateStatus `json:"docs"`
	Screening        GateStatus `json:"screening"`
	Payment          GateStatus `json:"payment"`
	UnitAvailability GateStatus `json:"unitAvailability"`
	Reservation      GateStatus `json:"reservation"`
}

// Next actions.
const (
	ActionWaitingOnApplicant = "WAITING_ON_APPLICANT"
	ActionNone               = "NO_ACTION"
	ActionCompleteParties    = "COMPLETE_PARTIES"
	ActionCollectDocuments   = "COLLECT_DOCUMENTS"
	ActionRunScreening       = "RUN_SCREENING"
	ActionCollectPayment     = "COLLECT_PAYMENT"
	ActionResolveUnit        = "RESOLVE_UNIT_AVAILABILITY"
	ActionPlaceReservation   = "PLACE_RESERVATION"
	ActionReview             = "REVIEW"
)

type SLAState string

const (
	SLANotStarted SLAState = "NOT_STARTED"
	SLAOnTrack    SLAState = "ON_TRACK"
	SLAWarning    SLAState = "WARNING"
	SLABreached   SLAState = "BREACHED"
)

// Capabilities describes the optional property and unit tables the queue
// can join for display names. It is detected once at startup.
type Capabilities struct {
	HasProperties bool              `json:"hasProperties"`
	HasUnits      bool              `json:"hasUnits"`
	Columns       map[string]string `json:"columns"`
}

// Capability column keys.
const (
	ColumnPropertyName = "propertyName"
	ColumnUnitLabel    = "unitLabel"
)

var (
	propertyNameCandidates = []string{"name", "display_name", "title"}
	unitLabelCandidates    = []string{"unit_number", "label", "name"}
)

// DetectCapabilities inspects the current schema for properties and units
// tables and the columns used to label them.
func DetectCapabilities(ctx context.Context, db database.DBTX) (Capabilities, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT table_name, column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name IN ('properties', 'units')`)
	if err != nil {
		return Capabilities{}, fmt.Errorf("inspect queue schema: %w", err)
	}
	defer rows.Close()

	columns := map[string]map[string]bool{}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return Capabilities{}, fmt.Errorf("scan queue schema: %w", err)
		}
		if columns[table] == nil {
			columns[table] = map[string]bool{}
		}
		columns[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return Capabilities{}, fmt.Errorf("iterate queue schema: %w", err)
	}

	caps := Capabilities{Columns: map[string]string{}}
	if col := pickColumn(columns["properties"], propertyNameCandidates); col != "" {
		caps.HasProperties = true
		caps.Columns[ColumnPropertyName] = col
	}
	if col := pickColumn(columns["units"], unitLabelCandidates); col != "" {
		caps.HasUnits = true
		caps.Columns[ColumnUnitLabel] = col
	}
	return caps, nil
}

func pickColumn(have map[string]bool, candidates []string) string {
	if !have["id"] {
		return ""
	}
	for _, c := range candidates {
		if have[c] {
			return c
		}
	}
	return ""
}

type QueueFilter struct {
	OrgID      string                     `json:"orgId"`
	Statuses   []models.ApplicationStatus `json:"statuses,omitempty"`
	Priorities []models.Priority          `json:"priorities,omitempty"`
	PropertyID string                     `json:"propertyId,omitempty"`
	Sort       string                     `json:"sort,omitempty"`
	Limit      int                        `json:"limit,omitempty"`
	Offset     int                        `json:"offset,omitempty"`
}

type QueueItem struct {
	Application  models.Application `json:"application"`
	PropertyName *string            `json:"propertyName,omitempty"`
	UnitLabel    *string            `json:"unitLabel,omitempty"`
	Gates        Gates              `json:"gates"`
	NextAction   string             `json:"nextAction"`
	SLA          SLAState           `json:"sla"`
}

type Facets struct {
	Status   map[string]int `json:"status"`
	Priority map[string]int `json:"priority"`
}

type QueuePage struct {
	Items  []QueueItem `json:"items"`
	Total  int         `json:"total"`
	Facets Facets      `json:"facets"`
}

// Queue lists applications for reviewers with gate status and SLA state.
type Queue struct {
	caps   Capabilities
	logger logger.Logger
	now    func() time.Time
}

func NewQueue(caps Capabilities, log logger.Logger) *Queue {
	if caps.Columns == nil {
		caps.Columns = map[string]string{}
	}
	return &Queue{
		caps:   caps,
		logger: logger.Component(log, "queue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// List returns one page of the queue. Facets and Total are aggregated over
// the same filter as the page.
func (q *Queue) List(ctx context.Context, db database.DBTX, f QueueFilter) (*QueuePage, error) {
	if err := errors.RequireField("orgId", f.OrgID); err != nil {
		return nil, err
	}
	if len(f.Statuses) == 0 {
		f.Statuses = []models.ApplicationStatus{models.StatusSubmitted, models.StatusInReview, models.StatusNeedsInfo}
	}
	if f.Sort == "" {
		f.Sort = SortPrioritySLA
	}
	orderBy, ok := orderings[f.Sort]
	if !ok {
		return nil, errors.NewInvalidInputError("sort", fmt.Sprintf("unknown sort %q", f.Sort))
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	where, args := filterClause(f)
	facets, total, err := q.facets(ctx, db, where, args)
	if err != nil {
		return nil, err
	}

	pageArgs := append(append([]interface{}{}, args...), f.Limit, f.Offset)
	rows, err := db.QueryContext(ctx, `
		SELECT `+queueSelect(q.caps)+`
		FROM applications a`+queueJoins(q.caps)+`
		WHERE `+where+`
		ORDER BY `+orderBy+`
		LIMIT $`+fmt.Sprint(len(args)+1)+` OFFSET $`+fmt.Sprint(len(args)+2), pageArgs...)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	defer rows.Close()

	now := q.now()
	items := []QueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows, now)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}

	if f.Sort == SortPrioritySLA {
		SortByPrioritySLA(items)
	}
	return &QueuePage{Items: items, Total: total, Facets: facets}, nil
}

func (q *Queue) facets(ctx context.Context, db database.DBTX, where string, args []interface{}) (Facets, int, error) {
	facets := Facets{Status: map[string]int{}, Priority: map[string]int{}}
	rows, err := db.QueryContext(ctx, `
		SELECT a.status, a.priority, COUNT(*)
		FROM applications a
		WHERE `+where+`
		GROUP BY a.status, a.priority`, args...)
	if err != nil {
		return facets, 0, fmt.Errorf("queue facets: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var (
			status, priority string
			n                int
		)
		if err := rows.Scan(&status, &priority, &n); err != nil {
			return facets, 0, fmt.Errorf("scan queue facet: %w", err)
		}
		facets.Status[status] += n
		facets.Priority[priority] += n
		total += n
	}
	if err := rows.Err(); err != nil {
		return facets, 0, fmt.Errorf("iterate queue facets: %w", err)
	}
	return facets, total, nil
}

var orderings = map[string]string{
	SortPrioritySLA: `CASE a.priority WHEN 'EMERGENCY' THEN 3 WHEN 'PRIORITY' THEN 2 ELSE 1 END DESC,
		a.submitted_at ASC NULLS LAST, a.id`,
	SortSubmitted: `a.submitted_at ASC NULLS LAST, a.id`,
	SortUpdated:   `a.updated_at DESC, a.id`,
}

func filterClause(f QueueFilter) (string, []interface{}) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	clauses := []string{"a.org_id = $1", "a.status = ANY($2)"}
	args := []interface{}{f.OrgID, pq.Array(statuses)}

	if len(f.Priorities) > 0 {
		priorities := make([]string, len(f.Priorities))
		for i, p := range f.Priorities {
			priorities[i] = string(p)
		}
		args = append(args, pq.Array(priorities))
		clauses = append(clauses, fmt.Sprintf("a.priority = ANY($%d)", len(args)))
	}
	if f.PropertyID != "" {
		args = append(args, f.PropertyID)
		clauses = append(clauses, fmt.Sprintf("a.property_id = $%d", len(args)))
	}
	return strings.Join(clauses, " AND "), args
}

func queueSelect(caps Capabilities) string {
	propertyName := "NULL::text"
	if caps.HasProperties {
		propertyName = "p." + pq.QuoteIdentifier(caps.Columns[ColumnPropertyName])
	}
	unitLabel := "NULL::text"
	if caps.HasUnits {
		unitLabel = "u." + pq.QuoteIdentifier(caps.Columns[ColumnUnitLabel])
	}

	return store.Qualify(store.ApplicationColumns, "a") + `,
		` + propertyName + `, ` + unitLabel + `,
		(SELECT COUNT(*) FROM parties pt
		 WHERE pt.application_id = a.id AND pt.status <> 'COMPLETE'),
		(SELECT COUNT(*) FROM requirement_items ri
		 WHERE ri.application_id = a.id AND ri.required AND ri.type = 'DOCUMENT'
		   AND ri.status NOT IN ('APPROVED', 'WAIVED')),
		(SELECT COUNT(*) FROM requirement_items ri
		 WHERE ri.application_id = a.id AND ri.required AND ri.type = 'SCREENING'
		   AND ri.status NOT IN ('APPROVED', 'WAIVED')),
		(SELECT COUNT(*) FROM unit_reservations ur
		 WHERE ur.application_id = a.id AND ur.status = 'ACTIVE')`
}

func queueJoins(caps Capabilities) string {
	var joins string
	if caps.HasProperties {
		joins += `
		LEFT JOIN properties p ON p.id = a.property_id`
	}
	if caps.HasUnits {
		joins += `
		LEFT JOIN units u ON u.id = a.unit_id`
	}
	return joins
}

func scanQueueItem(row store.RowScanner, now time.Time) (*QueueItem, error) {
	var (
		item                                           QueueItem
		partiesOpen, docsOpen, screeningOpen, reserved int
	)
	app, err := store.ScanApplication(store.AppendScanner{Row: row, Extra: []interface{}{
		&item.PropertyName, &item.UnitLabel, &partiesOpen, &docsOpen, &screeningOpen, &reserved,
	}})
	if err != nil {
		return nil, fmt.Errorf("scan queue row: %w", err)
	}
	item.Application = *app

	item.Gates = Gates{
		Parties:          gate(partiesOpen == 0),
		Docs:             gate(docsOpen == 0),
		Screening:        gate(screeningOpen == 0),
		Payment:          gate(app.FeeStatus != nil && *app.FeeStatus == string(models.PaymentSucceeded)),
		UnitAvailability: gate(unitAvailable(app)),
		Reservation:      gate(reserved > 0),
	}
	item.NextAction = NextAction(app.Status, item.Gates)
	item.SLA = SLAFor(app.SubmittedAt, now)
	return &item, nil
}

func gate(pass bool) GateStatus {
	if pass {
		return GatePass
	}
	return GateBlocked
}

func unitAvailable(app *models.Application) bool {
	if len(app.UnitAvailabilitySnapshot) == 0 {
		return true
	}
	var snap models.UnitAvailabilitySnapshot
	if err := json.Unmarshal(app.UnitAvailabilitySnapshot, &snap); err != nil {
		return true
	}
	return snap.Available
}

// NextAction derives what a reviewer should do next for an application.
func NextAction(status models.ApplicationStatus, g Gates) string {
	if status == models.StatusNeedsInfo {
		return ActionWaitingOnApplicant
	}
	if status.IsTerminal() {
		return ActionNone
	}
	ordered := []struct {
		status GateStatus
		action string
	}{
		{g.Parties, ActionCompleteParties},
		{g.Docs, ActionCollectDocuments},
		{g.Screening, ActionRunScreening},
		{g.Payment, ActionCollectPayment},
		{g.UnitAvailability, ActionResolveUnit},
		{g.Reservation, ActionPlaceReservation},
	}
	for _, o := range ordered {
		if o.status == GateBlocked {
			return o.action
		}
	}
	return ActionReview
}

// SLAFor classifies time since submission against fixed warning and breach
// thresholds.
func SLAFor(submittedAt *time.Time, now time.Time) SLAState {
	if submittedAt == nil {
		return SLANotStarted
	}
	waited := now.Sub(*submittedAt)
	switch {
	case waited >= slaBreachAfter:
		return SLABreached
	case waited >= slaWarningAfter:
		return SLAWarning
	default:
		return SLAOnTrack
	}
}

// SortByPrioritySLA orders by priority tier, highest first, then by
// submission time, oldest first. Unsubmitted rows sort last in their tier.
func SortByPrioritySLA(items []QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i].Application, &items[j].Application
		if ra, rb := a.Priority.Rank(), b.Priority.Rank(); ra != rb {
			return ra > rb
		}
		switch {
		case a.SubmittedAt == nil:
			return false
		case b.SubmittedAt == nil:
			return true
		}
		return a.SubmittedAt.Before(*b.SubmittedAt)
	})
}
