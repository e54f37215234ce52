// internal/workers/decisioning/decision-queue/handler_test.go
package decisionqueue

import (
	"context"
	"testing"
	"time"

	"leasing-workers/internal/common/database"
	"leasing-workers/internal/common/errors"
	"leasing-workers/internal/common/logger"
	"leasing-workers/internal/leasing/decisioning"
	"leasing-workers/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) List(ctx context.Context, db database.DBTX, f decisioning.QueueFilter) (*decisioning.QueuePage, error) {
	args := m.Called(ctx, db, f)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*decisioning.QueuePage), args.Error(1)
}

func createTestHandler(t *testing.T, queue Lister) *Handler {
	return NewHandler(&Config{Timeout: 5 * time.Second, DefaultLimit: 25}, nil, queue, logger.NewTestLogger(t))
}

func TestHandler_Execute_ListsQueue(t *testing.T) {
	queue := new(mockLister)
	queue.On("List", mock.Anything, mock.Anything, decisioning.QueueFilter{
		OrgID:      "org-1",
		Statuses:   []models.ApplicationStatus{models.StatusInReview},
		Priorities: []models.Priority{"EMERGENCY"},
		Limit:      25,
	}).Return(&decisioning.QueuePage{
		Items: []decisioning.QueueItem{{
			Application: models.Application{ID: "app-1", Status: models.StatusInReview, Priority: "EMERGENCY"},
			NextAction:  "REVIEW_DOCUMENTS",
			SLA:         decisioning.SLAWarning,
		}},
		Total: 1,
		Facets: decisioning.Facets{
			Status:   map[string]int{"IN_REVIEW": 1},
			Priority: map[string]int{"EMERGENCY": 1},
		},
	}, nil)

	output, err := createTestHandler(t, queue).Execute(context.Background(), &Input{
		OrgID:      "org-1",
		Statuses:   []string{"IN_REVIEW"},
		Priorities: []string{"EMERGENCY"},
	})
	require.NoError(t, err)
	require.Len(t, output.Entries, 1)
	assert.Equal(t, Entry{
		ApplicationID: "app-1", Status: "IN_REVIEW", Priority: "EMERGENCY",
		NextAction: "REVIEW_DOCUMENTS", SLA: "WARNING",
	}, output.Entries[0])
	assert.Equal(t, 1, output.Total)
	assert.Equal(t, 1, output.Facets.Status["IN_REVIEW"])
	queue.AssertExpectations(t)
}

func TestHandler_Execute_MissingOrg(t *testing.T) {
	queue := new(mockLister)
	queue.On("List", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.NewInvalidInputError("orgId", "required field missing"))

	output, err := createTestHandler(t, queue).Execute(context.Background(), &Input{})
	assert.True(t, errors.IsInvalidInput(err))
	assert.Nil(t, output)
}
