package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconciliationRun triggers the three reconciliation checks for one
	// organization, or for every active organization when OrgID is zero.
	TaskReconciliationRun = "reconciliation:run"
)

// ReconciliationRunPayload selects which organization to reconcile.
type ReconciliationRunPayload struct {
	OrgID int64 `json:"org_id"`
}

// NewReconciliationRunTask constructs an Asynq task.
func NewReconciliationRunTask(payload ReconciliationRunPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconciliationRun, data), nil
}
