package reconciliation

import (
	"errors"
	"time"
)

// Trigger enumerates how a run was started.
type Trigger string

const (
	TriggerManual    Trigger = "MANUAL"
	TriggerScheduled Trigger = "SCHEDULED"
)

// RunStatus enumerates run outcomes. ERROR means at least one check could not
// complete; variances found by the checks that did complete are still
// recorded.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusCompleted  RunStatus = "COMPLETED"
	RunStatusError      RunStatus = "ERROR"
)

// VarianceType enumerates the reconciled surfaces.
type VarianceType string

const (
	VarianceTrialBalance VarianceType = "TRIAL_BALANCE"
	VarianceInventory    VarianceType = "INVENTORY"
	VarianceAR           VarianceType = "AR"
	VarianceAP           VarianceType = "AP"
)

// Severity grades a variance for triage.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Run records one reconciliation execution.
type Run struct {
	ID          int64
	OrgID       int64
	Trigger     Trigger
	Status      RunStatus
	Summary     string
	TriggeredBy int64
	StartedAt   time.Time
	CompletedAt *time.Time
	Variances   []Variance
}

// Variance is a detected mismatch between two balances that should agree.
// Variances are reported, never auto-corrected.
type Variance struct {
	ID          int64
	RunID       int64
	Type        VarianceType
	Amount      float64
	Severity    Severity
	Description string
	Resolved    bool
	ResolvedBy  *int64
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

// Summary is the dashboard view for monitoring surfaces. Unresolved critical
// variances should block any user-facing claim that the books are balanced.
type Summary struct {
	UnresolvedVarianceCount int       `json:"unresolved_variance_count"`
	CriticalCount           int       `json:"critical_count"`
	LastRunStatus           RunStatus `json:"last_run_status"`
	LastRunAt               time.Time `json:"last_run_at"`
}

// Balanced reports whether the books can be presented as balanced.
func (s Summary) Balanced() bool {
	return s.CriticalCount == 0 && s.LastRunStatus == RunStatusCompleted
}

var (
	// ErrRunNotFound occurs when a run is missing.
	ErrRunNotFound = errors.New("reconciliation: run not found")
	// ErrVarianceNotFound occurs when a variance is missing.
	ErrVarianceNotFound = errors.New("reconciliation: variance not found")
	// ErrAlreadyResolved occurs when resolving a resolved variance.
	ErrAlreadyResolved = errors.New("reconciliation: variance already resolved")
)
