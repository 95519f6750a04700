package models

// Orchestrator-side plan representation. The upstream schema is loosely typed;
// every field that may be absent is optional here so the rest of the code never
// deals with raw maps.

// Plan statuses as reported by the orchestrator.
const (
	PlanStatusPendingApproval = "pending_approval"
	PlanStatusExecuting       = "executing"
	PlanStatusCompleted       = "completed"
	PlanStatusFailed          = "failed"
	PlanStatusCancelled       = "cancelled"
)

// Risk levels shown to the operator.
const (
	RiskLevelLow    = "low"
	RiskLevelMedium = "medium"
	RiskLevelHigh   = "high"
)

// TaskResources describes what one task needs to run.
type TaskResources struct {
	CPUCores                 float64 `json:"cpu_cores,omitempty"`
	GPUVRAMMB                float64 `json:"gpu_vram_mb,omitempty"`
	EstimatedDurationSeconds float64 `json:"estimated_duration_seconds,omitempty"`
}

// PlanTask is one task inside an orchestrator plan payload.
type PlanTask struct {
	TaskID               string         `json:"task_id,omitempty"`
	Name                 string         `json:"name,omitempty"`
	Description          string         `json:"description,omitempty"`
	Status               string         `json:"status,omitempty"`
	ResourceRequirements *TaskResources `json:"resource_requirements,omitempty"`
	Output               string         `json:"output,omitempty"`
	Error                string         `json:"error,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// PlanPayload is the orchestrator's plan/status response body.
type PlanPayload struct {
	PlanID                   string             `json:"plan_id"`
	RequestID                string             `json:"request_id,omitempty"`
	HumanReadableSummary     string             `json:"human_readable_summary,omitempty"`
	ComplexityLevel          string             `json:"complexity_level,omitempty"`
	Status                   string             `json:"status,omitempty"`
	EstimatedDurationSeconds *float64           `json:"estimated_duration_seconds,omitempty"`
	ResourceRequirements     map[string]float64 `json:"resource_requirements,omitempty"`
	Tasks                    []PlanTask         `json:"tasks,omitempty"`
}

// PlanStepView is the UI projection of one plan task. Index is 0-based and
// matches the task's position in the orchestrator's task list.
type PlanStepView struct {
	Index       int            `json:"index"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	DurationMS  *int64         `json:"duration_ms,omitempty"`
	Completed   bool           `json:"completed"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// DashboardPlanView is the UI projection of an orchestrator plan. It is always
// recomputed from the current payload, never stored.
//
// CanApprove/CanModify are true iff the plan is pending approval; CanAbort is
// true iff it is executing. The flags never disagree with Status.
type DashboardPlanView struct {
	PlanID               string             `json:"plan_id"`
	RequestID            string             `json:"request_id,omitempty"`
	Summary              string             `json:"summary"`
	Steps                []PlanStepView     `json:"steps"`
	EstimatedDuration    string             `json:"estimated_duration"`
	RiskLevel            string             `json:"risk_level"`
	ResourceRequirements map[string]float64 `json:"resource_requirements,omitempty"`
	Status               string             `json:"status"`
	CanApprove           bool               `json:"can_approve"`
	CanModify            bool               `json:"can_modify"`
	CanAbort             bool               `json:"can_abort"`
}

// StepExecutionUpdate reshapes one task for the status/poll endpoints.
type StepExecutionUpdate struct {
	PlanID    string `json:"plan_id"`
	StepIndex int    `json:"step_index"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}
