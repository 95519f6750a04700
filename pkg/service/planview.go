package service

import (
	"fmt"
	"strings"

	"github.com/HavartiBard/chiffon-sub001/pkg/models"
)

// Task statuses this dashboard understands. Anything else coming from the
// orchestrator is coerced to pending so upstream schema drift never breaks
// formatting.
var knownStepStatuses = map[string]struct{}{
	"pending":   {},
	"queued":    {},
	"running":   {},
	"completed": {},
	"failed":    {},
	"cancelled": {},
	"skipped":   {},
}

// FormatPlanView turns an orchestrator plan payload into the UI-facing view.
// It is a pure function: the same payload always yields the same view.
func FormatPlanView(p *models.PlanPayload) *models.DashboardPlanView {
	steps := make([]models.PlanStepView, 0, len(p.Tasks))
	for i, task := range p.Tasks {
		steps = append(steps, stepView(i, task))
	}

	status := p.Status
	if status == "" {
		status = models.PlanStatusPendingApproval
	}

	return &models.DashboardPlanView{
		PlanID:               p.PlanID,
		RequestID:            p.RequestID,
		Summary:              p.HumanReadableSummary,
		Steps:                steps,
		EstimatedDuration:    formatDuration(totalDurationSeconds(p, steps)),
		RiskLevel:            riskLevel(p.ComplexityLevel),
		ResourceRequirements: aggregateResources(p),
		Status:               status,
		CanApprove:           status == models.PlanStatusPendingApproval,
		CanModify:            status == models.PlanStatusPendingApproval,
		CanAbort:             status == models.PlanStatusExecuting,
	}
}

func stepView(index int, task models.PlanTask) models.PlanStepView {
	status := task.Status
	if _, ok := knownStepStatuses[status]; !ok {
		status = "pending"
	}

	var durationMS *int64
	if task.ResourceRequirements != nil && task.ResourceRequirements.EstimatedDurationSeconds > 0 {
		ms := int64(task.ResourceRequirements.EstimatedDurationSeconds * 1000)
		durationMS = &ms
	}

	return models.PlanStepView{
		Index:       index,
		Name:        task.Name,
		Description: task.Description,
		Status:      status,
		DurationMS:  durationMS,
		Completed:   status == "completed",
		Metadata:    task.Metadata,
	}
}

// totalDurationSeconds prefers the plan-level estimate; otherwise it sums the
// per-step durations.
func totalDurationSeconds(p *models.PlanPayload, steps []models.PlanStepView) int64 {
	if p.EstimatedDurationSeconds != nil {
		return int64(*p.EstimatedDurationSeconds)
	}
	var totalMS int64
	for _, s := range steps {
		if s.DurationMS != nil {
			totalMS += *s.DurationMS
		}
	}
	return totalMS / 1000
}

// formatDuration renders a seconds count for humans.
// <60s → "~N seconds"; <1h → "~N minute(s)"; otherwise "~Hh" or "~Hh Mm".
// Zero or negative means the duration is unknown.
func formatDuration(seconds int64) string {
	switch {
	case seconds <= 0:
		return "Unknown duration"
	case seconds < 60:
		return fmt.Sprintf("~%d seconds", seconds)
	case seconds < 3600:
		minutes := seconds / 60
		if minutes == 1 {
			return "~1 minute"
		}
		return fmt.Sprintf("~%d minutes", minutes)
	default:
		hours := seconds / 3600
		minutes := (seconds % 3600) / 60
		if minutes == 0 {
			return fmt.Sprintf("~%dh", hours)
		}
		return fmt.Sprintf("~%dh %dm", hours, minutes)
	}
}

// riskLevel maps the orchestrator's complexity_level onto the UI risk enum.
// Unrecognized or missing values default to medium, never low.
func riskLevel(complexity string) string {
	switch strings.ToLower(complexity) {
	case "simple":
		return models.RiskLevelLow
	case "medium":
		return models.RiskLevelMedium
	case "complex":
		return models.RiskLevelHigh
	default:
		return models.RiskLevelMedium
	}
}

// aggregateResources prefers the plan-level block; otherwise it sums the
// per-task requirements and drops zero-valued keys.
func aggregateResources(p *models.PlanPayload) map[string]float64 {
	if p.ResourceRequirements != nil {
		return p.ResourceRequirements
	}

	var cpu, vram, duration float64
	for _, task := range p.Tasks {
		if task.ResourceRequirements == nil {
			continue
		}
		cpu += task.ResourceRequirements.CPUCores
		vram += task.ResourceRequirements.GPUVRAMMB
		duration += task.ResourceRequirements.EstimatedDurationSeconds
	}

	out := make(map[string]float64)
	if cpu != 0 {
		out["cpu_cores"] = cpu
	}
	if vram != 0 {
		out["gpu_vram_mb"] = vram
	}
	if duration != 0 {
		out["estimated_duration_seconds"] = duration
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
