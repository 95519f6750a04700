package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/HavartiBard/chiffon-sub001/pkg/event"
	"github.com/HavartiBard/chiffon-sub001/pkg/models"
	"github.com/HavartiBard/chiffon-sub001/pkg/orchestrator"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrEmptyMessage rejects chat text that is empty or whitespace-only.
var ErrEmptyMessage = errors.New("message must not be empty")

// ErrNoActiveTasks means an abort was requested for a session that has
// nothing running.
var ErrNoActiveTasks = errors.New("session has no active tasks")

// DashboardService composes the session store, orchestrator proxy, plan view
// formatter, and subscription manager into the session lifecycle operations.
type DashboardService struct {
	store  *SessionStore
	orch   *orchestrator.Client
	events *event.Manager
	logger *slog.Logger
}

// NewDashboardService wires the dashboard operations together.
func NewDashboardService(store *SessionStore, orch *orchestrator.Client, events *event.Manager, logger *slog.Logger) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		store:  store,
		orch:   orch,
		events: events,
		logger: logger.With("component", "dashboard_service"),
	}
}

// Store exposes the session store for the eviction sweeper.
func (s *DashboardService) Store() *SessionStore { return s.store }

// CreateSession starts a new chat session for the user.
func (s *DashboardService) CreateSession(userID string) *models.ChatSession {
	return s.store.Create(userID)
}

// GetSession returns a session snapshot.
func (s *DashboardService) GetSession(sessionID string) (*models.ChatSession, error) {
	return s.store.Get(sessionID)
}

// ChatResult is the response to a chat or modify call: the two messages of
// the exchange plus the formatted plan.
type ChatResult struct {
	Messages []models.ChatMessage      `json:"messages"`
	Plan     *models.DashboardPlanView `json:"plan"`
}

// Chat submits one user turn: records the message, asks the orchestrator for
// a plan (a fresh request, or a modification when the session is already
// reviewing one), and records the assistant's plan summary.
func (s *DashboardService) Chat(ctx context.Context, sessionID, text string) (*ChatResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	modifiesPlanID := ""
	if sess.Status == models.SessionStatusPlanReady && sess.CurrentPlanID != "" {
		modifiesPlanID = sess.CurrentPlanID
	}
	return s.submitTurn(ctx, sess, text, modifiesPlanID)
}

// Modify is like Chat but always treated as a modification of the given plan.
func (s *DashboardService) Modify(ctx context.Context, planID, sessionID, text string) (*ChatResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}

	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.submitTurn(ctx, sess, text, planID)
}

func (s *DashboardService) submitTurn(ctx context.Context, sess *models.ChatSession, text, modifiesPlanID string) (*ChatResult, error) {
	userMsg := newMessage(sess.ID, models.RoleUser, text, nil)
	err := s.store.Update(sess.ID, func(cur *models.ChatSession) {
		cur.Messages = append(cur.Messages, userMsg)
		cur.Status = models.SessionStatusAwaitingPlan
	})
	if err != nil {
		return nil, err
	}

	ack, err := s.orch.SubmitRequest(ctx, orchestrator.SubmitOpts{
		Request: text,
		UserID:  sess.UserID,
		PlanID:  modifiesPlanID,
	})
	if err != nil {
		s.resetToIdle(sess.ID)
		return nil, err
	}

	payload, err := s.orch.GetPlan(ctx, ack.RequestID)
	if err != nil {
		s.resetToIdle(sess.ID)
		return nil, err
	}

	view := FormatPlanView(payload)
	assistantMsg := newMessage(sess.ID, models.RoleAssistant, view.Summary, map[string]any{
		"plan_id":    view.PlanID,
		"request_id": ack.RequestID,
	})

	err = s.store.Update(sess.ID, func(cur *models.ChatSession) {
		cur.Messages = append(cur.Messages, assistantMsg)
		cur.CurrentRequestID = ack.RequestID
		cur.CurrentPlanID = view.PlanID
		cur.Status = models.SessionStatusPlanReady
	})
	if err != nil {
		return nil, err
	}

	return &ChatResult{
		Messages: []models.ChatMessage{userMsg, assistantMsg},
		Plan:     view,
	}, nil
}

// resetToIdle recovers a session after a failed orchestrator round trip so it
// is not stuck in awaiting_plan. The user message stays in the log.
func (s *DashboardService) resetToIdle(sessionID string) {
	if err := s.store.SetStatus(sessionID, models.SessionStatusIdle); err != nil {
		s.logger.Warn("failed to reset session after orchestrator error", "session_id", sessionID, "error", err)
	}
}

// ApprovalOutcome reports an approve call to the client.
type ApprovalOutcome struct {
	Status           string `json:"status"`
	ExecutionStarted bool   `json:"execution_started"`
}

// Approve confirms a pending plan. Dispatched task ids are recorded on the
// session so a later abort knows what to cancel.
func (s *DashboardService) Approve(ctx context.Context, planID, sessionID string) (*ApprovalOutcome, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	result, err := s.orch.ApprovePlan(ctx, planID, true, sess.UserID)
	if err != nil {
		return nil, err
	}

	var taskIDs []string
	executionID := ""
	if result.DispatchResult != nil {
		executionID = result.DispatchResult.ExecutionID
		for _, dt := range result.DispatchResult.DispatchedTasks {
			taskIDs = append(taskIDs, dt.TaskID)
		}
	}

	err = s.store.Update(sessionID, func(cur *models.ChatSession) {
		cur.Status = models.SessionStatusExecuting
		cur.ActiveTaskIDs = taskIDs
	})
	if err != nil {
		return nil, err
	}

	s.events.Broadcast(planID, event.PlanApproved, map[string]any{"request_id": sess.CurrentRequestID})
	if result.DispatchStarted {
		s.events.Broadcast(planID, event.ExecutionStarted, map[string]any{"execution_id": executionID})
	}

	status := result.Status
	if status == "" {
		status = "approved"
	}
	return &ApprovalOutcome{Status: status, ExecutionStarted: result.DispatchStarted}, nil
}

// RejectOutcome reports a reject call to the client.
type RejectOutcome struct {
	Status string `json:"status"`
}

// Reject declines a pending plan and returns the session to idle.
func (s *DashboardService) Reject(ctx context.Context, planID, sessionID string) (*RejectOutcome, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.orch.ApprovePlan(ctx, planID, false, sess.UserID); err != nil {
		return nil, err
	}

	sysMsg := newMessage(sessionID, models.RoleSystem, "Plan rejected.", map[string]any{"plan_id": planID})
	err = s.store.Update(sessionID, func(cur *models.ChatSession) {
		cur.Messages = append(cur.Messages, sysMsg)
		cur.CurrentPlanID = ""
		cur.CurrentRequestID = ""
		cur.Status = models.SessionStatusIdle
	})
	if err != nil {
		return nil, err
	}

	return &RejectOutcome{Status: "rejected"}, nil
}

// PlanView fetches the plan's current payload and formats it for the UI.
func (s *DashboardService) PlanView(ctx context.Context, planID string) (*models.DashboardPlanView, error) {
	payload, err := s.orch.GetPlanStatus(ctx, planID)
	if err != nil {
		return nil, err
	}
	return FormatPlanView(payload), nil
}

// ExecutionStatus is the reshaped status/poll response.
type ExecutionStatus struct {
	Status     string                       `json:"status"`
	Steps      []models.StepExecutionUpdate `json:"steps"`
	LastUpdate time.Time                    `json:"last_update"`
}

// Status fetches the plan status and reshapes each task into a step update.
func (s *DashboardService) Status(ctx context.Context, planID string) (*ExecutionStatus, error) {
	payload, err := s.orch.GetPlanStatus(ctx, planID)
	if err != nil {
		return nil, err
	}

	steps := make([]models.StepExecutionUpdate, 0, len(payload.Tasks))
	for i, task := range payload.Tasks {
		steps = append(steps, models.StepExecutionUpdate{
			PlanID:    planID,
			StepIndex: i,
			Name:      task.Name,
			Status:    task.Status,
			Output:    task.Output,
			Error:     task.Error,
		})
	}

	return &ExecutionStatus{
		Status:     payload.Status,
		Steps:      steps,
		LastUpdate: time.Now().UTC(),
	}, nil
}

// AbortOutcome reports an abort call to the client.
type AbortOutcome struct {
	Status    string `json:"status"`
	Cancelled int    `json:"cancelled"`
}

// Abort cancels every active task of the session individually. Cancellation
// failures for one task never stop the rest; the count reflects what actually
// got cancelled.
func (s *DashboardService) Abort(ctx context.Context, planID, sessionID string) (*AbortOutcome, error) {
	sess, err := s.store.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.ActiveTaskIDs) == 0 {
		return nil, ErrNoActiveTasks
	}

	cancelled := 0
	for _, taskID := range sess.ActiveTaskIDs {
		if _, err := s.orch.CancelTask(ctx, taskID); err != nil {
			s.logger.Warn("task cancellation failed", "task_id", taskID, "error", err)
			continue
		}
		cancelled++
	}

	sysMsg := newMessage(sessionID, models.RoleSystem,
		fmt.Sprintf("Execution aborted, %d task(s) cancelled.", cancelled),
		map[string]any{"plan_id": planID})
	err = s.store.Update(sessionID, func(cur *models.ChatSession) {
		cur.Messages = append(cur.Messages, sysMsg)
		cur.ActiveTaskIDs = nil
		cur.CurrentPlanID = ""
		cur.CurrentRequestID = ""
		cur.Status = models.SessionStatusIdle
	})
	if err != nil {
		return nil, err
	}

	s.events.Broadcast(planID, event.ExecutionDone, map[string]any{
		"summary": fmt.Sprintf("aborted, %d task(s) cancelled", cancelled),
	})

	return &AbortOutcome{Status: "aborted", Cancelled: cancelled}, nil
}

// Broadcast forwards an externally-produced plan event to subscribers.
func (s *DashboardService) Broadcast(planID, eventName string, data map[string]any, onlySubscriptions ...string) {
	s.events.Broadcast(planID, eventName, data, onlySubscriptions...)
}

func newMessage(sessionID, role, content string, metadata map[string]any) models.ChatMessage {
	return models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}
