package models

import "time"

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// SessionStatus tracks where a chat session is in the request/plan/execute cycle.
type SessionStatus string

const (
	SessionStatusIdle         SessionStatus = "idle"
	SessionStatusAwaitingPlan SessionStatus = "awaiting_plan"
	SessionStatusPlanReady    SessionStatus = "plan_ready"
	SessionStatusExecuting    SessionStatus = "executing"
	SessionStatusCompleted    SessionStatus = "completed"
)

// ChatMessage is one turn in a session. Messages are immutable once appended.
type ChatMessage struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ChatSession is one operator's ongoing conversation with the orchestrator.
//
// CurrentPlanID is set only while Status is plan_ready or executing.
type ChatSession struct {
	ID               string        `json:"id"`
	UserID           string        `json:"user_id"`
	CreatedAt        time.Time     `json:"created_at"`
	LastActivity     time.Time     `json:"last_activity"`
	Messages         []ChatMessage `json:"messages"`
	CurrentRequestID string        `json:"current_request_id,omitempty"`
	CurrentPlanID    string        `json:"current_plan_id,omitempty"`
	Status           SessionStatus `json:"status"`
	ActiveTaskIDs    []string      `json:"active_task_ids,omitempty"`
}
