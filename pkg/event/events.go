package event

// ============================================================================
// Server→client frame names
// ============================================================================

const (
	MsgSubscriptionAck = "subscription_ack"
	MsgUnsubscribed    = "unsubscribed"
	MsgPong            = "pong"
	MsgPlanEvent       = "plan_event"
	MsgError           = "error"
)

// ============================================================================
// Client→server frame names
// ============================================================================

const (
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"
	MsgPing        = "ping"
)

// ============================================================================
// Standard plan event names carried inside plan_event frames
// ============================================================================

const (
	PlanApproved     = "plan_approved"     // {request_id}
	ExecutionStarted = "execution_started" // {execution_id}
	StepCompleted    = "step_completed"    // {step_index, result}
	ExecutionDone    = "execution_done"    // {summary}
)
