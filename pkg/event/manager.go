// Package event multiplexes plan-progress events to realtime clients.
//
// The subscription graph is one arena of Subscription records keyed by
// subscription id plus two secondary indices (by plan, by connection) holding
// only ids. All three are maintained atomically under a single mutex, so a
// disconnect cleans up in time bounded by the connection's own fan-out and the
// indices can never dangle.
package event

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrMissingPlanID is returned when a subscribe request carries no plan id.
var ErrMissingPlanID = errors.New("plan_id is required")

// ErrUnknownConnection is returned for operations on a connection that never
// registered (or already disconnected).
var ErrUnknownConnection = errors.New("unknown connection")

// ErrSubscriptionIDTaken is returned when a client proposes a subscription id
// that is already in use. Accepting it would overwrite the arena record while
// the old index entries survive.
var ErrSubscriptionIDTaken = errors.New("subscription id already in use")

// Message is one JSON frame sent to a realtime client.
type Message struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	TS    int64          `json:"ts"`
}

// Sender delivers frames to one connection. Implementations must not block;
// a full client buffer should fail the send instead.
type Sender interface {
	Send(Message) error
}

// Subscription is one client's registered interest in one plan's events.
type Subscription struct {
	ID           string
	PlanID       string
	ConnectionID string
	RequestID    string
	ExecutionID  string
	CreatedAt    time.Time
}

// SubscribeOptions carries the optional fields of a subscribe request.
type SubscribeOptions struct {
	RequestID      string
	ExecutionID    string
	SubscriptionID string // client-proposed id; generated when empty
}

// Manager owns the connection and subscription state.
type Manager struct {
	mu     sync.RWMutex
	conns  map[string]Sender              // connection id -> sender
	subs   map[string]*Subscription       // subscription id -> record
	byPlan map[string]map[string]struct{} // plan id -> subscription ids
	byConn map[string]map[string]struct{} // connection id -> subscription ids
	logger *slog.Logger
}

// NewManager creates an empty subscription manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		conns:  make(map[string]Sender),
		subs:   make(map[string]*Subscription),
		byPlan: make(map[string]map[string]struct{}),
		byConn: make(map[string]map[string]struct{}),
		logger: logger.With("component", "subscription_manager"),
	}
}

// Connect registers a connection with an empty subscription set.
func (m *Manager) Connect(connID string, sender Sender) {
	m.mu.Lock()
	m.conns[connID] = sender
	m.byConn[connID] = make(map[string]struct{})
	m.mu.Unlock()

	m.logger.Debug("connection registered", "connection_id", connID)
}

// Subscribe registers interest in a plan's events and acknowledges to the
// requesting connection only.
func (m *Manager) Subscribe(connID, planID string, opts SubscribeOptions) (*Subscription, error) {
	if planID == "" {
		return nil, ErrMissingPlanID
	}

	sub := &Subscription{
		ID:           opts.SubscriptionID,
		PlanID:       planID,
		ConnectionID: connID,
		RequestID:    opts.RequestID,
		ExecutionID:  opts.ExecutionID,
		CreatedAt:    time.Now().UTC(),
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	m.mu.Lock()
	sender, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.Wrap(ErrUnknownConnection, connID)
	}
	// A client-proposed id must not collide with a live subscription. The
	// check shares the write lock with the insert so two racing subscribes
	// cannot both claim the same id.
	if _, exists := m.subs[sub.ID]; exists {
		m.mu.Unlock()
		return nil, errors.Wrap(ErrSubscriptionIDTaken, sub.ID)
	}
	m.subs[sub.ID] = sub
	if m.byPlan[planID] == nil {
		m.byPlan[planID] = make(map[string]struct{})
	}
	m.byPlan[planID][sub.ID] = struct{}{}
	m.byConn[connID][sub.ID] = struct{}{}
	m.mu.Unlock()

	m.send(connID, sender, Message{
		Event: MsgSubscriptionAck,
		Data:  map[string]any{"subscription_id": sub.ID, "plan_id": planID},
		TS:    time.Now().UnixMilli(),
	})

	m.logger.Debug("subscribed", "connection_id", connID, "plan_id", planID, "subscription_id", sub.ID)
	return sub, nil
}

// Unsubscribe removes one subscription by id, or, when only a plan id is
// given, every subscription this connection holds on that plan. It returns
// how many subscriptions were removed.
func (m *Manager) Unsubscribe(connID, subscriptionID, planID string) (int, error) {
	if subscriptionID == "" && planID == "" {
		return 0, errors.New("subscription_id or plan_id is required")
	}

	m.mu.Lock()
	sender, ok := m.conns[connID]
	if !ok {
		m.mu.Unlock()
		return 0, errors.Wrap(ErrUnknownConnection, connID)
	}

	var removed int
	if subscriptionID != "" {
		if sub, ok := m.subs[subscriptionID]; ok && sub.ConnectionID == connID {
			m.removeLocked(sub)
			removed = 1
		}
	} else {
		for subID := range m.byConn[connID] {
			if sub := m.subs[subID]; sub != nil && sub.PlanID == planID {
				m.removeLocked(sub)
				removed++
			}
		}
	}
	m.mu.Unlock()

	// Only confirm a removal that actually happened; an unknown or foreign
	// subscription id is silently a no-op.
	if removed > 0 {
		data := map[string]any{"removed": removed}
		if subscriptionID != "" {
			data["subscription_id"] = subscriptionID
		} else {
			data["plan_id"] = planID
		}
		m.send(connID, sender, Message{Event: MsgUnsubscribed, Data: data, TS: time.Now().UnixMilli()})
	}

	return removed, nil
}

// Disconnect removes every subscription the connection owns and forgets the
// connection. Safe to call for an unknown connection.
func (m *Manager) Disconnect(connID string) {
	m.mu.Lock()
	for subID := range m.byConn[connID] {
		if sub := m.subs[subID]; sub != nil {
			m.removeLocked(sub)
		}
	}
	delete(m.byConn, connID)
	delete(m.conns, connID)
	m.mu.Unlock()

	m.logger.Debug("connection removed", "connection_id", connID)
}

// Ping answers with a pong carrying the current server time. Liveness only.
func (m *Manager) Ping(connID string) {
	m.mu.RLock()
	sender, ok := m.conns[connID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	now := time.Now()
	m.send(connID, sender, Message{
		Event: MsgPong,
		Data:  map[string]any{"timestamp": now.UnixMilli()},
		TS:    now.UnixMilli(),
	})
}

// Broadcast delivers a plan event to every current subscriber of the plan,
// optionally filtered to a subset of subscription ids. One subscriber failing
// never prevents delivery to the others; failures are logged.
func (m *Manager) Broadcast(planID, eventName string, data map[string]any, onlySubscriptions ...string) {
	var filter map[string]struct{}
	if len(onlySubscriptions) > 0 {
		filter = make(map[string]struct{}, len(onlySubscriptions))
		for _, id := range onlySubscriptions {
			filter[id] = struct{}{}
		}
	}

	ts := time.Now().UnixMilli()

	m.mu.RLock()
	defer m.mu.RUnlock()

	for subID := range m.byPlan[planID] {
		if filter != nil {
			if _, ok := filter[subID]; !ok {
				continue
			}
		}
		sub := m.subs[subID]
		if sub == nil {
			continue
		}
		sender, ok := m.conns[sub.ConnectionID]
		if !ok {
			continue
		}
		m.send(sub.ConnectionID, sender, Message{
			Event: MsgPlanEvent,
			Data: map[string]any{
				"event":           eventName,
				"subscription_id": subID,
				"data":            data,
			},
			TS: ts,
		})
	}
}

// PlanSubscriberCount reports how many subscriptions a plan currently has.
func (m *Manager) PlanSubscriberCount(planID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byPlan[planID])
}

// ConnectionSubscriptions returns the subscription ids a connection holds.
func (m *Manager) ConnectionSubscriptions(connID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.byConn[connID]))
	for id := range m.byConn[connID] {
		ids = append(ids, id)
	}
	return ids
}

// removeLocked drops one subscription from the arena and both indices.
// Caller holds the write lock. The last subscription on a plan drops the
// plan's bucket entirely.
func (m *Manager) removeLocked(sub *Subscription) {
	delete(m.subs, sub.ID)
	if bucket := m.byPlan[sub.PlanID]; bucket != nil {
		delete(bucket, sub.ID)
		if len(bucket) == 0 {
			delete(m.byPlan, sub.PlanID)
		}
	}
	if bucket := m.byConn[sub.ConnectionID]; bucket != nil {
		delete(bucket, sub.ID)
	}
}

func (m *Manager) send(connID string, sender Sender, msg Message) {
	if err := sender.Send(msg); err != nil {
		m.logger.Warn("realtime delivery failed", "connection_id", connID, "event", msg.Event, "error", err)
	}
}
