package service

import (
	"log/slog"
	"sync"
	"time"

	"github.com/HavartiBard/chiffon-sub001/pkg/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ErrSessionNotFound means the session id is unknown (or the session was
// evicted). Callers surface this as a client error, not a retry condition.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the authoritative in-memory table of chat sessions.
// Sessions are volatile: nothing survives a process restart.
//
// Reads may run concurrently; every mutation takes the write lock, so a
// compound update (message append + status change) commits atomically and the
// eviction sweep never races an in-flight mutation. Accessors hand out copies
// so no shared mutable state escapes the store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ChatSession
	logger   *slog.Logger
}

// NewSessionStore creates an empty session store.
func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: make(map[string]*models.ChatSession),
		logger:   logger.With("component", "session_store"),
	}
}

// Create allocates a fresh session for the user and inserts it into the table.
func (st *SessionStore) Create(userID string) *models.ChatSession {
	now := time.Now().UTC()
	sess := &models.ChatSession{
		ID:           uuid.NewString(),
		UserID:       userID,
		CreatedAt:    now,
		LastActivity: now,
		Messages:     []models.ChatMessage{},
		Status:       models.SessionStatusIdle,
	}

	st.mu.Lock()
	st.sessions[sess.ID] = sess
	st.mu.Unlock()

	st.logger.Info("session created", "session_id", sess.ID, "user_id", userID)
	return copySession(sess)
}

// Get returns a copy of the session, or ErrSessionNotFound.
func (st *SessionStore) Get(sessionID string) (*models.ChatSession, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return nil, errors.Wrap(ErrSessionNotFound, sessionID)
	}
	return copySession(sess), nil
}

// Update applies fn to the session under the write lock and bumps
// last-activity. Use it whenever one logical step touches more than one field.
// It fails with ErrSessionNotFound if the session vanished in the meantime;
// it never creates a session.
func (st *SessionStore) Update(sessionID string, fn func(*models.ChatSession)) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sess, ok := st.sessions[sessionID]
	if !ok {
		return errors.Wrap(ErrSessionNotFound, sessionID)
	}
	fn(sess)
	sess.LastActivity = time.Now().UTC()
	return nil
}

// AppendMessage appends one immutable message to the session log.
func (st *SessionStore) AppendMessage(sessionID string, msg models.ChatMessage) error {
	return st.Update(sessionID, func(sess *models.ChatSession) {
		sess.Messages = append(sess.Messages, msg)
	})
}

// SetStatus updates the session status.
func (st *SessionStore) SetStatus(sessionID string, status models.SessionStatus) error {
	return st.Update(sessionID, func(sess *models.ChatSession) {
		sess.Status = status
	})
}

// EvictExpired removes every session whose last activity is strictly older
// than now-ttl and returns how many were removed. A session active exactly at
// the boundary survives.
func (st *SessionStore) EvictExpired(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	st.mu.Lock()
	var evicted []string
	for id, sess := range st.sessions {
		if sess.LastActivity.Before(cutoff) {
			delete(st.sessions, id)
			evicted = append(evicted, id)
		}
	}
	st.mu.Unlock()

	if len(evicted) > 0 {
		// History is dropped with the session; log ids so the discard is at
		// least visible to operators.
		st.logger.Info("evicted expired sessions", "count", len(evicted), "session_ids", evicted)
	}
	return len(evicted)
}

// Len reports how many sessions are currently tracked.
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func copySession(sess *models.ChatSession) *models.ChatSession {
	out := *sess
	out.Messages = make([]models.ChatMessage, len(sess.Messages))
	copy(out.Messages, sess.Messages)
	if sess.ActiveTaskIDs != nil {
		out.ActiveTaskIDs = make([]string, len(sess.ActiveTaskIDs))
		copy(out.ActiveTaskIDs, sess.ActiveTaskIDs)
	}
	return &out
}
