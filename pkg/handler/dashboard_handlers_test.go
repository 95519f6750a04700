package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/HavartiBard/chiffon-sub001/pkg/event"
	"github.com/HavartiBard/chiffon-sub001/pkg/models"
	"github.com/HavartiBard/chiffon-sub001/pkg/orchestrator"
	"github.com/HavartiBard/chiffon-sub001/pkg/service"
	"github.com/gin-gonic/gin"
)

func newTestRouter(t *testing.T, upstream http.Handler) (*gin.Engine, *service.DashboardService, *event.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var baseURL string
	if upstream != nil {
		srv := httptest.NewServer(upstream)
		t.Cleanup(srv.Close)
		baseURL = srv.URL
	} else {
		// Nothing listens here; requests fail at the transport level.
		baseURL = "http://127.0.0.1:1"
	}

	orch := orchestrator.NewClient(orchestrator.Config{
		BaseURL:     baseURL,
		MaxAttempts: 2,
		Timeout:     2 * time.Second,
		BackoffUnit: time.Millisecond,
	})
	store := service.NewSessionStore(nil)
	events := event.NewManager(nil)
	svc := service.NewDashboardService(store, orch, events, nil)

	r := gin.New()
	NewDashboardHandler(svc, nil).RegisterRoutes(r.Group("/api/dashboard"))
	return r, svc, events
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSession_ReturnsIdleSession(t *testing.T) {
	r, _, _ := newTestRouter(t, http.NewServeMux())

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/session", `{"user_id":"user-1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	var sess models.ChatSession
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if sess.ID == "" || sess.UserID != "user-1" || sess.Status != models.SessionStatusIdle {
		t.Fatalf("session = %+v, want idle session for user-1", sess)
	}
}

func TestCreateSession_MissingUserID(t *testing.T) {
	r, _, _ := newTestRouter(t, http.NewServeMux())

	if w := doJSON(t, r, http.MethodPost, "/api/dashboard/session", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestChat_UnknownSessionIs404(t *testing.T) {
	r, _, _ := newTestRouter(t, http.NewServeMux())

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/chat", `{"session_id":"nope","message":"hi"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404; body = %s", w.Code, w.Body.String())
	}
}

func TestChat_EmptyMessageIs400(t *testing.T) {
	r, svc, _ := newTestRouter(t, http.NewServeMux())
	sess := svc.CreateSession("user-1")

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/chat", `{"session_id":"`+sess.ID+`","message":"   "}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
}

func TestChat_OrchestratorDownIs502(t *testing.T) {
	r, svc, _ := newTestRouter(t, nil)
	sess := svc.CreateSession("user-1")

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/chat", `{"session_id":"`+sess.ID+`","message":"deploy"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502; body = %s", w.Code, w.Body.String())
	}
}

func TestGetPlan_UpstreamRejectionPassesThrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plan/missing/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"plan not found"}`))
	})
	r, _, _ := newTestRouter(t, mux)

	w := doJSON(t, r, http.MethodGet, "/api/dashboard/plan/missing", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want upstream 404 passed through", w.Code)
	}
	if !strings.Contains(w.Body.String(), "plan not found") {
		t.Fatalf("body = %s, want upstream body passed through", w.Body.String())
	}
}

func TestPoll_SetsIntervalHeader(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/plan/p1/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(models.PlanPayload{
			PlanID: "p1",
			Status: models.PlanStatusExecuting,
			Tasks:  []models.PlanTask{{TaskID: "t1", Name: "build", Status: "running"}},
		})
	})
	r, _, _ := newTestRouter(t, mux)

	w := doJSON(t, r, http.MethodGet, "/api/dashboard/plan/p1/poll", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Poll-Interval"); got != PollIntervalMS {
		t.Fatalf("X-Poll-Interval = %q, want %q", got, PollIntervalMS)
	}

	var body struct {
		OverallStatus string                       `json:"overall_status"`
		Steps         []models.StepExecutionUpdate `json:"steps"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.OverallStatus != models.PlanStatusExecuting || len(body.Steps) != 1 {
		t.Fatalf("body = %+v, want executing with 1 step", body)
	}
}

func TestAbort_NoActiveTasksIs400(t *testing.T) {
	r, svc, _ := newTestRouter(t, http.NewServeMux())
	sess := svc.CreateSession("user-1")

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/plan/p1/abort", `{"session_id":"`+sess.ID+`"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body = %s", w.Code, w.Body.String())
	}
}

type captureSender struct {
	msgs []event.Message
}

func (s *captureSender) Send(msg event.Message) error {
	s.msgs = append(s.msgs, msg)
	return nil
}

func TestIngestEvent_ReachesSubscribers(t *testing.T) {
	r, _, events := newTestRouter(t, http.NewServeMux())

	sender := &captureSender{}
	events.Connect("c1", sender)
	if _, err := events.Subscribe("c1", "p1", event.SubscribeOptions{}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	sender.msgs = nil

	w := doJSON(t, r, http.MethodPost, "/api/dashboard/events",
		`{"plan_id":"p1","event":"step_completed","data":{"step_index":0}}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body = %s", w.Code, w.Body.String())
	}

	if len(sender.msgs) != 1 {
		t.Fatalf("delivered frames = %d, want 1", len(sender.msgs))
	}
	frame := sender.msgs[0]
	if frame.Event != event.MsgPlanEvent || frame.Data["event"] != event.StepCompleted {
		t.Fatalf("frame = %+v, want plan_event carrying step_completed", frame)
	}
}

func TestIngestEvent_MissingPlanIDIs400(t *testing.T) {
	r, _, _ := newTestRouter(t, http.NewServeMux())

	if w := doJSON(t, r, http.MethodPost, "/api/dashboard/events", `{"event":"step_completed"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
