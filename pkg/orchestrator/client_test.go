package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// failingTransport fails every round trip at the transport level and counts
// how many times it was asked.
type failingTransport struct {
	calls atomic.Int32
}

func (ft *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	ft.calls.Add(1)
	return nil, errors.New("connection refused")
}

func TestRequest_TransportFailure_RetriesExactlyMaxAttempts(t *testing.T) {
	ft := &failingTransport{}
	c := NewClient(Config{
		BaseURL:     "http://orchestrator.invalid",
		MaxAttempts: 3,
		BackoffUnit: time.Millisecond,
		HTTPClient:  &http.Client{Transport: ft},
	})

	_, err := c.Request(context.Background(), http.MethodGet, "/api/v1/plan/p1", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("error = %v, want ErrUnavailable", err)
	}
	if got := ft.calls.Load(); got != 3 {
		t.Fatalf("transport calls = %d, want 3", got)
	}
}

func TestRequest_HTTPErrorStatus_NoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail":"no such plan"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, BackoffUnit: time.Millisecond})

	_, err := c.Request(context.Background(), http.MethodGet, "/api/v1/plan/missing", nil, nil)
	if err == nil {
		t.Fatalf("expected error")
	}
	var rejected *RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error = %T, want *RejectedError", err)
	}
	if rejected.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rejected.StatusCode)
	}
	if string(rejected.Body) != `{"detail":"no such plan"}` {
		t.Fatalf("body = %q, want upstream body passed through", rejected.Body)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("a semantic error must not match ErrUnavailable")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("server calls = %d, want exactly 1 (no retry)", got)
	}
}

func TestRequest_SucceedsAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Kill the first connection mid-response.
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Errorf("hijacking not supported")
				return
			}
			conn, _, _ := hj.Hijack()
			conn.Close()
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, BackoffUnit: time.Millisecond})

	raw, err := c.Request(context.Background(), http.MethodGet, "/api/v1/plan/p1", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(raw) != `{"ok":true}` {
		t.Fatalf("body = %q", raw)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("server calls = %d, want 2", got)
	}
}

func TestSubmitRequest_SendsBodyAndDecodesAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/request" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		w.Write([]byte(`{"request_id":"req-1","status":"planning"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})

	ack, err := c.SubmitRequest(context.Background(), SubmitOpts{Request: "deploy", UserID: "u1"})
	if err != nil {
		t.Fatalf("SubmitRequest() error = %v", err)
	}
	if ack.RequestID != "req-1" || ack.Status != "planning" {
		t.Fatalf("ack = %+v", ack)
	}
}

func TestApprovePlan_DecodesDispatchResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/plan/p1/approve" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"status":"approved","dispatch_started":true,"dispatch_result":{"dispatched_tasks":[{"task_id":"t1"},{"task_id":"t2"}]}}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})

	res, err := c.ApprovePlan(context.Background(), "p1", true, "u1")
	if err != nil {
		t.Fatalf("ApprovePlan() error = %v", err)
	}
	if !res.DispatchStarted {
		t.Fatalf("expected dispatch_started")
	}
	if len(res.DispatchResult.DispatchedTasks) != 2 || res.DispatchResult.DispatchedTasks[0].TaskID != "t1" {
		t.Fatalf("dispatch result = %+v", res.DispatchResult)
	}
}
