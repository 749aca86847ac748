package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

func TestRegisterAndHeartbeat(t *testing.T) {
	var registered, beat bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/agents/register":
			registered = true
		case "/v1/agents/heartbeat":
			beat = true
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Register("agent-a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := c.Heartbeat("agent-a"); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if !registered || !beat {
		t.Fatal("expected both register and heartbeat to reach the coordinator")
	}
}

func TestClaim_DecodesTaskOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]*domain.Task{
			"task": {ID: "t1", Title: "t", Kind: domain.KindDevelopment},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	task, status, err := c.Claim("agent-a")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if status != http.StatusOK {
		t.Fatalf("got status %d, want 200", status)
	}
	if task == nil || task.ID != "t1" {
		t.Fatalf("got task %+v, want t1", task)
	}
}

func TestClaim_NoTaskOnConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	task, status, err := c.Claim("agent-a")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if status != http.StatusConflict {
		t.Fatalf("got status %d, want 409", status)
	}
	if task != nil {
		t.Fatalf("got task %+v, want nil on contention", task)
	}
}

func TestPost_RetriesOn503ThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Register("agent-a"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if calls != 2 {
		t.Fatalf("got %d attempts, want exactly 2 (one 503 then one ok)", calls)
	}
}

func TestComplete_SendsAllFields(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if err := c.Complete("agent-a", "t1", domain.StatusBlocked, "no capacity", ""); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got["agent_id"] != "agent-a" || got["task_id"] != "t1" || got["status"] != string(domain.StatusBlocked) || got["reason"] != "no capacity" {
		t.Fatalf("got body %+v", got)
	}
}

func TestSubscribe_DeliversNotificationsFromStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()
		conn.WriteJSON(&domain.Notification{Kind: domain.NotifyConflictDetected, TaskID: "t1"})
	}))
	defer srv.Close()

	wsURL := "ws" + srv.URL[len("http"):]
	c := NewClient(wsURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := c.Subscribe(ctx, "agent-a")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	select {
	case n := <-ch:
		if n == nil || n.Kind != domain.NotifyConflictDetected || n.TaskID != "t1" {
			t.Fatalf("got %+v, want a conflict_detected notification for t1", n)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
