package coordinator

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

func TestHandleCleanup_ReapsStaleAgentAndResetsItsTask(t *testing.T) {
	c, store := newTestCoordinator(t)
	c.cfg.AgentTimeout = time.Millisecond

	task := &domain.Task{ID: "t1", Title: "t", Kind: domain.KindDevelopment, Priority: domain.PriorityM}
	if err := store.UpsertTask(task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if err := store.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := store.ClaimTask("t1", "agent-a", "task/t1"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if err := store.SetAgentTask("agent-a", "t1"); err != nil {
		t.Fatalf("SetAgentTask: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	req := httptest.NewRequest("POST", "/v1/cleanup", nil)
	rec := httptest.NewRecorder()
	c.handleCleanup(rec, req)
	if rec.Code != 200 {
		t.Fatalf("got status %d, body %s", rec.Code, rec.Body.String())
	}

	got, err := store.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("got status %s, want the reaper to reset it to pending", got.Status)
	}
}
