package statestore

import (
	"database/sql"
	"testing"
	"time"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

func TestRegisterAgent_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent (re-register): %v", err)
	}

	got, err := s.GetAgent("agent-a")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status != domain.AgentIdle {
		t.Fatalf("got status %s, want idle", got.Status)
	}
}

func TestHeartbeat_UnknownAgentReturnsNoRows(t *testing.T) {
	s := newTestStore(t)
	if err := s.Heartbeat("ghost"); err != sql.ErrNoRows {
		t.Fatalf("got %v, want sql.ErrNoRows for an unregistered agent", err)
	}
}

func TestSetAgentTask_TracksWorkingVersusIdle(t *testing.T) {
	s := newTestStore(t)
	if err := s.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	if err := s.SetAgentTask("agent-a", "t1"); err != nil {
		t.Fatalf("SetAgentTask: %v", err)
	}
	got, err := s.GetAgent("agent-a")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status != domain.AgentWorking || got.CurrentTaskID != "t1" {
		t.Fatalf("got %+v, want working/t1", got)
	}

	if err := s.SetAgentTask("agent-a", ""); err != nil {
		t.Fatalf("SetAgentTask (clear): %v", err)
	}
	got, err = s.GetAgent("agent-a")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status != domain.AgentIdle || got.CurrentTaskID != "" {
		t.Fatalf("got %+v, want idle/empty", got)
	}
}

func TestListStaleAgents_ExcludesDeadAgents(t *testing.T) {
	s := newTestStore(t)
	if err := s.RegisterAgent("stale"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.RegisterAgent("fresh"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.RegisterAgent("already-dead"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.MarkAgentDead("already-dead"); err != nil {
		t.Fatalf("MarkAgentDead: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	stale, err := s.ListStaleAgents(time.Millisecond)
	if err != nil {
		t.Fatalf("ListStaleAgents: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("got %d stale agents, want 2 (stale and fresh, but not already-dead)", len(stale))
	}
	for _, a := range stale {
		if a.ID == "already-dead" {
			t.Fatal("ListStaleAgents must not return an agent already marked dead")
		}
	}
}

func TestListAgentIDs_ExcludesDead(t *testing.T) {
	s := newTestStore(t)
	if err := s.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.RegisterAgent("agent-b"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := s.MarkAgentDead("agent-b"); err != nil {
		t.Fatalf("MarkAgentDead: %v", err)
	}

	ids, err := s.ListAgentIDs()
	if err != nil {
		t.Fatalf("ListAgentIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "agent-a" {
		t.Fatalf("got %v, want only agent-a", ids)
	}
}
