package coordinator

import (
	"net/http/httptest"
	"testing"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

func claimAs(t *testing.T, c *Coordinator, agentID string) *httptest.ResponseRecorder {
	t.Helper()
	return postJSON(t, c.handleClaim, claimRequest{AgentID: agentID})
}

func TestHandleClaim_RejectsUnregisteredAgent(t *testing.T) {
	c, store := newTestCoordinator(t)
	if err := store.UpsertTask(&domain.Task{ID: "t1", Title: "t", Kind: domain.KindDevelopment, Priority: domain.PriorityM}); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if err := store.SavePhases([]*domain.Phase{{Number: 0, TaskIDs: []string{"t1"}, Active: true}}); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}

	rec := claimAs(t, c, "ghost")
	if rec.Code != 404 {
		t.Fatalf("got status %d, want 404 for an unregistered agent", rec.Code)
	}
}

func TestHandleClaim_SkipsTaskWithUnresolvedDependency(t *testing.T) {
	c, store := newTestCoordinator(t)
	if err := store.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t1", Title: "dep", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 0}); err != nil {
		t.Fatalf("UpsertTask t1: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t2", Title: "dependent", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 0, DependsOn: []string{"t1"}}); err != nil {
		t.Fatalf("UpsertTask t2: %v", err)
	}
	if err := store.SavePhases([]*domain.Phase{{Number: 0, TaskIDs: []string{"t1", "t2"}, Active: true}}); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}
	// t1 still pending (dependency not yet resolved): t2 must not be
	// claimable yet, but t1 itself is fair game.
	rec := claimAs(t, c, "agent-a")
	if rec.Code != 200 {
		t.Fatalf("got status %d, want 200 claiming t1", rec.Code)
	}

	got, err := store.GetTask("t2")
	if err != nil {
		t.Fatalf("GetTask t2: %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("got t2 status %s, want it to remain pending while t1 is unresolved", got.Status)
	}
}

func TestHandleClaim_BlocksTaskWithFailedDependency(t *testing.T) {
	c, store := newTestCoordinator(t)
	if err := store.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t1", Title: "dep", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 0}); err != nil {
		t.Fatalf("UpsertTask t1: %v", err)
	}
	if err := store.SetTaskStatus("t1", domain.StatusFailed); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t2", Title: "dependent", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 1, DependsOn: []string{"t1"}}); err != nil {
		t.Fatalf("UpsertTask t2: %v", err)
	}
	if err := store.SavePhases([]*domain.Phase{
		{Number: 0, TaskIDs: []string{"t1"}, Done: true},
		{Number: 1, TaskIDs: []string{"t2"}, Active: true},
	}); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}

	rec := claimAs(t, c, "agent-a")
	if rec.Code != 409 {
		t.Fatalf("got status %d, body %s, want 409 (nothing left to claim)", rec.Code, rec.Body.String())
	}

	got, err := store.GetTask("t2")
	if err != nil {
		t.Fatalf("GetTask t2: %v", err)
	}
	if got.Status != domain.StatusBlocked {
		t.Fatalf("got t2 status %s, want blocked after its dependency failed", got.Status)
	}
	if got.AssignedTo != "" {
		t.Fatalf("got t2 assigned to %q, want it never claimed", got.AssignedTo)
	}
}

func TestHandleClaim_SkipsKindDisabledForAutoClaim(t *testing.T) {
	c, store := newTestCoordinator(t)
	c.cfg.KindEnabled = func(k domain.TaskKind) bool { return k != domain.KindSecurity }
	if err := store.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t1", Title: "scan", Kind: domain.KindSecurity, Priority: domain.PriorityM}); err != nil {
		t.Fatalf("UpsertTask t1: %v", err)
	}
	if err := store.SavePhases([]*domain.Phase{{Number: 0, TaskIDs: []string{"t1"}, Active: true}}); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}

	rec := claimAs(t, c, "agent-a")
	if rec.Code != 409 {
		t.Fatalf("got status %d, body %s, want 409 since the only ready task's kind is disabled", rec.Code, rec.Body.String())
	}

	got, err := store.GetTask("t1")
	if err != nil {
		t.Fatalf("GetTask t1: %v", err)
	}
	if got.AssignedTo != "" {
		t.Fatalf("got t1 assigned to %q, want it left unclaimed", got.AssignedTo)
	}
}

func TestHandleClaim_ClaimsReadyTaskWithMergedDependency(t *testing.T) {
	c, store := newTestCoordinator(t)
	if err := store.RegisterAgent("agent-a"); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t1", Title: "dep", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 0}); err != nil {
		t.Fatalf("UpsertTask t1: %v", err)
	}
	if err := store.SetTaskStatus("t1", domain.StatusMerged); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := store.UpsertTask(&domain.Task{ID: "t2", Title: "dependent", Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: 1, DependsOn: []string{"t1"}}); err != nil {
		t.Fatalf("UpsertTask t2: %v", err)
	}
	if err := store.SavePhases([]*domain.Phase{
		{Number: 0, TaskIDs: []string{"t1"}, Done: true},
		{Number: 1, TaskIDs: []string{"t2"}, Active: true},
	}); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}

	rec := claimAs(t, c, "agent-a")
	if rec.Code != 200 {
		t.Fatalf("got status %d, body %s, want t2 claimable once its dependency merged", rec.Code, rec.Body.String())
	}
}
