package scheduler

import (
	"path/filepath"
	"testing"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/notify"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

func newTestStore(t *testing.T) *statestore.Store {
	t.Helper()
	s, err := statestore.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedPhase(t *testing.T, s *statestore.Store, number int, active bool, taskIDs ...string) {
	t.Helper()
	for _, id := range taskIDs {
		task := &domain.Task{ID: id, Title: id, Kind: domain.KindDevelopment, Priority: domain.PriorityM, Phase: number}
		if err := s.UpsertTask(task); err != nil {
			t.Fatalf("UpsertTask: %v", err)
		}
	}
}

func savePhases(t *testing.T, s *statestore.Store, phases ...*domain.Phase) {
	t.Helper()
	if err := s.SavePhases(phases); err != nil {
		t.Fatalf("SavePhases: %v", err)
	}
}

func TestOnTaskTerminal_BlockedCountsTowardPhaseCompletion(t *testing.T) {
	store := newTestStore(t)
	seedPhase(t, store, 0, true, "t1", "t2")
	seedPhase(t, store, 1, false, "t3")
	savePhases(t, store,
		&domain.Phase{Number: 0, TaskIDs: []string{"t1", "t2"}, Active: true},
		&domain.Phase{Number: 1, TaskIDs: []string{"t3"}},
	)

	if err := store.SetTaskStatus("t1", domain.StatusMerged); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := store.MarkUnresolved("t2", domain.StatusBlocked, "dependency X failed"); err != nil {
		t.Fatalf("MarkUnresolved: %v", err)
	}

	sched := New(store, notify.NewBus(store))
	if err := sched.OnTaskTerminal(); err != nil {
		t.Fatalf("OnTaskTerminal: %v", err)
	}

	phase, err := store.ActivePhase()
	if err != nil {
		t.Fatalf("ActivePhase: %v", err)
	}
	if phase == nil || phase.Number != 1 {
		t.Fatalf("got active phase %+v, want phase 1 activated", phase)
	}
}

func TestOnTaskTerminal_ConflictDoesNotCompletePhase(t *testing.T) {
	store := newTestStore(t)
	seedPhase(t, store, 0, true, "t1", "t2")
	savePhases(t, store, &domain.Phase{Number: 0, TaskIDs: []string{"t1", "t2"}, Active: true})

	if err := store.SetTaskStatus("t1", domain.StatusMerged); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}
	if err := store.MarkUnresolved("t2", domain.StatusConflict, "merge conflict"); err != nil {
		t.Fatalf("MarkUnresolved: %v", err)
	}

	sched := New(store, notify.NewBus(store))
	if err := sched.OnTaskTerminal(); err != nil {
		t.Fatalf("OnTaskTerminal: %v", err)
	}

	phase, err := store.ActivePhase()
	if err != nil {
		t.Fatalf("ActivePhase: %v", err)
	}
	if phase == nil || phase.Number != 0 {
		t.Fatalf("conflict is not terminal; phase 0 should still be active, got %+v", phase)
	}
}

func TestRankReady_PrefersHigherPriorityThenLexicalID(t *testing.T) {
	tasks := []*domain.Task{
		{ID: "a", Priority: domain.PriorityL, Status: domain.StatusPending},
		{ID: "c", Priority: domain.PriorityH, Status: domain.StatusPending},
		{ID: "b", Priority: domain.PriorityH, Status: domain.StatusPending},
	}
	// "d" depends on "c", but dependents do not affect claim order: "b"
	// ranks ahead of "c" by id at equal priority.
	tasks = append(tasks, &domain.Task{ID: "d", Priority: domain.PriorityM, Status: domain.StatusPending, DependsOn: []string{"c"}})

	ranked := RankReady(tasks)
	if ranked[0].ID != "b" {
		t.Fatalf("got order %v, want b first (high priority, lowest id)", idsOf(ranked))
	}
	if ranked[len(ranked)-1].ID != "a" {
		t.Fatalf("got order %v, want low priority task last", idsOf(ranked))
	}
}

func TestDependencyStatus_ReadyWhenAllDepsMerged(t *testing.T) {
	store := newTestStore(t)
	seedPhase(t, store, 0, true, "t1", "t2")
	if err := store.SetTaskStatus("t1", domain.StatusMerged); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	task, err := store.GetTask("t2")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	task.DependsOn = []string{"t1"}

	ready, blockedOn, err := DependencyStatus(store, task)
	if err != nil {
		t.Fatalf("DependencyStatus: %v", err)
	}
	if !ready || blockedOn != "" {
		t.Fatalf("got ready=%v blockedOn=%q, want ready with no blocker", ready, blockedOn)
	}
}

func TestDependencyStatus_BlockedOnFailedDependency(t *testing.T) {
	store := newTestStore(t)
	seedPhase(t, store, 0, true, "t1", "t2")
	if err := store.SetTaskStatus("t1", domain.StatusFailed); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	task, err := store.GetTask("t2")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	task.DependsOn = []string{"t1"}

	ready, blockedOn, err := DependencyStatus(store, task)
	if err != nil {
		t.Fatalf("DependencyStatus: %v", err)
	}
	if ready || blockedOn != "t1" {
		t.Fatalf("got ready=%v blockedOn=%q, want not ready with blockedOn=t1", ready, blockedOn)
	}
}

func TestDependencyStatus_NotReadyWhileDependencyNonTerminal(t *testing.T) {
	store := newTestStore(t)
	seedPhase(t, store, 0, true, "t1", "t2")
	// t1 stays pending: not yet resolved one way or the other.

	task, err := store.GetTask("t2")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	task.DependsOn = []string{"t1"}

	ready, blockedOn, err := DependencyStatus(store, task)
	if err != nil {
		t.Fatalf("DependencyStatus: %v", err)
	}
	if ready || blockedOn != "" {
		t.Fatalf("got ready=%v blockedOn=%q, want not ready with no blocker (try again later, not an error)", ready, blockedOn)
	}
}

func idsOf(tasks []*domain.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.ID
	}
	return out
}
