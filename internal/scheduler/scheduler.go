// Package scheduler advances the backlog's active phase once every
// task in it reaches a terminal status, and ranks ready tasks for
// claim-time dispatch within a phase.
package scheduler

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/anthropics/task-orchestrator/internal/domain"
	"github.com/anthropics/task-orchestrator/internal/notify"
	"github.com/anthropics/task-orchestrator/internal/statestore"
)

// Scheduler reacts to task terminal transitions by checking whether
// the active phase is exhausted and, if so, activating the next one.
type Scheduler struct {
	store    *statestore.Store
	bus      *notify.Bus
	operator notify.Notifier
}

func New(store *statestore.Store, bus *notify.Bus) *Scheduler {
	return &Scheduler{store: store, bus: bus, operator: notify.NoopNotifier{}}
}

// SetOperatorNotifier wires a desktop/Slack notifier fired on backlog
// completion and phase advance, independent of the per-agent bus.
func (s *Scheduler) SetOperatorNotifier(n notify.Notifier) { s.operator = n }

// OnTaskTerminal is called by the coordinator and merge worker after
// any task reaches merged or failed. It checks the active phase for
// completeness and, if exhausted, advances the backlog.
func (s *Scheduler) OnTaskTerminal() error {
	phase, err := s.store.ActivePhase()
	if err != nil || phase == nil {
		return err
	}

	done, err := s.phaseExhausted(phase)
	if err != nil || !done {
		return err
	}

	next, err := s.store.ActivateNextPhase()
	if err != nil {
		return err
	}

	agentIDs, err := s.store.ListAgentIDs()
	if err != nil {
		return err
	}

	if next == nil {
		s.bus.PublishAll(&domain.Notification{
			ID:        uuid.NewString(),
			Kind:      domain.NotifyBacklogDone,
			CreatedAt: time.Now(),
		}, agentIDs)
		s.operator.Send(notify.Notification{
			Title:   "backlog complete",
			Message: fmt.Sprintf("all phases through %d finished", phase.Number),
			Type:    notify.NotifySuccess,
		})
		return nil
	}

	s.bus.PublishAll(&domain.Notification{
		ID:        uuid.NewString(),
		Kind:      domain.NotifyPhaseActivated,
		Phase:     next.Number,
		CreatedAt: time.Now(),
	}, agentIDs)
	s.operator.Send(notify.Notification{
		Title:   "phase activated",
		Message: fmt.Sprintf("phase %d is now active", next.Number),
		Type:    notify.NotifyInfo,
	})
	return nil
}

func (s *Scheduler) phaseExhausted(phase *domain.Phase) (bool, error) {
	tasks, err := s.store.ListTasksByPhase(phase.Number)
	if err != nil {
		return false, err
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			return false, nil
		}
	}
	return true, nil
}

// DependencyStatus resolves whether every dependency of t has merged.
// A dependency that reached a terminal status other than merged (most
// commonly failed, but blocked propagates the same way) means t can
// never legitimately proceed; the returned blockedOn names that
// dependency so the caller can transition t to blocked instead of
// claiming it. A dependency that hasn't reached a terminal status yet
// means t simply isn't ready to claim this round (ready=false,
// blockedOn=""), which claim-time callers should treat as "try the
// next candidate", not as a failure.
func DependencyStatus(store *statestore.Store, t *domain.Task) (ready bool, blockedOn string, err error) {
	for _, depID := range t.DependsOn {
		dep, err := store.GetTask(depID)
		if err != nil {
			return false, "", err
		}
		if dep.Status == domain.StatusMerged {
			continue
		}
		if dep.Status.Terminal() {
			return false, depID, nil
		}
		return false, "", nil
	}
	return true, "", nil
}

// RankReady sorts a phase's pending tasks by priority then lexically by
// task id, the deterministic tie-break claim order depends on. Dependency
// depth is deliberately not a tie-break here: it's informational only,
// surfaced through DependentCount for diagnostics, not claim order.
func RankReady(tasks []*domain.Task) []*domain.Task {
	ready := make([]*domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Status == domain.StatusPending {
			ready = append(ready, t)
		}
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority.Less(ready[j].Priority)
		}
		return ready[i].ID < ready[j].ID
	})
	return ready
}

// DependentCount reports, for each task, how many other tasks in the
// same set directly depend on it. Informational only: claim order
// never consults this.
func DependentCount(tasks []*domain.Task) map[string]int {
	dependents := make(map[string]int)
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			dependents[dep]++
		}
	}
	return dependents
}
