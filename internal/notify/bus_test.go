package notify

import (
	"testing"

	"github.com/anthropics/task-orchestrator/internal/domain"
)

type fakePendingStore struct {
	pending map[string][]*domain.Notification
}

func newFakePendingStore() *fakePendingStore {
	return &fakePendingStore{pending: make(map[string][]*domain.Notification)}
}

func (f *fakePendingStore) AppendPendingNotification(agentID string, n *domain.Notification) error {
	f.pending[agentID] = append(f.pending[agentID], n)
	return nil
}

func (f *fakePendingStore) DrainPending(agentID string) ([]*domain.Notification, error) {
	got := f.pending[agentID]
	delete(f.pending, agentID)
	return got, nil
}

func TestBus_PublishDeliversToLiveSubscriberWithPayload(t *testing.T) {
	store := newFakePendingStore()
	b := NewBus(store)

	ch, unsubscribe := b.Subscribe("agent-a")
	defer unsubscribe()

	b.Publish(&domain.Notification{Kind: domain.NotifyConflictDetected, TaskID: "t1", Payload: "file1.go, file2.go"}, []string{"agent-a"})

	select {
	case n := <-ch:
		if n.Payload != "file1.go, file2.go" {
			t.Fatalf("got payload %q, want the conflicting file list", n.Payload)
		}
	default:
		t.Fatal("expected the live subscriber to receive the notification immediately")
	}
}

func TestBus_PublishStillRecordsPendingForOfflineAgent(t *testing.T) {
	store := newFakePendingStore()
	b := NewBus(store)

	b.Publish(&domain.Notification{Kind: domain.NotifyTestsFailed, TaskID: "t1", Payload: "go test output"}, []string{"agent-a"})

	pending, err := b.Drain("agent-a")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(pending) != 1 || pending[0].Payload != "go test output" {
		t.Fatalf("got %+v, want one pending notification with the payload preserved", pending)
	}
}

func TestBus_PublishOnlyReachesRecipients(t *testing.T) {
	store := newFakePendingStore()
	b := NewBus(store)

	chA, unsubA := b.Subscribe("agent-a")
	defer unsubA()
	chB, unsubB := b.Subscribe("agent-b")
	defer unsubB()

	b.Publish(&domain.Notification{Kind: domain.NotifyMergeSuccess, TaskID: "t1"}, []string{"agent-a"})

	select {
	case <-chA:
	default:
		t.Fatal("agent-a should have received the notification")
	}
	select {
	case n := <-chB:
		t.Fatalf("agent-b should not have received anything, got %+v", n)
	default:
	}
}
