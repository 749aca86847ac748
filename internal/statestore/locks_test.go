package statestore

import (
	"database/sql"
	"testing"
	"time"
)

func TestAcquireLock_SecondAcquireFailsWhileLive(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1")

	if err := s.AcquireLock("t1", "agent-a", time.Minute); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := s.AcquireLock("t1", "agent-b", time.Minute); err != sql.ErrNoRows {
		t.Fatalf("got %v, want sql.ErrNoRows while agent-a's lock is live", err)
	}
}

func TestAcquireLock_SucceedsAfterExpiry(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1")

	if err := s.AcquireLock("t1", "agent-a", time.Millisecond); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if err := s.AcquireLock("t1", "agent-b", time.Minute); err != nil {
		t.Fatalf("expected agent-b to acquire the expired lock, got %v", err)
	}
}

func TestRenewLock_FailsForNonHolder(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1")
	if err := s.AcquireLock("t1", "agent-a", time.Minute); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if err := s.RenewLock("t1", "agent-b", time.Minute); err != sql.ErrNoRows {
		t.Fatalf("got %v, want sql.ErrNoRows for a non-holder renew", err)
	}
	if err := s.RenewLock("t1", "agent-a", time.Minute); err != nil {
		t.Fatalf("expected the holder's renew to succeed, got %v", err)
	}
}

func TestReleaseLock_ThenExpiredLockTaskIDsOmitsIt(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1")
	if err := s.AcquireLock("t1", "agent-a", time.Millisecond); err != nil {
		t.Fatalf("AcquireLock: %v", err)
	}

	if err := s.ReleaseLock("t1"); err != nil {
		t.Fatalf("ReleaseLock: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	expired, err := s.ExpiredLockTaskIDs()
	if err != nil {
		t.Fatalf("ExpiredLockTaskIDs: %v", err)
	}
	for _, id := range expired {
		if id == "t1" {
			t.Fatal("got t1 in the expired list after it was released")
		}
	}
}

func TestExpiredLockTaskIDs_ReturnsOnlyExpired(t *testing.T) {
	s := newTestStore(t)
	seedTask(t, s, "t1")
	seedTask(t, s, "t2")
	if err := s.AcquireLock("t1", "agent-a", time.Millisecond); err != nil {
		t.Fatalf("AcquireLock t1: %v", err)
	}
	if err := s.AcquireLock("t2", "agent-b", time.Hour); err != nil {
		t.Fatalf("AcquireLock t2: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	expired, err := s.ExpiredLockTaskIDs()
	if err != nil {
		t.Fatalf("ExpiredLockTaskIDs: %v", err)
	}
	if len(expired) != 1 || expired[0] != "t1" {
		t.Fatalf("got %v, want only t1 expired", expired)
	}
}
