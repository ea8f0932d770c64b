package store

import (
	"testing"
	"time"
)

func TestSessionLockSingleHolder(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.AcquireSessionLock("attache", "proc-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	// A second process cannot take a live lock.
	ok, err = s.AcquireSessionLock("attache", "proc-2", time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail: ok=%v err=%v", ok, err)
	}

	// The holder can re-acquire and heartbeat.
	ok, err = s.AcquireSessionLock("attache", "proc-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.HeartbeatSessionLock("attache", "proc-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("heartbeat: ok=%v err=%v", ok, err)
	}
	ok, _ = s.HeartbeatSessionLock("attache", "proc-2", time.Minute)
	if ok {
		t.Fatal("non-holder heartbeat must fail")
	}

	if err := s.ReleaseSessionLock("attache", "proc-1"); err != nil {
		t.Fatal(err)
	}
	ok, err = s.AcquireSessionLock("attache", "proc-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestSessionLockExpiry(t *testing.T) {
	s := newTestStore(t)

	ok, err := s.AcquireSessionLock("attache", "proc-1", -time.Second)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	// Expired lock is stealable.
	ok, err = s.AcquireSessionLock("attache", "proc-2", time.Minute)
	if err != nil || !ok {
		t.Fatalf("steal expired: ok=%v err=%v", ok, err)
	}
}
