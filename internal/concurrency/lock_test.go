package concurrency

import (
	"testing"
	"time"
)

func TestSessionLockManager_SerializesSameSession(t *testing.T) {
	m := NewSessionLockManager()
	m.Lock("sess-1")

	acquired := make(chan struct{})
	go func() {
		m.Lock("sess-1")
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock must block while the session is held")
	case <-time.After(20 * time.Millisecond):
	}

	m.Unlock("sess-1")

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock never acquired after Unlock")
	}
	m.Unlock("sess-1")
}

func TestSessionLockManager_SessionsAreIndependent(t *testing.T) {
	m := NewSessionLockManager()
	m.Lock("sess-1")

	acquired := make(chan struct{})
	go func() {
		m.Lock("sess-2")
		close(acquired)
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("a different session must not be blocked")
	}

	m.Unlock("sess-2")
	m.Unlock("sess-1")
}
