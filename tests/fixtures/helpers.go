package fixtures

import (
	"testing"
	"time"
)

// WaitUntil polls cond until it holds or the deadline passes.
func WaitUntil(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Never asserts cond stays false for the whole window. Used for
// must-not-happen properties like "no local append without an echo".
func Never(t *testing.T, window time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(window)
	for time.Now().Before(deadline) {
		if cond() {
			t.Fatalf("%s happened but must not", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}
