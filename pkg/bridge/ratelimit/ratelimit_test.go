package ratelimit

import (
	"testing"
	"time"
)

func TestAcquireSession_EnforcesConcurrency(t *testing.T) {
	l := New(Config{MaxConcurrentSessions: 1})
	now := time.Now()

	first := l.AcquireSession("10.0.0.1", now)
	if !first.Allowed || first.Permit == nil {
		t.Fatalf("first allowed=%v permit=%v", first.Allowed, first.Permit)
	}

	second := l.AcquireSession("10.0.0.1", now)
	if second.Allowed {
		t.Fatalf("second should be denied")
	}

	first.Permit.Release()
	third := l.AcquireSession("10.0.0.1", now)
	if !third.Allowed {
		t.Fatalf("third should be allowed after release")
	}
}

func TestAcquireSession_TokenBucket(t *testing.T) {
	l := New(Config{SessionsPerSecond: 1, Burst: 2})
	now := time.Now()

	if d := l.AcquireSession("10.0.0.1", now); !d.Allowed {
		t.Fatal("first denied")
	}
	if d := l.AcquireSession("10.0.0.1", now); !d.Allowed {
		t.Fatal("second denied within burst")
	}
	denied := l.AcquireSession("10.0.0.1", now)
	if denied.Allowed {
		t.Fatal("third should exhaust burst")
	}
	if denied.RetryAfter < 1 {
		t.Fatalf("retry after = %d", denied.RetryAfter)
	}

	// Refill after a second.
	if d := l.AcquireSession("10.0.0.1", now.Add(1100*time.Millisecond)); !d.Allowed {
		t.Fatal("denied after refill")
	}

	// Other callers have their own bucket.
	if d := l.AcquireSession("10.0.0.2", now); !d.Allowed {
		t.Fatal("separate caller denied")
	}
}

func TestCallerKey(t *testing.T) {
	if got := CallerKey("192.0.2.7:51324"); got != "192.0.2.7" {
		t.Fatalf("key = %q", got)
	}
	if got := CallerKey("[2001:db8::1]:443"); got != "2001:db8::1" {
		t.Fatalf("key = %q", got)
	}
	if got := CallerKey("no-port"); got != "no-port" {
		t.Fatalf("key = %q", got)
	}
}
