package rate

import (
	"testing"
	"time"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func TestAllowWindow(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := newLimiter(c.now)

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("login:10.0.0.1", 3, time.Minute); !ok {
			t.Fatalf("hit %d should be allowed", i+1)
		}
	}
	c.t = c.t.Add(20 * time.Second)
	ok, retry := l.Allow("login:10.0.0.1", 3, time.Minute)
	if ok {
		t.Fatalf("fourth hit in the window must be refused")
	}
	if retry != 40*time.Second {
		t.Fatalf("unexpected retry-after %s", retry)
	}
	if ok, _ := l.Allow("login:10.0.0.2", 3, time.Minute); !ok {
		t.Fatalf("keys are independent")
	}

	c.t = c.t.Add(41 * time.Second)
	if ok, _ := l.Allow("login:10.0.0.1", 3, time.Minute); !ok {
		t.Fatalf("a new window must allow again")
	}
}

func TestAllowCollectsOldBuckets(t *testing.T) {
	c := &clock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	l := newLimiter(c.now)
	l.Allow("a", 1, time.Second)
	l.Allow("b", 1, time.Second)

	c.t = c.t.Add(2 * time.Minute)
	l.Allow("c", 1, time.Second)
	if got := l.Len(); got != 1 {
		t.Fatalf("expected stale buckets collected, have %d", got)
	}
}
