package nms

import (
	"testing"
	"time"

	"github.com/gugahnugraha/nms-client-go/nms/store"
)

func testLedger(st store.Store) *UnreadLedger {
	cfg := DefaultConfig()
	cfg.PersistDebounce = time.Millisecond
	return NewUnreadLedger(st, cfg, noopLogger{})
}

func TestUnreadIncrementAndReset(t *testing.T) {
	l := testLedger(store.NewMemory())
	a := ThreadKey{Kind: ThreadDirect, ID: "a"}
	b := ThreadKey{Kind: ThreadGroup, ID: "b"}

	l.Increment(a)
	l.Increment(a)
	l.Increment(b)
	if got := l.Count(a); got != 2 {
		t.Fatalf("count(a) = %d, want 2", got)
	}
	if got := l.Total(); got != 3 {
		t.Fatalf("total = %d, want 3", got)
	}

	l.Reset(a)
	if got := l.Count(a); got != 0 {
		t.Fatalf("count(a) after reset = %d, want 0", got)
	}
	if got := l.Count(b); got != 1 {
		t.Fatalf("count(b) changed: %d, want 1", got)
	}
	if got := l.Total(); got != 1 {
		t.Fatalf("total after reset = %d, want 1", got)
	}
}

func TestUnreadOpenThreadNeverCounts(t *testing.T) {
	l := testLedger(store.NewMemory())
	a := ThreadKey{Kind: ThreadDirect, ID: "a"}

	l.Increment(a)
	l.SetOpen(a)
	if got := l.Count(a); got != 0 {
		t.Fatalf("count after open = %d, want 0", got)
	}

	l.Increment(a) // message arrives for the thread being looked at
	if got := l.Count(a); got != 0 {
		t.Fatalf("open thread counted: %d, want 0", got)
	}
	if got := l.Total(); got != 0 {
		t.Fatalf("total = %d, want 0", got)
	}

	l.ClearOpen()
	l.Increment(a)
	if got := l.Count(a); got != 1 {
		t.Fatalf("count after close = %d, want 1", got)
	}
}

func TestUnreadRehydrate(t *testing.T) {
	st := store.NewMemory()
	l := testLedger(st)
	a := ThreadKey{Kind: ThreadDirect, ID: "a"}
	b := ThreadKey{Kind: ThreadBroadcast}

	l.Increment(a)
	l.Increment(b)
	l.Increment(b)
	l.Flush()

	// A fresh ledger over the same store sees the persisted values, not
	// whatever a previous process held in memory.
	l2 := testLedger(st)
	l2.Rehydrate()
	if got := l2.Count(a); got != 1 {
		t.Fatalf("rehydrated count(a) = %d, want 1", got)
	}
	if got := l2.Count(b); got != 2 {
		t.Fatalf("rehydrated count(b) = %d, want 2", got)
	}
	if got := l2.Total(); got != 3 {
		t.Fatalf("rehydrated total = %d, want 3", got)
	}
}

func TestUnreadDebouncedPersist(t *testing.T) {
	st := store.NewMemory()
	l := testLedger(st)
	l.Increment(ThreadKey{Kind: ThreadDirect, ID: "a"})

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok, _ := st.Get(unreadStoreKey); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("debounced persist never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
