package nms

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/gugahnugraha/nms-client-go/nms/store"
)

const (
	unreadStoreKey      = "unread"
	unreadTotalStoreKey = "unread_total"
	openThreadStoreKey  = "open_thread"
	lastSeenStoreKey    = "last_seen"
)

// UnreadLedger is the single authoritative holder of unread counters: a
// per-thread map plus the derived total. Writes flow through to the durable
// store on a debounce so a restart rehydrates the last persisted values.
// The counter for the currently open thread is pinned at zero.
type UnreadLedger struct {
	st     store.Store
	logger Logger

	mu       sync.Mutex
	counts   map[string]int
	total    int
	open     string
	debounce time.Duration
	timer    *time.Timer
}

// NewUnreadLedger builds an empty ledger backed by st.
func NewUnreadLedger(st store.Store, cfg Config, logger Logger) *UnreadLedger {
	d := cfg.PersistDebounce
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	return &UnreadLedger{
		st:       st,
		logger:   logger,
		counts:   map[string]int{},
		debounce: d,
	}
}

// Rehydrate loads counters from the durable store. Stored values win over
// whatever is in memory; after this point the in-memory state is
// authoritative for the lifetime of the process.
func (l *UnreadLedger) Rehydrate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if blob, ok, err := l.st.Get(unreadStoreKey); err == nil && ok {
		counts := map[string]int{}
		if err := json.Unmarshal([]byte(blob), &counts); err == nil {
			l.counts = counts
		}
	}
	l.total = 0
	for _, n := range l.counts {
		l.total += n
	}
	if v, ok, err := l.st.Get(openThreadStoreKey); err == nil && ok {
		l.open = v
	}
}

// Increment bumps a thread's counter and the aggregate. Messages for the
// currently open thread are being looked at, so they never count.
func (l *UnreadLedger) Increment(thread ThreadKey) {
	key := thread.String()
	l.mu.Lock()
	if key == "" || key == l.open {
		l.mu.Unlock()
		return
	}
	l.counts[key]++
	l.total++
	l.scheduleLocked()
	l.mu.Unlock()
}

// Reset zeroes a thread's counter and drops the aggregate by the prior
// value. No other thread's counter changes.
func (l *UnreadLedger) Reset(thread ThreadKey) {
	key := thread.String()
	l.mu.Lock()
	prior := l.counts[key]
	if prior > 0 {
		l.total -= prior
		delete(l.counts, key)
		l.scheduleLocked()
	}
	l.mu.Unlock()
}

// SetOpen marks a thread as currently open: its counter resets and stays
// zero until ClearOpen. The flag and a last-seen timestamp persist for
// badge suppression across restarts.
func (l *UnreadLedger) SetOpen(thread ThreadKey) {
	key := thread.String()
	l.mu.Lock()
	l.open = key
	prior := l.counts[key]
	if prior > 0 {
		l.total -= prior
		delete(l.counts, key)
	}
	l.scheduleLocked()
	l.mu.Unlock()
}

// ClearOpen clears the open-thread flag.
func (l *UnreadLedger) ClearOpen() {
	l.mu.Lock()
	l.open = ""
	l.scheduleLocked()
	l.mu.Unlock()
}

// Count returns one thread's unread counter.
func (l *UnreadLedger) Count(thread ThreadKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[thread.String()]
}

// Total returns the aggregate unread count.
func (l *UnreadLedger) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total
}

// Flush forces a pending persist to complete now.
func (l *UnreadLedger) Flush() {
	l.mu.Lock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()
	l.persist()
}

// Close stops the debounce timer and flushes.
func (l *UnreadLedger) Close() {
	l.Flush()
}

// scheduleLocked arms the debounced write-through. Callers hold l.mu.
func (l *UnreadLedger) scheduleLocked() {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.debounce, l.persist)
}

func (l *UnreadLedger) persist() {
	l.mu.Lock()
	counts := make(map[string]int, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	total := l.total
	open := l.open
	l.mu.Unlock()

	blob, err := json.Marshal(counts)
	if err != nil {
		l.logger.Error("persist unread counters", map[string]any{"error": err.Error()})
		return
	}
	if err := l.st.Put(unreadStoreKey, string(blob)); err != nil {
		l.logger.Error("persist unread counters", map[string]any{"error": err.Error()})
		return
	}
	if err := l.st.Put(unreadTotalStoreKey, strconv.Itoa(total)); err != nil {
		l.logger.Error("persist unread total", map[string]any{"error": err.Error()})
	}
	if err := l.st.Put(openThreadStoreKey, open); err != nil {
		l.logger.Error("persist open thread", map[string]any{"error": err.Error()})
	}
	if err := l.st.Put(lastSeenStoreKey, strconv.FormatInt(time.Now().UnixMilli(), 10)); err != nil {
		l.logger.Error("persist last seen", map[string]any{"error": err.Error()})
	}
}
