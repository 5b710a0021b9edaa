package nms

import (
	"context"
	"sort"
	"sync"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
)

// PresenceTracker maintains the set of currently-online identities. It
// merges incremental online/offline events with full snapshots, and
// enriches entries from the user directory as it becomes available.
type PresenceTracker struct {
	rest   *rest.Client
	logger Logger

	mu        sync.Mutex
	selfID    string
	entries   map[string]*PresenceEntry
	directory map[string]rest.UserInfo
	fetching  bool
}

// NewPresenceTracker builds an empty tracker.
func NewPresenceTracker(rc *rest.Client, logger Logger) *PresenceTracker {
	return &PresenceTracker{
		rest:      rc,
		logger:    logger,
		entries:   map[string]*PresenceEntry{},
		directory: map[string]rest.UserInfo{},
	}
}

// SetSelf registers the locally authenticated identity. The local user is
// always present in the set once connected, independent of server echo.
func (p *PresenceTracker) SetSelf(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selfID = userID
	if userID != "" {
		p.entries[userID] = p.entryLocked(userID)
	}
}

// ApplyOnline adds a user to the tracked set.
func (p *PresenceTracker) ApplyOnline(userID string) {
	p.mu.Lock()
	p.entries[userID] = p.entryLocked(userID)
	_, known := p.directory[userID]
	p.mu.Unlock()
	if !known {
		p.fetchDirectory()
	}
}

// ApplyOffline removes a user from the tracked set. The local identity is
// never removed by an offline event.
func (p *PresenceTracker) ApplyOffline(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if userID == p.selfID {
		return
	}
	delete(p.entries, userID)
}

// ApplySnapshot fully replaces the tracked set. A snapshot bounds the
// lifetime of any drift caused by a missed incremental event.
func (p *PresenceTracker) ApplySnapshot(userIDs []string) {
	p.mu.Lock()
	next := make(map[string]*PresenceEntry, len(userIDs)+1)
	missing := false
	for _, id := range userIDs {
		next[id] = p.entryLocked(id)
		if _, ok := p.directory[id]; !ok {
			missing = true
		}
	}
	if p.selfID != "" {
		next[p.selfID] = p.entryLocked(p.selfID)
	}
	p.entries = next
	p.mu.Unlock()
	if missing {
		p.fetchDirectory()
	}
}

// Count returns the number of online identities.
func (p *PresenceTracker) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Details returns a copy of the tracked set, sorted by user id.
func (p *PresenceTracker) Details() []PresenceEntry {
	p.mu.Lock()
	out := make([]PresenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, *e)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Online reports whether a user is in the tracked set.
func (p *PresenceTracker) Online(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[userID]
	return ok
}

// LoadDirectory fetches the user directory and enriches tracked entries in
// place. A failed fetch degrades to placeholder names; no presence event is
// dropped while waiting.
func (p *PresenceTracker) LoadDirectory(ctx context.Context) error {
	users, err := p.rest.GetDirectory(ctx)
	if err != nil {
		p.logger.Warn("directory fetch failed", map[string]any{"error": err.Error()})
		return err
	}
	p.mu.Lock()
	for _, u := range users {
		p.directory[u.ID] = u
		if e, ok := p.entries[u.ID]; ok {
			e.DisplayName = u.DisplayName
			e.AvatarRef = u.AvatarRef
			e.Role = u.Role
		}
	}
	p.mu.Unlock()
	return nil
}

// entryLocked builds or reuses an entry for a user, using directory data
// when present and a placeholder name otherwise.
func (p *PresenceTracker) entryLocked(userID string) *PresenceEntry {
	if e, ok := p.entries[userID]; ok {
		return e
	}
	if u, ok := p.directory[userID]; ok {
		return &PresenceEntry{UserID: userID, DisplayName: u.DisplayName, AvatarRef: u.AvatarRef, Role: u.Role}
	}
	return &PresenceEntry{UserID: userID, DisplayName: userID}
}

// fetchDirectory kicks off at most one directory load at a time.
func (p *PresenceTracker) fetchDirectory() {
	p.mu.Lock()
	if p.fetching {
		p.mu.Unlock()
		return
	}
	p.fetching = true
	p.mu.Unlock()

	go func() {
		_ = p.LoadDirectory(context.Background())
		p.mu.Lock()
		p.fetching = false
		p.mu.Unlock()
	}()
}
