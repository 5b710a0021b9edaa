package nms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gugahnugraha/nms-client-go/nms/rest"
)

func TestPresenceIncrementalEvents(t *testing.T) {
	p := NewPresenceTracker(rest.NewClient(""), noopLogger{})

	p.ApplyOnline("u1")
	p.ApplyOnline("u2")
	if got := p.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
	p.ApplyOffline("u1")
	if p.Online("u1") {
		t.Fatalf("u1 still online after offline event")
	}
	if got := p.Count(); got != 1 {
		t.Fatalf("count = %d, want 1", got)
	}
}

func TestPresenceSelfAlwaysPresent(t *testing.T) {
	p := NewPresenceTracker(rest.NewClient(""), noopLogger{})
	p.SetSelf("me")

	if !p.Online("me") {
		t.Fatalf("self not registered")
	}
	p.ApplyOffline("me")
	if !p.Online("me") {
		t.Fatalf("self removed by offline event")
	}

	// A snapshot that omits the local identity still keeps it tracked.
	p.ApplySnapshot([]string{"u1"})
	if !p.Online("me") {
		t.Fatalf("self removed by snapshot")
	}
}

func TestPresenceSnapshotReplaces(t *testing.T) {
	p := NewPresenceTracker(rest.NewClient(""), noopLogger{})

	// u3 went offline while we were disconnected and never sent an
	// explicit offline event; the snapshot removes it immediately.
	p.ApplyOnline("u3")
	p.ApplySnapshot([]string{"u1", "u2"})

	if p.Online("u3") {
		t.Fatalf("stale user survived snapshot")
	}
	if got := p.Count(); got != 2 {
		t.Fatalf("count = %d, want 2", got)
	}
}

func TestPresenceLazyEnrichment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/directory/users" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode([]rest.UserInfo{
			{ID: "u1", DisplayName: "Router Admin", Role: "admin"},
		})
	}))
	defer srv.Close()

	p := NewPresenceTracker(rest.NewClient(srv.URL), noopLogger{})
	p.ApplyOnline("u1")

	// Placeholder until the directory lands; the event is not dropped.
	details := p.Details()
	if len(details) != 1 {
		t.Fatalf("details = %d entries, want 1", len(details))
	}

	if err := p.LoadDirectory(context.Background()); err != nil {
		t.Fatalf("LoadDirectory: %v", err)
	}
	details = p.Details()
	if details[0].DisplayName != "Router Admin" || details[0].Role != "admin" {
		t.Fatalf("entry not enriched in place: %+v", details[0])
	}
}

func TestPresenceDirectoryFailureDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewPresenceTracker(rest.NewClient(srv.URL), noopLogger{})
	p.ApplyOnline("u1")
	if err := p.LoadDirectory(context.Background()); err == nil {
		t.Fatalf("expected directory error")
	}
	// Presence updates keep flowing with placeholder names.
	if !p.Online("u1") {
		t.Fatalf("presence lost on directory failure")
	}
	if got := p.Details()[0].DisplayName; got != "u1" {
		t.Fatalf("placeholder name = %q, want %q", got, "u1")
	}
}
