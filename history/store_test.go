package history

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestStoreAppendAndRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		e := NewEntry(testPeerID(1), "alice", fmt.Sprintf("line %d", i), base.Add(time.Duration(i)*time.Second))
		if err := store.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.Recent("global", 3)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest three, in chronological order.
	want := []string{"line 2", "line 3", "line 4"}
	for i := range want {
		if got[i].Text != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i].Text, want[i])
		}
	}
}

func TestStoreScopesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	g := NewEntry(testPeerID(1), "alice", "global", time.Now())
	if err := store.Append(g); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	p := NewEntry(testPeerID(2), "bob", "private", time.Now())
	p.Private = true
	p.Peer = testPeerID(2)
	if err := store.Append(p); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	global, err := store.Recent("global", 10)
	if err != nil || len(global) != 1 || global[0].Text != "global" {
		t.Errorf("global scope = %+v, err = %v", global, err)
	}
	private, err := store.Recent(p.ScopeKey(), 10)
	if err != nil || len(private) != 1 || private[0].Text != "private" {
		t.Errorf("private scope = %+v, err = %v", private, err)
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	entry := NewEntry(testPeerID(1), "alice", "persisted", time.Now())
	if err := store.Append(entry); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := OpenStore(path)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Recent("global", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 1 || got[0].Text != "persisted" || got[0].ID != entry.ID {
		t.Errorf("got = %+v", got)
	}
}

func TestStoreRecentUnknownScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer store.Close()

	got, err := store.Recent("private:nobody", 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got = %+v, want empty", got)
	}
}

func TestNilStoreIsSafe(t *testing.T) {
	var store *Store

	if err := store.Append(NewEntry(testPeerID(1), "alice", "x", time.Now())); err != nil {
		t.Errorf("nil Append = %v", err)
	}
	if got, err := store.Recent("global", 10); err != nil || got != nil {
		t.Errorf("nil Recent = %+v, %v", got, err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("nil Close = %v", err)
	}
}
