// Package history keeps the append-only chat logs.
//
// Entries are immutable once appended. Each scope (the global room, or a
// private conversation with one peer) has its own ordered log. An optional
// BoltDB-backed Store persists entries so conversations survive restarts;
// transfer state is deliberately never persisted.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/swapbytes/crypto"
)

// DefaultLogSize bounds the in-memory window per scope.
const DefaultLogSize = 1000

// Entry is one immutable chat line.
type Entry struct {
	ID         string        `json:"id"`
	Author     crypto.PeerID `json:"author"`
	AuthorName string        `json:"author_name,omitempty"`
	Text       string        `json:"text"`
	Timestamp  time.Time     `json:"timestamp"`
	Private    bool          `json:"private"`
	// Peer identifies the private conversation. Zero for global scope.
	Peer crypto.PeerID `json:"peer,omitempty"`
}

// NewEntry creates a chat entry with a fresh ID.
func NewEntry(author crypto.PeerID, authorName, text string, ts time.Time) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Author:     author,
		AuthorName: authorName,
		Text:       text,
		Timestamp:  ts,
	}
}

// ScopeKey returns the log bucket this entry belongs to.
func (e Entry) ScopeKey() string {
	if !e.Private {
		return "global"
	}
	return "private:" + e.Peer.String()
}

// Log keeps a sliding window of recent chat entries per scope in memory.
type Log struct {
	mu     sync.Mutex
	max    int
	scopes map[string][]Entry
}

// NewLog creates an empty chat log keeping up to max entries per scope.
func NewLog(max int) *Log {
	if max <= 0 {
		max = DefaultLogSize
	}
	return &Log{max: max, scopes: make(map[string][]Entry)}
}

// Append adds one entry to its scope's log.
func (l *Log) Append(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := e.ScopeKey()
	buf := append(l.scopes[key], e)
	if len(buf) > l.max {
		buf = buf[len(buf)-l.max:]
	}
	l.scopes[key] = buf
}

// Global returns a copy of the global chat log in order.
func (l *Log) Global() []Entry {
	return l.scope("global")
}

// Private returns a copy of the private chat log with one peer in order.
func (l *Log) Private(peer crypto.PeerID) []Entry {
	return l.scope("private:" + peer.String())
}

func (l *Log) scope(key string) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	buf := l.scopes[key]
	out := make([]Entry, len(buf))
	copy(out, buf)
	return out
}

// Load seeds a scope from persisted entries, keeping chronological order.
func (l *Log) Load(entries []Entry) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	for _, e := range sorted {
		l.Append(e)
	}
}
