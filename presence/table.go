// Package presence tracks the roster of known peers and their liveness.
//
// A peer is online while broadcast activity attributed to it has been seen
// within the configured timeout. Activity is always attributed to the
// verified original author of a message, never to the hop that forwarded it.
//
// Example:
//
//	table := presence.NewTable(8 * time.Second)
//	table.RecordActivity(peerID, "alice", time.Now())
//	for _, rec := range table.Snapshot() {
//	    fmt.Println(rec.Nickname, rec.Online)
//	}
package presence

import (
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
)

// DefaultPeerTimeout is how long a peer stays online after its last activity.
const DefaultPeerTimeout = 8 * time.Second

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// PeerRecord is one peer's presence entry.
type PeerRecord struct {
	ID       crypto.PeerID
	Nickname string
	LastSeen time.Time
	Online   bool
}

// DisplayName returns the nickname, or an abbreviated peer ID when none is known.
func (r PeerRecord) DisplayName() string {
	if r.Nickname != "" {
		return r.Nickname
	}
	return "user" + r.ID.Short()
}

// Table tracks each known peer's nickname, last activity, and derived
// online/offline status. Records are never deleted, only marked offline.
//
// The protocol event loop is the sole writer; Snapshot and Lookup return
// copies so external readers never observe live state.
type Table struct {
	records      map[crypto.PeerID]*PeerRecord
	timeout      time.Duration
	timeProvider TimeProvider
}

// NewTable creates an empty presence table with the given liveness timeout.
func NewTable(timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultPeerTimeout
	}
	return &Table{
		records:      make(map[crypto.PeerID]*PeerRecord),
		timeout:      timeout,
		timeProvider: DefaultTimeProvider{},
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (t *Table) SetTimeProvider(tp TimeProvider) {
	if tp != nil {
		t.timeProvider = tp
	}
}

// Activity describes what changed when activity was recorded for a peer.
type Activity struct {
	Record          PeerRecord
	CameOnline      bool
	NicknameChanged bool
	OldNickname     string
}

// RecordActivity updates or creates the record for the given original author.
// An empty nickname keeps whatever nickname is already known.
func (t *Table) RecordActivity(peer crypto.PeerID, nickname string, ts time.Time) Activity {
	rec, exists := t.records[peer]
	if !exists {
		rec = &PeerRecord{ID: peer}
		t.records[peer] = rec

		logrus.WithFields(logrus.Fields{
			"function": "RecordActivity",
			"peer":     peer.Short(),
			"nickname": nickname,
		}).Debug("Creating presence record for new peer")
	}

	// Learning a nickname for the first time counts as a change so a
	// notification fires for peers that were seeded without one.
	activity := Activity{CameOnline: !rec.Online}
	if nickname != "" && nickname != rec.Nickname {
		activity.NicknameChanged = true
		activity.OldNickname = rec.Nickname
		rec.Nickname = nickname
	}

	if ts.After(rec.LastSeen) {
		rec.LastSeen = ts
	}
	rec.Online = true

	activity.Record = *rec
	return activity
}

// Seed creates online records for peers reported reachable by the roster.
// Existing records are refreshed, never overwritten with an empty nickname.
func (t *Table) Seed(peers []crypto.PeerID, now time.Time) {
	for _, peer := range peers {
		t.RecordActivity(peer, "", now)
	}
}

// MarkOfflineIfStale flips records whose last activity exceeds the timeout.
// It returns the records that changed so callers can emit notifications.
// Records are never deleted.
func (t *Table) MarkOfflineIfStale(now time.Time) []PeerRecord {
	var flipped []PeerRecord
	for _, rec := range t.records {
		if rec.Online && now.Sub(rec.LastSeen) >= t.timeout {
			rec.Online = false
			flipped = append(flipped, *rec)

			logrus.WithFields(logrus.Fields{
				"function":  "MarkOfflineIfStale",
				"peer":      rec.ID.Short(),
				"nickname":  rec.Nickname,
				"last_seen": rec.LastSeen,
			}).Info("Peer marked offline")
		}
	}
	return flipped
}

// Lookup returns a copy of the record for the given peer. A peer never seen
// is simply unknown, not an error.
func (t *Table) Lookup(peer crypto.PeerID) (PeerRecord, bool) {
	rec, ok := t.records[peer]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Snapshot returns an ordered read-only view for display: online peers first,
// then by display name.
func (t *Table) Snapshot() []PeerRecord {
	out := make([]PeerRecord, 0, len(t.records))
	for _, rec := range t.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Online != out[j].Online {
			return out[i].Online
		}
		return strings.ToLower(out[i].DisplayName()) < strings.ToLower(out[j].DisplayName())
	})
	return out
}

// Timeout returns the configured liveness timeout.
func (t *Table) Timeout() time.Duration {
	return t.timeout
}
