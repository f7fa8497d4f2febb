package swapbytes

import (
	"time"

	"github.com/opd-ai/swapbytes/presence"
	"github.com/opd-ai/swapbytes/transfer"
)

// Options contains configuration for creating a SwapBytes instance.
type Options struct {
	// Nickname is announced in heartbeats. May be empty.
	Nickname string

	// Visible controls whether presence heartbeats are broadcast.
	Visible bool

	// DownloadDir is where accepted files land. Accepting an offer fails
	// until it is set.
	DownloadDir string

	// ChunkSize partitions offered files. Defaults to 64 KiB.
	ChunkSize uint64

	// HeartbeatInterval is the period between presence broadcasts.
	HeartbeatInterval time.Duration

	// PeerTimeout is how long a peer stays online after its last activity.
	PeerTimeout time.Duration

	// RequestTimeout bounds each outbound request, including chunk requests.
	RequestTimeout time.Duration

	// HistoryPath, when set, persists chat logs to a BoltDB file.
	HistoryPath string

	// HistorySize bounds the in-memory chat window per scope.
	HistorySize int

	// ProgressInterval is how many bytes accumulate between transfer
	// progress notifications. The final chunk always notifies.
	ProgressInterval uint64
}

// NewOptions creates a new default Options.
func NewOptions() *Options {
	return &Options{
		Visible:           true,
		ChunkSize:         transfer.DefaultChunkSize,
		HeartbeatInterval: 2 * time.Second,
		PeerTimeout:       presence.DefaultPeerTimeout,
		RequestTimeout:    10 * time.Second,
		HistorySize:       1000,
		ProgressInterval:  512 * 1024,
	}
}
