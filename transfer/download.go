// Package transfer implements the chunk transfer engine.
//
// Transfers are pull-based: the receiver requests one chunk at a time by
// index, which bounds sender-ahead buffering to a single chunk and makes
// retries idempotent. The receiving side owns all transfer state (Download);
// the sending side keeps nothing but an open read handle (Source), because
// chunk reads are offset-addressed and re-servable from any index.
//
// Example:
//
//	dl, err := transfer.NewDownload(peer, "notes.pdf", 1500, downloadDir, 500)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	progress, err := dl.ApplyChunk(0, chunkData, false)
package transfer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
)

// DefaultChunkSize is the chunk size used when none is configured.
const DefaultChunkSize = 64 * 1024

// renameAttempts bounds the search for a collision-free final name.
const renameAttempts = 10

// ErrUnexpectedChunk indicates a chunk arrived for an index other than the
// expected one. The chunk is discarded without advancing state; re-requesting
// the expected index recovers.
var ErrUnexpectedChunk = errors.New("chunk index does not match expected index")

// ErrDownloadFinished indicates a chunk arrived after the download reached a
// terminal status.
var ErrDownloadFinished = errors.New("download already finished")

// Status represents the receiver-side state of a transfer.
type Status uint8

const (
	// StatusRequesting means the first chunk request is out.
	StatusRequesting Status = iota
	// StatusReceiving means at least one chunk has been written.
	StatusReceiving
	// StatusCompleted means the file was finalized successfully.
	StatusCompleted
	// StatusFailed means the transfer aborted and the partial file was removed.
	StatusFailed
	// StatusStalled means a chunk request went unanswered. The transfer may
	// resume by reissuing the request for the same expected index.
	StatusStalled
)

// String returns a human-readable name for the status.
func (s Status) String() string {
	switch s {
	case StatusRequesting:
		return "Requesting"
	case StatusReceiving:
		return "Receiving"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusStalled:
		return "Stalled"
	default:
		return "Unknown"
	}
}

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

// Progress is a snapshot of a download's advancement.
type Progress struct {
	Peer           crypto.PeerID
	Filename       string
	BytesConfirmed uint64
	TotalSize      uint64
	Status         Status
	Speed          float64 // bytes per second, exponential moving average
	FinalPath      string  // set once Completed
}

// Download is the receiver side of one pull-based transfer. The expected
// chunk index only advances after the corresponding chunk has been durably
// written, so duplicates and out-of-order chunks are rejected harmlessly.
type Download struct {
	mu sync.Mutex

	peer      crypto.PeerID
	filename  string
	totalSize uint64
	chunkSize uint64

	nextIndex      uint64
	bytesConfirmed uint64
	status         Status

	tempPath  string
	finalPath string
	file      *os.File

	speed         float64
	lastChunkTime time.Time
	timeProvider  TimeProvider
}

// NewDownload creates the temporary output file and the initial transfer
// state. The final file appears in dir only after the last chunk lands.
func NewDownload(peer crypto.PeerID, filename string, totalSize uint64, dir string, chunkSize uint64) (*Download, error) {
	if dir == "" {
		return nil, errors.New("download directory not set")
	}
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	tempPath := filepath.Join(dir, filename+".part")
	file, err := os.Create(tempPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	tp := TimeProvider(DefaultTimeProvider{})
	dl := &Download{
		peer:          peer,
		filename:      filename,
		totalSize:     totalSize,
		chunkSize:     chunkSize,
		status:        StatusRequesting,
		tempPath:      tempPath,
		file:          file,
		lastChunkTime: tp.Now(),
		timeProvider:  tp,
	}

	logrus.WithFields(logrus.Fields{
		"function":  "NewDownload",
		"peer":      peer.Short(),
		"filename":  filename,
		"size":      totalSize,
		"temp_path": tempPath,
	}).Info("Download initialized")

	return dl, nil
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (d *Download) SetTimeProvider(tp TimeProvider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if tp != nil {
		d.timeProvider = tp
		d.lastChunkTime = tp.Now()
	}
}

// NextIndex returns the next expected chunk index.
func (d *Download) NextIndex() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nextIndex
}

// Status returns the current transfer status.
func (d *Download) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Progress returns a snapshot of the download's advancement.
func (d *Download) Progress() Progress {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progressLocked()
}

func (d *Download) progressLocked() Progress {
	p := Progress{
		Peer:           d.peer,
		Filename:       d.filename,
		BytesConfirmed: d.bytesConfirmed,
		TotalSize:      d.totalSize,
		Status:         d.status,
		Speed:          d.speed,
	}
	if d.status == StatusCompleted {
		p.FinalPath = d.finalPath
	}
	return p
}

// ApplyChunk writes one received chunk. Only the expected index advances
// state; anything else returns ErrUnexpectedChunk and changes nothing, so a
// duplicate of an already-confirmed chunk is harmless. The final chunk
// finalizes the file atomically.
func (d *Download) ApplyChunk(index uint64, data []byte, final bool) (Progress, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusCompleted || d.status == StatusFailed {
		return d.progressLocked(), ErrDownloadFinished
	}

	if index != d.nextIndex {
		logrus.WithFields(logrus.Fields{
			"function": "ApplyChunk",
			"peer":     d.peer.Short(),
			"filename": d.filename,
			"expected": d.nextIndex,
			"got":      index,
		}).Warn("Discarding chunk with unexpected index")
		return d.progressLocked(), ErrUnexpectedChunk
	}

	// A non-final chunk shorter or longer than the chunk size would land the
	// following chunks at the wrong offsets and corrupt the file silently.
	if !final && uint64(len(data)) != d.chunkSize {
		d.abortLocked()
		return d.progressLocked(), fmt.Errorf("chunk %d is %d bytes, want %d", index, len(data), d.chunkSize)
	}

	offset := int64(index * d.chunkSize)
	if _, err := d.file.WriteAt(data, offset); err != nil {
		d.abortLocked()
		return d.progressLocked(), fmt.Errorf("failed to write chunk %d: %w", index, err)
	}

	d.nextIndex++
	d.bytesConfirmed += uint64(len(data))
	d.status = StatusReceiving
	d.updateSpeed(uint64(len(data)))

	if final {
		if d.bytesConfirmed != d.totalSize {
			d.abortLocked()
			return d.progressLocked(), fmt.Errorf("final chunk closes the file at %d bytes, declared size is %d", d.bytesConfirmed, d.totalSize)
		}
		if err := d.finalize(); err != nil {
			d.abortLocked()
			return d.progressLocked(), err
		}
	}

	return d.progressLocked(), nil
}

// MarkStalled records that a chunk request went unanswered. The expected
// index is untouched, so a later re-request resumes cleanly.
func (d *Download) MarkStalled() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusCompleted || d.status == StatusFailed {
		return
	}
	d.status = StatusStalled

	logrus.WithFields(logrus.Fields{
		"function":   "MarkStalled",
		"peer":       d.peer.Short(),
		"filename":   d.filename,
		"next_index": d.nextIndex,
	}).Warn("Download stalled: chunk request unanswered")
}

// Resume returns the download to an active status after a stall.
func (d *Download) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status != StatusStalled {
		return errors.New("download is not stalled")
	}
	if d.bytesConfirmed > 0 {
		d.status = StatusReceiving
	} else {
		d.status = StatusRequesting
	}
	return nil
}

// Abort fails the transfer and removes the partial temporary file.
func (d *Download) Abort() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.status == StatusCompleted || d.status == StatusFailed {
		return
	}
	d.abortLocked()
}

func (d *Download) abortLocked() {
	if d.file != nil {
		if closeErr := d.file.Close(); closeErr != nil {
			logrus.WithFields(logrus.Fields{
				"function": "abort",
				"filename": d.filename,
				"error":    closeErr.Error(),
			}).Warn("Failed to close temp file during abort")
		}
		d.file = nil
	}
	if err := os.Remove(d.tempPath); err != nil && !os.IsNotExist(err) {
		logrus.WithFields(logrus.Fields{
			"function":  "abort",
			"temp_path": d.tempPath,
			"error":     err.Error(),
		}).Warn("Failed to remove partial temp file")
	}
	d.status = StatusFailed
}

// finalize syncs the temp file and renames it to its final name, picking a
// timestamped alternative if the name is taken.
func (d *Download) finalize() error {
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := d.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	d.file = nil

	dir := filepath.Dir(d.tempPath)
	finalPath := filepath.Join(dir, d.filename)

	for attempt := 0; ; attempt++ {
		if attempt > renameAttempts {
			return fmt.Errorf("failed to find unique final name for %q after %d attempts", d.filename, attempt)
		}
		if _, err := os.Stat(finalPath); os.IsNotExist(err) {
			break
		}
		stamp := d.timeProvider.Now().Format("20060102_150405")
		ext := filepath.Ext(d.filename)
		stem := d.filename[:len(d.filename)-len(ext)]
		finalPath = filepath.Join(dir, fmt.Sprintf("%s_(%s_%d)%s", stem, stamp, attempt, ext))
	}

	if err := os.Rename(d.tempPath, finalPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	d.finalPath = finalPath
	d.status = StatusCompleted

	logrus.WithFields(logrus.Fields{
		"function":   "finalize",
		"peer":       d.peer.Short(),
		"filename":   d.filename,
		"final_path": finalPath,
		"bytes":      d.bytesConfirmed,
	}).Info("Download completed")

	return nil
}

// updateSpeed maintains an exponential moving average of the transfer speed.
func (d *Download) updateSpeed(chunkSize uint64) {
	now := d.timeProvider.Now()
	duration := d.timeProvider.Since(d.lastChunkTime).Seconds()

	if duration > 0 {
		instant := float64(chunkSize) / duration
		if d.speed == 0 {
			d.speed = instant
		} else {
			d.speed = 0.7*d.speed + 0.3*instant
		}
	}

	d.lastChunkTime = now
}
