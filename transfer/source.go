package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/swapbytes/crypto"
)

// ErrChunkOutOfRange indicates a requested chunk index past the end of the file.
var ErrChunkOutOfRange = errors.New("requested chunk index out of bounds")

// ErrSourceClosed indicates a chunk read after the source was released.
var ErrSourceClosed = errors.New("source closed")

// Source serves chunk reads for one offered file. Reads are a pure function
// of the chunk index, so re-serving the same index after a dropped response
// is safe without any bookkeeping. Reads run on per-request goroutines while
// Close arrives from the event loop, so the handle is guarded by a mutex.
type Source struct {
	peer      crypto.PeerID
	filename  string
	path      string
	chunkSize uint64

	mu     sync.Mutex
	file   *os.File
	closed bool
}

// NewSource registers an offered file for serving. The file is opened lazily
// on the first chunk request.
func NewSource(peer crypto.PeerID, filename, path string, chunkSize uint64) *Source {
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}
	return &Source{
		peer:      peer,
		filename:  filename,
		path:      path,
		chunkSize: chunkSize,
	}
}

// Filename returns the offered file's bare name.
func (s *Source) Filename() string {
	return s.filename
}

// ChunkSize returns the chunk size reads are addressed with.
func (s *Source) ChunkSize() uint64 {
	return s.chunkSize
}

// ReadChunkAt reads exactly one chunk at the given index and reports whether
// the read reached end of file. Serving the same index twice yields
// byte-identical payloads.
func (s *Source) ReadChunkAt(index uint64) (data []byte, final bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrSourceClosed
	}
	if s.file == nil {
		s.file, err = os.Open(s.path)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ReadChunkAt",
				"peer":     s.peer.Short(),
				"filename": s.filename,
				"path":     s.path,
				"error":    err.Error(),
			}).Error("Failed to open offered file")
			return nil, false, fmt.Errorf("failed to open file: %w", err)
		}
	}

	info, err := s.file.Stat()
	if err != nil {
		return nil, false, fmt.Errorf("failed to stat file: %w", err)
	}
	size := uint64(info.Size())

	// An empty file is a single empty final chunk.
	if size == 0 {
		if index == 0 {
			return []byte{}, true, nil
		}
		return nil, false, ErrChunkOutOfRange
	}

	offset := index * s.chunkSize
	if offset >= size {
		return nil, false, ErrChunkOutOfRange
	}

	buf := make([]byte, s.chunkSize)
	n, err := s.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("failed to read chunk %d: %w", index, err)
	}

	final = offset+uint64(n) >= size
	return buf[:n], final, nil
}

// Close releases the cached read handle. Any in-flight read finishes first;
// later reads fail with ErrSourceClosed.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
