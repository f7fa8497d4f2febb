package transfer

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func writeSourceFile(t *testing.T, size int) (string, []byte) {
	t.Helper()
	content := make([]byte, size)
	for i := range content {
		content[i] = byte(i % 251)
	}
	path := filepath.Join(t.TempDir(), "notes.pdf")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing source file: %v", err)
	}
	return path, content
}

func TestReadChunkAt(t *testing.T) {
	path, content := writeSourceFile(t, 1500)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)
	defer src.Close()

	for i := uint64(0); i < 3; i++ {
		data, final, err := src.ReadChunkAt(i)
		if err != nil {
			t.Fatalf("ReadChunkAt(%d) failed: %v", i, err)
		}
		if !bytes.Equal(data, content[i*500:(i+1)*500]) {
			t.Errorf("chunk %d content mismatch", i)
		}
		if wantFinal := i == 2; final != wantFinal {
			t.Errorf("chunk %d: final = %v, want %v", i, final, wantFinal)
		}
	}
}

func TestReadChunkAtPartialLastChunk(t *testing.T) {
	path, content := writeSourceFile(t, 1200)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)
	defer src.Close()

	data, final, err := src.ReadChunkAt(2)
	if err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if len(data) != 200 || !final {
		t.Errorf("len = %d, final = %v; want 200, true", len(data), final)
	}
	if !bytes.Equal(data, content[1000:]) {
		t.Error("last chunk content mismatch")
	}
}

func TestReadChunkAtIdempotent(t *testing.T) {
	path, _ := writeSourceFile(t, 1500)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)
	defer src.Close()

	first, _, err := src.ReadChunkAt(1)
	if err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	second, _, err := src.ReadChunkAt(1)
	if err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("re-serving the same index must yield identical bytes")
	}
}

func TestReadChunkAtOutOfRange(t *testing.T) {
	path, _ := writeSourceFile(t, 1500)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)
	defer src.Close()

	if _, _, err := src.ReadChunkAt(3); err != ErrChunkOutOfRange {
		t.Errorf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestReadChunkAtEmptyFile(t *testing.T) {
	path, _ := writeSourceFile(t, 0)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)
	defer src.Close()

	data, final, err := src.ReadChunkAt(0)
	if err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if len(data) != 0 || !final {
		t.Errorf("empty file: len = %d, final = %v; want 0, true", len(data), final)
	}

	if _, _, err := src.ReadChunkAt(1); err != ErrChunkOutOfRange {
		t.Errorf("err = %v, want ErrChunkOutOfRange", err)
	}
}

func TestReadChunkAtMissingFile(t *testing.T) {
	src := NewSource(testPeerID(1), "gone.pdf", filepath.Join(t.TempDir(), "gone.pdf"), 500)
	if _, _, err := src.ReadChunkAt(0); err == nil {
		t.Error("expected error for missing source file")
	}
}

func TestReadChunkAtAfterClose(t *testing.T) {
	path, _ := writeSourceFile(t, 1500)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)

	if _, _, err := src.ReadChunkAt(0); err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// A request racing the teardown must get a clean error, not a read on a
	// released handle.
	if _, _, err := src.ReadChunkAt(1); err != ErrSourceClosed {
		t.Errorf("err = %v, want ErrSourceClosed", err)
	}
}

func TestSourceConcurrentReadAndClose(t *testing.T) {
	path, _ := writeSourceFile(t, 1500)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			if _, _, err := src.ReadChunkAt(0); err != nil && err != ErrSourceClosed {
				t.Errorf("ReadChunkAt: %v", err)
				return
			}
		}
	}()
	if err := src.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	<-done
}

func TestSourceCloseIsIdempotent(t *testing.T) {
	path, _ := writeSourceFile(t, 10)
	src := NewSource(testPeerID(1), "notes.pdf", path, 500)

	if _, _, err := src.ReadChunkAt(0); err != nil {
		t.Fatalf("ReadChunkAt failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
