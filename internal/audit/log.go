package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only JSONL audit log. Each entry's prev_hash is the hash
// of the previous line, so removing, editing or inserting a line breaks the
// chain from that point on.
type Log struct {
	path     string
	file     *os.File
	prevHash string
	mu       sync.Mutex
}

// DefaultPath returns the default audit log location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "ledgerwatch", "audit.jsonl")
	}
	return filepath.Join(home, ".ledgerwatch", "audit.jsonl")
}

// Open opens or creates path for appending and recovers the chain tail from
// the last complete line. A trailing partial line left by a crash mid-write
// is cut off first.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}

	last, end, err := lastLine(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: recover chain tail: %w", err)
	}
	if info, err := file.Stat(); err == nil && info.Size() > end {
		if err := file.Truncate(end); err != nil {
			file.Close()
			return nil, fmt.Errorf("audit: drop torn entry: %w", err)
		}
	}
	if _, err := file.Seek(end, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: seek: %w", err)
	}

	prevHash := GenesisHash
	if len(last) > 0 {
		prevHash = HashLine(last)
	}
	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// tailChunk is how far lastLine reads back per step.
const tailChunk = 64 * 1024

// lastLine returns the last newline-terminated line of f (without the
// newline) and the offset just past it. Bytes after that offset belong to
// an unterminated line.
func lastLine(f *os.File) ([]byte, int64, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	size := info.Size()
	if size == 0 {
		return nil, 0, nil
	}

	var (
		buf []byte
		pos = size
		end = int64(-1)
	)
	for pos > 0 {
		n := int64(tailChunk)
		if n > pos {
			n = pos
		}
		pos -= n
		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, pos); err != nil && err != io.EOF {
			return nil, 0, err
		}
		buf = append(chunk, buf...)

		if end < 0 {
			i := bytes.LastIndexByte(buf, '\n')
			if i < 0 {
				if int64(len(buf)) > maxLineSize {
					return nil, 0, fmt.Errorf("unterminated tail exceeds %d bytes", maxLineSize)
				}
				continue
			}
			end = pos + int64(i) + 1
			buf = buf[:i]
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			return buf[i+1:], end, nil
		}
		if int64(len(buf)) > maxLineSize {
			return nil, 0, fmt.Errorf("last entry exceeds %d bytes", maxLineSize)
		}
	}
	if end < 0 {
		// Only a torn first line; the chain restarts from genesis.
		return nil, 0, nil
	}
	return buf, end, nil
}

// Record appends entry, filling PrevHash and an empty Timestamp, and syncs
// before returning.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = time.Now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Path returns the file the log appends to.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// maxLineSize bounds one JSONL entry; input snapshots are capped well
// below it.
const maxLineSize = 4 << 20

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return s
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
