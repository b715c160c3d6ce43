// Package buffer spools events to disk while the server is unreachable.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

var ErrClosed = errors.New("buffer is closed")

const (
	fileName   = "events.buf"
	headerSize = 4
)

// Buffer is a FIFO of encoded events.
type Buffer interface {
	// Write appends events, dropping the oldest when full.
	Write(events []*structpb.Struct) error
	// Read removes and returns up to n of the oldest events.
	Read(n int) ([]*structpb.Struct, error)
	Len() int
	Close() error
}

// Config configures a DiskBuffer.
type Config struct {
	Dir string
	// MaxSize bounds the unread bytes kept on disk.
	MaxSize int64
	// CompactRatio is the consumed fraction of the file that triggers a
	// rewrite.
	CompactRatio float64
}

// DefaultConfig stores up to 64 MiB under ~/.siemlite/buffer.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Dir:          filepath.Join(home, ".siemlite", "buffer"),
		MaxSize:      64 << 20,
		CompactRatio: 0.5,
	}
}

// DiskBuffer stores length-prefixed protobuf records in a single file. Reads
// advance a head offset; the file is rewritten once the consumed prefix
// dominates it.
type DiskBuffer struct {
	cfg  Config
	path string

	mu      sync.Mutex
	file    *os.File
	head    int64
	size    int64
	count   int
	dropped int
	closed  bool
}

// Open opens or creates the buffer in cfg.Dir. A torn record at the end of
// the file, left by a crash mid-write, is cut off.
func Open(cfg Config) (*DiskBuffer, error) {
	def := DefaultConfig()
	if cfg.Dir == "" {
		cfg.Dir = def.Dir
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.CompactRatio <= 0 || cfg.CompactRatio >= 1 {
		cfg.CompactRatio = def.CompactRatio
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create buffer dir: %w", err)
	}

	b := &DiskBuffer{cfg: cfg, path: filepath.Join(cfg.Dir, fileName)}
	f, err := os.OpenFile(b.path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open buffer: %w", err)
	}
	b.file = f

	if err := b.recover(); err != nil {
		f.Close()
		return nil, err
	}
	return b, nil
}

func (b *DiskBuffer) recover() error {
	info, err := b.file.Stat()
	if err != nil {
		return fmt.Errorf("stat buffer: %w", err)
	}
	end := info.Size()

	var off int64
	for off+headerSize <= end {
		n, err := b.recordLen(off)
		if err != nil {
			return err
		}
		if off+headerSize+n > end {
			break
		}
		off += headerSize + n
		b.count++
	}
	if off != end {
		if err := b.file.Truncate(off); err != nil {
			return fmt.Errorf("truncate torn record: %w", err)
		}
	}
	b.size = off
	return nil
}

func (b *DiskBuffer) recordLen(off int64) (int64, error) {
	var hdr [headerSize]byte
	if _, err := b.file.ReadAt(hdr[:], off); err != nil {
		return 0, fmt.Errorf("read record header: %w", err)
	}
	return int64(binary.BigEndian.Uint32(hdr[:])), nil
}

// Write appends events.
func (b *DiskBuffer) Write(events []*structpb.Struct) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	for _, ev := range events {
		data, err := proto.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		rec := make([]byte, headerSize+len(data))
		binary.BigEndian.PutUint32(rec, uint32(len(data)))
		copy(rec[headerSize:], data)

		if int64(len(rec)) > b.cfg.MaxSize {
			b.dropped++
			continue
		}
		if b.size-b.head+int64(len(rec)) > b.cfg.MaxSize {
			for b.size-b.head+int64(len(rec)) > b.cfg.MaxSize && b.count > 0 {
				if err := b.dropOldest(); err != nil {
					return err
				}
			}
			if err := b.maybeCompact(); err != nil {
				return err
			}
		}
		if _, err := b.file.WriteAt(rec, b.size); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		b.size += int64(len(rec))
		b.count++
	}
	return b.file.Sync()
}

func (b *DiskBuffer) dropOldest() error {
	n, err := b.recordLen(b.head)
	if err != nil {
		return err
	}
	b.head += headerSize + n
	b.count--
	b.dropped++
	return nil
}

// Read removes and returns up to n events.
func (b *DiskBuffer) Read(n int) ([]*structpb.Struct, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	if b.count == 0 || n <= 0 {
		return nil, nil
	}

	events := make([]*structpb.Struct, 0, min(n, b.count))
	off := b.head
	for len(events) < n && off < b.size {
		size, err := b.recordLen(off)
		if err != nil {
			return nil, err
		}
		data := make([]byte, size)
		if _, err := b.file.ReadAt(data, off+headerSize); err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}
		ev := &structpb.Struct{}
		if err := proto.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		events = append(events, ev)
		off += headerSize + size
	}

	b.head = off
	b.count -= len(events)
	if err := b.maybeCompact(); err != nil {
		return events, err
	}
	return events, nil
}

func (b *DiskBuffer) maybeCompact() error {
	if b.head == 0 {
		return nil
	}
	if b.head == b.size {
		if err := b.file.Truncate(0); err != nil {
			return fmt.Errorf("reset buffer: %w", err)
		}
		b.head, b.size = 0, 0
		return nil
	}
	if float64(b.head)/float64(b.size) < b.cfg.CompactRatio {
		return nil
	}

	tmpPath := b.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create compacted buffer: %w", err)
	}
	remaining := b.size - b.head
	if _, err := io.Copy(tmp, io.NewSectionReader(b.file, b.head, remaining)); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("copy buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync compacted buffer: %w", err)
	}
	if err := os.Rename(tmpPath, b.path); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("replace buffer: %w", err)
	}
	b.file.Close()
	b.file = tmp
	b.head, b.size = 0, remaining
	return nil
}

// Len returns the number of buffered events.
func (b *DiskBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped returns how many events were discarded because the buffer was full.
func (b *DiskBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close syncs and closes the file. The consumed prefix is compacted away
// so a restart sees only unread events.
func (b *DiskBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	if b.head > 0 {
		b.cfg.CompactRatio = 0
		if err := b.maybeCompact(); err != nil {
			b.file.Close()
			return err
		}
	}
	if err := b.file.Sync(); err != nil {
		b.file.Close()
		return err
	}
	return b.file.Close()
}
