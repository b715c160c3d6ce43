// Package tailer follows a log file across appends, truncation and rotation.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Line is one complete line read from the file.
type Line struct {
	Text string
	Path string
	// Offset is the byte offset just past the line in the current file.
	Offset int64
	Err    error
}

// Options configures a Tailer.
type Options struct {
	// Follow keeps watching for new lines after the current end of file.
	Follow bool
	// FromEnd skips content present when the tailer starts.
	FromEnd bool
	// MustExist fails NewTailer when the file is missing. Otherwise the
	// tailer waits for it to appear.
	MustExist bool
	// PollInterval is the fallback check interval for filesystems where
	// change events are unreliable.
	PollInterval time.Duration
}

// DefaultOptions follows the file from its current end.
func DefaultOptions() Options {
	return Options{
		Follow:       true,
		FromEnd:      true,
		MustExist:    true,
		PollInterval: 250 * time.Millisecond,
	}
}

// Tailer emits lines appended to a single file. The directory is watched so
// that rename-and-recreate rotation is detected.
type Tailer struct {
	path    string
	opts    Options
	watcher *fsnotify.Watcher

	file    *os.File
	info    os.FileInfo
	reader  *bufio.Reader
	partial string
	offset  int64

	lines chan Line
	stop  chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewTailer creates a tailer for path.
func NewTailer(path string, opts Options) (*Tailer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}

	t := &Tailer{
		path:  absPath,
		opts:  opts,
		lines: make(chan Line, 256),
		stop:  make(chan struct{}),
	}

	if err := t.open(); err != nil {
		if !errors.Is(err, os.ErrNotExist) || opts.MustExist {
			return nil, err
		}
	}
	if t.file != nil && opts.FromEnd {
		if t.offset, err = t.file.Seek(0, io.SeekEnd); err != nil {
			t.file.Close()
			return nil, fmt.Errorf("seek %s: %w", absPath, err)
		}
		t.reader.Reset(t.file)
	}

	if opts.Follow {
		if t.watcher, err = fsnotify.NewWatcher(); err != nil {
			t.closeFile()
			return nil, fmt.Errorf("create watcher: %w", err)
		}
	}
	return t, nil
}

// Path returns the absolute path being tailed.
func (t *Tailer) Path() string {
	return t.path
}

// Lines returns the line channel. It is closed when the tailer stops, or
// after the existing content is read when Follow is false.
func (t *Tailer) Lines() <-chan Line {
	return t.lines
}

// Start begins reading in a new goroutine.
func (t *Tailer) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started || t.stopped {
		return errors.New("tailer already started or stopped")
	}
	if t.watcher != nil {
		if err := t.watcher.Add(filepath.Dir(t.path)); err != nil {
			return fmt.Errorf("watch %s: %w", filepath.Dir(t.path), err)
		}
	}
	t.started = true
	go t.run(ctx)
	return nil
}

// Stop stops the tailer and releases the file.
func (t *Tailer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	close(t.stop)
	if !t.started {
		t.release()
	}
}

func (t *Tailer) release() {
	if t.watcher != nil {
		t.watcher.Close()
	}
	t.closeFile()
}

func (t *Tailer) run(ctx context.Context) {
	defer close(t.lines)
	defer t.release()

	t.readLines()
	if !t.opts.Follow {
		return
	}

	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if ev.Has(fsnotify.Write) && t.file != nil {
				t.readLines()
				continue
			}
			t.check()
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			t.send(Line{Path: t.path, Err: fmt.Errorf("watcher: %w", err)})
		case <-ticker.C:
			t.check()
		}
	}
}

// check compares the open file with the one at path and handles creation,
// rotation, truncation and missed writes.
func (t *Tailer) check() {
	info, err := os.Stat(t.path)
	if err != nil {
		// Removed; wait for the next file to appear.
		return
	}

	switch {
	case t.file == nil:
		t.reopen()
	case !os.SameFile(info, t.info):
		// Rotated: drain what was written to the old file first.
		t.readLines()
		t.reopen()
	case info.Size() < t.offset:
		t.truncated()
	case info.Size() > t.offset:
		t.readLines()
	}
}

func (t *Tailer) reopen() {
	t.closeFile()
	if err := t.open(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.send(Line{Path: t.path, Err: err})
		}
		return
	}
	t.readLines()
}

func (t *Tailer) truncated() {
	if _, err := t.file.Seek(0, io.SeekStart); err != nil {
		t.send(Line{Path: t.path, Err: fmt.Errorf("seek %s: %w", t.path, err)})
		return
	}
	t.reader.Reset(t.file)
	t.offset = 0
	t.partial = ""
	t.readLines()
}

func (t *Tailer) open() error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", t.path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat %s: %w", t.path, err)
	}
	t.file = f
	t.info = info
	t.reader = bufio.NewReader(f)
	t.offset = 0
	t.partial = ""
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

// readLines emits every complete line up to the end of file. A trailing
// line without newline is held until the rest of it arrives.
func (t *Tailer) readLines() {
	if t.reader == nil || t.file == nil {
		return
	}
	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))
		if err != nil {
			t.partial += chunk
			if !errors.Is(err, io.EOF) {
				t.send(Line{Path: t.path, Err: fmt.Errorf("read %s: %w", t.path, err)})
			}
			return
		}

		text := t.partial + chunk[:len(chunk)-1]
		t.partial = ""
		if n := len(text); n > 0 && text[n-1] == '\r' {
			text = text[:n-1]
		}
		if !t.send(Line{Text: text, Path: t.path, Offset: t.offset}) {
			return
		}
	}
}

func (t *Tailer) send(line Line) bool {
	select {
	case t.lines <- line:
		return true
	case <-t.stop:
		return false
	}
}
