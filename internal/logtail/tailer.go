package logtail

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// State is the tailer's position in its follow loop.
type State int32

const (
	StateStopped State = iota
	StateWaitingForFile
	StateTailing
	StateErrorBackoff
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateWaitingForFile:
		return "waiting"
	case StateTailing:
		return "tailing"
	case StateErrorBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	DefaultFileWait     = 2 * time.Second
	DefaultIdleWait     = 200 * time.Millisecond
	DefaultErrorBackoff = 1 * time.Second
)

// Options configures a Tailer. Zero durations fall back to the defaults.
type Options struct {
	Dir          string
	FileWait     time.Duration
	IdleWait     time.Duration
	ErrorBackoff time.Duration
	Now          func() time.Time
}

// PathFor returns the gateway log file for the local calendar day of t.
func PathFor(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("openclaw-%s.log", t.Format("2006-01-02")))
}

// Tailer follows the current day's log file on its own goroutine and pushes
// parsed events into a Queue.
type Tailer struct {
	opts  Options
	queue *Queue
	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// resume point for reopening the same file after an error
	lastPath   string
	lastOffset int64
}

func NewTailer(q *Queue, opts Options) *Tailer {
	if opts.FileWait <= 0 {
		opts.FileWait = DefaultFileWait
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = DefaultIdleWait
	}
	if opts.ErrorBackoff <= 0 {
		opts.ErrorBackoff = DefaultErrorBackoff
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Tailer{opts: opts, queue: q}
}

// Start launches the follow loop. Calling Start on a running tailer is a no-op.
func (t *Tailer) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		defer t.state.Store(int32(StateStopped))
		t.run(ctx)
	}(t.done)
}

// Stop signals the loop and waits for it to exit.
func (t *Tailer) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *Tailer) State() State { return State(t.state.Load()) }

func (t *Tailer) currentPath() string {
	return PathFor(t.opts.Dir, t.opts.Now())
}

func (t *Tailer) run(ctx context.Context) {
	// Only the file that already exists at startup is followed from its end.
	// Files that appear later (new day, late gateway start) are read whole.
	fromStart := false
	for ctx.Err() == nil {
		path := t.currentPath()
		f, err := os.Open(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				t.state.Store(int32(StateWaitingForFile))
				fromStart = true
				if !sleepCtx(ctx, t.opts.FileWait) {
					return
				}
				continue
			}
			t.backoff(ctx, path, err)
			continue
		}

		rolled, err := t.follow(ctx, f, path, fromStart)
		_ = f.Close()
		if err != nil {
			t.backoff(ctx, path, err)
			continue
		}
		if rolled {
			fromStart = true
		}
	}
}

func (t *Tailer) backoff(ctx context.Context, path string, err error) {
	t.state.Store(int32(StateErrorBackoff))
	log.Debug().Err(err).Str("path", path).Msg("log tailer backing off")
	sleepCtx(ctx, t.opts.ErrorBackoff)
}

// follow reads lines from f until the stop signal, an I/O error, or the day's
// path moving on. It reports rolled=true in the last case.
func (t *Tailer) follow(ctx context.Context, f *os.File, path string, fromStart bool) (rolled bool, err error) {
	var pos int64
	switch {
	case path == t.lastPath:
		st, err := f.Stat()
		if err != nil {
			return false, err
		}
		pos = min(t.lastOffset, st.Size())
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return false, err
		}
	case fromStart:
		pos = 0
	default:
		if pos, err = f.Seek(0, io.SeekEnd); err != nil {
			return false, err
		}
	}
	t.lastPath = path
	t.lastOffset = pos
	t.state.Store(int32(StateTailing))

	reader := bufio.NewReader(f)
	pending := ""
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			pos += int64(len(line))
			if line[len(line)-1] != '\n' {
				pending += line
			} else {
				full := pending + line
				pending = ""
				t.lastOffset = pos
				if ev, ok := ParseLine(full); ok {
					t.queue.Push(ev)
				}
				continue
			}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			return false, err
		}

		if t.currentPath() != path {
			return true, nil
		}
		st, err := f.Stat()
		if err != nil {
			return false, err
		}
		if st.Size() < pos {
			// truncated in place
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				return false, err
			}
			reader.Reset(f)
			pos, pending = 0, ""
			t.lastOffset = 0
		}
		if !sleepCtx(ctx, t.opts.IdleWait) {
			return false, nil
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
