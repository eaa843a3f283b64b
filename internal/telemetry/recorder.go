// Package telemetry records session events on the device to a CSV file.
//
// Tracking starts once the session is ready and is named after the session
// user id and the peer role. While tracking, a Recorder can be teed into the
// process logger through Core so that log lines land in the event file as
// well.
package telemetry

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ErrNotTracking is returned by StopTracking when no file is open.
var ErrNotTracking = errors.New("telemetry tracking not started")

var header = []string{"timestamp", "event"}

// Opt configures a Recorder.
type Opt func(*Recorder)

// WithLogger sets the logger reporting on the recorder itself. It must not
// be teed into the recorder's own Core.
func WithLogger(logger *zap.Logger) Opt {
	return func(r *Recorder) {
		r.log = logger
	}
}

// WithClock sets the clock used for file names and row timestamps.
func WithClock(clock clockwork.Clock) Opt {
	return func(r *Recorder) {
		r.clock = clock
	}
}

func withOpener(open func(path string) (io.WriteCloser, error)) Opt {
	return func(r *Recorder) {
		r.open = open
	}
}

// Recorder appends timestamped events to one CSV file per tracking run,
// stored as <dir>/<name>/<unix ms>-events.csv.
type Recorder struct {
	mu   sync.Mutex
	name string
	path string
	out  io.WriteCloser
	w    *csv.Writer

	dir   string
	open  func(path string) (io.WriteCloser, error)
	clock clockwork.Clock
	log   *zap.Logger
}

// NewRecorder returns a recorder writing one CSV file per tracking run into dir.
func NewRecorder(dir string, opts ...Opt) *Recorder {
	r := &Recorder{
		dir:   dir,
		open:  createFile,
		clock: clockwork.NewRealClock(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func createFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

// StartTracking opens a new event file for name. A run already in progress
// is stopped first.
func (r *Recorder) StartTracking(name string) error {
	if name == "" {
		return errors.New("tracking name required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out != nil {
		r.log.Info("restarting telemetry tracking", zap.String("previous", r.name), zap.String("name", name))
		if err := r.closeLocked(); err != nil {
			r.log.Warn("failed to close previous event file", zap.Error(err))
		}
	}

	stamp := strconv.FormatInt(r.clock.Now().UnixMilli(), 10)
	path := filepath.Join(r.dir, name, stamp+"-events.csv")
	out, err := r.open(path)
	if err != nil {
		return fmt.Errorf("open event file: %w", err)
	}
	w := csv.NewWriter(out)
	if err := w.Write(header); err == nil {
		w.Flush()
	}
	if err := w.Error(); err != nil {
		out.Close()
		return fmt.Errorf("write event header: %w", err)
	}

	r.name, r.path, r.out, r.w = name, path, out, w
	r.log.Info("telemetry tracking started", zap.String("name", name), zap.String("path", path))
	return nil
}

// Record appends one event. A failed write drops the event; tracking goes
// on.
func (r *Recorder) Record(event string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrNotTracking
	}
	ts := r.clock.Now().UTC().Format(time.RFC3339Nano)
	err := r.w.Write([]string{ts, event})
	if err == nil {
		r.w.Flush()
		err = r.w.Error()
	}
	if err != nil {
		// The csv writer keeps its first error; start over on the same file.
		r.w = csv.NewWriter(r.out)
		r.log.Warn("failed to record event", zap.Error(err))
		return err
	}
	return nil
}

// StopTracking flushes and closes the current file.
func (r *Recorder) StopTracking() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.out == nil {
		return ErrNotTracking
	}
	name := r.name
	err := r.closeLocked()
	r.log.Info("telemetry tracking stopped", zap.String("name", name))
	return err
}

// Tracking returns the name of the current run.
func (r *Recorder) Tracking() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.name, r.out != nil
}

// Path returns the file of the current run.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

func (r *Recorder) flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	r.w.Flush()
	return r.w.Error()
}

func (r *Recorder) closeLocked() error {
	r.w.Flush()
	werr := r.w.Error()
	cerr := r.out.Close()
	r.name, r.path, r.out, r.w = "", "", nil, nil
	if werr != nil {
		return werr
	}
	return cerr
}
