package telemetry

import (
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func readEvents(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestRecorderLifecycle(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1700000000000))
	r := NewRecorder(dir, WithClock(clock))

	assert.ErrorIs(t, r.Record("too early"), ErrNotTracking)
	assert.ErrorIs(t, r.StopTracking(), ErrNotTracking)
	assert.Error(t, r.StartTracking(""))

	require.NoError(t, r.StartTracking("ab12cd-Host"))
	name, ok := r.Tracking()
	assert.True(t, ok)
	assert.Equal(t, "ab12cd-Host", name)
	path := r.Path()
	assert.Equal(t, filepath.Join(dir, "ab12cd-Host", "1700000000000-events.csv"), path)

	require.NoError(t, r.Record("anchor located"))
	clock.Advance(time.Second)
	require.NoError(t, r.Record("relocate, dropped"))
	require.NoError(t, r.StopTracking())

	_, ok = r.Tracking()
	assert.False(t, ok)

	rows := readEvents(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"timestamp", "event"}, rows[0])
	assert.Equal(t, "2023-11-14T22:13:20Z", rows[1][0])
	assert.Equal(t, "anchor located", rows[1][1])
	assert.Equal(t, "relocate, dropped", rows[2][1])
}

func TestRecorderRestart(t *testing.T) {
	dir := t.TempDir()
	clock := clockwork.NewFakeClock()
	r := NewRecorder(dir, WithClock(clock))

	require.NoError(t, r.StartTracking("first"))
	first := r.Path()
	clock.Advance(time.Millisecond)
	require.NoError(t, r.StartTracking("second"))
	defer r.StopTracking()

	name, _ := r.Tracking()
	assert.Equal(t, "second", name)
	assert.NotEqual(t, first, r.Path())
	assert.Len(t, readEvents(t, first), 1)
}

type flakyWriter struct {
	mu   sync.Mutex
	fail bool
	data []byte
}

func (w *flakyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return 0, errors.New("disk full")
	}
	w.data = append(w.data, p...)
	return len(p), nil
}

func (w *flakyWriter) Close() error { return nil }

func (w *flakyWriter) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

// TestRecorderSkipsFailedWrites checks that a failed write drops only that
// event.
func TestRecorderSkipsFailedWrites(t *testing.T) {
	out := &flakyWriter{}
	core, logs := observer.New(zap.DebugLevel)
	r := NewRecorder("unused", WithLogger(zap.New(core)), withOpener(func(string) (io.WriteCloser, error) {
		return out, nil
	}))
	require.NoError(t, r.StartTracking("s"))

	out.setFail(true)
	assert.Error(t, r.Record("lost"))
	assert.Equal(t, 1, logs.FilterMessage("failed to record event").Len())

	out.setFail(false)
	require.NoError(t, r.Record("kept"))
	_, ok := r.Tracking()
	assert.True(t, ok)
	assert.Contains(t, string(out.data), "kept")
	assert.NotContains(t, string(out.data), "lost")
}

func TestRecorderOpenFailure(t *testing.T) {
	r := NewRecorder("unused", withOpener(func(string) (io.WriteCloser, error) {
		return nil, errors.New("read-only")
	}))
	assert.Error(t, r.StartTracking("s"))
	_, ok := r.Tracking()
	assert.False(t, ok)
}

// TestCoreTeesLogLines logs through a tee of an observer and the recorder
// core and checks level prefixes and field rendering.
func TestCoreTeesLogLines(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir)
	obs, logs := observer.New(zap.DebugLevel)
	logger := zap.New(zapcore.NewTee(obs, r.Core(zap.InfoLevel)))

	logger.Info("before tracking")
	require.NoError(t, r.StartTracking("ab12cd-Client"))
	path := r.Path()

	logger.Debug("too verbose")
	logger.With(zap.Uint64("peer", 2)).Info("anchor resolved", zap.String("anchor", "A1"))
	logger.Warn("location unsuccessful")
	logger.Error("giving up")
	require.NoError(t, logger.Sync())
	require.NoError(t, r.StopTracking())

	assert.Equal(t, 5, logs.Len())
	rows := readEvents(t, path)
	require.Len(t, rows, 4)
	assert.Equal(t, "anchor resolved anchor=A1 peer=2", rows[1][1])
	assert.Equal(t, "Warning: location unsuccessful", rows[2][1])
	assert.Equal(t, "Error: giving up", rows[3][1])
}
