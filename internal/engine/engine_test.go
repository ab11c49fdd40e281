package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-dmr/zdmr/internal/bandwidth"
	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/store"
)

type recordingNotifier struct {
	changed chan *model.Download
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{changed: make(chan *model.Download, 256)}
}
func (n *recordingNotifier) DownloadChanged(d *model.Download) {
	select {
	case n.changed <- d:
	default:
	}
}
func (n *recordingNotifier) BytesDelta(string, int64) {}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "zdmr.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEngineDrivesQueuedDownloadToCompleted(t *testing.T) {
	payload := []byte("hello zdmr")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(payload)))
		if r.Method == http.MethodHead {
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	st := openTestStore(t)
	notifier := newRecordingNotifier()
	e := New(st, bandwidth.New(0), "1.0-test", 2, notifier, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	dir := t.TempDir()
	ids, err := e.Add([]string{srv.URL + "/f.bin"}, dir, "", "")
	require.NoError(t, err)
	require.Len(t, ids, 1)

	deadline := time.After(5 * time.Second)
	for {
		d, err := st.GetDownload(ids[0])
		require.NoError(t, err)
		if d.Status == model.StatusCompleted {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("download never completed, last status %s (%s)", d.Status, d.ErrorMessage)
		case <-time.After(50 * time.Millisecond):
		}
	}

	final, err := st.GetDownload(ids[0])
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, final.FinalFilename))
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestPauseIsIdempotentWhenAlreadyPaused(t *testing.T) {
	st := openTestStore(t)
	e := New(st, bandwidth.New(0), "1.0-test", 2, nil, zerolog.Nop())

	now := time.Now().UTC()
	d := &model.Download{ID: "d1", Status: model.StatusPaused, CreatedAt: now, UpdatedAt: now, ContentLength: -1}
	require.NoError(t, st.UpsertDownload(d))

	require.NoError(t, e.Pause("d1"))
	got, err := st.GetDownload("d1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPaused, got.Status)
}

// TestWatchdogStallSchedulesRetryNotSilentHang exercises the path spec.md
// §4.7 describes for a stalled transfer: the watchdog's cancellation must
// be distinguished from a Pause/Delete cancellation and routed into
// scheduleBackoff, not left to strand the Download in DOWNLOADING forever.
func TestWatchdogStallSchedulesRetryNotSilentHang(t *testing.T) {
	st := openTestStore(t)
	e := New(st, bandwidth.New(0), "1.0-test", 2, nil, zerolog.Nop())

	now := time.Now().UTC()
	d := &model.Download{
		ID: "stall-1", OriginalURL: "http://127.0.0.1:1/unreachable", ResolvedURL: "http://127.0.0.1:1/unreachable",
		Status: model.StatusDownloading, ContentLength: -1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.UpsertDownload(d))

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[d.ID] = &runState{cancel: cancel, lastMove: now, stalled: true}
	e.mu.Unlock()
	cancel() // simulate checkStalls having already fired

	e.drive(ctx, d)

	got, err := st.GetDownload(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, model.ErrTimeout, got.ErrorCode)
	assert.NotEqual(t, "", got.RetryMessage, "a stalled attempt must schedule a retry, not hang silently")
}

// TestWatchdogStallEscalatesToTimeoutAfterMaxStalls covers spec.md §8
// Scenario 6: after maxStalls consecutive stalls, the Download ends in
// ERROR with TIMEOUT instead of retrying again.
func TestWatchdogStallEscalatesToTimeoutAfterMaxStalls(t *testing.T) {
	st := openTestStore(t)
	e := New(st, bandwidth.New(0), "1.0-test", 2, nil, zerolog.Nop())

	now := time.Now().UTC()
	d := &model.Download{
		ID: "stall-2", OriginalURL: "http://127.0.0.1:1/unreachable", ResolvedURL: "http://127.0.0.1:1/unreachable",
		Status: model.StatusDownloading, ContentLength: -1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.UpsertDownload(d))

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.running[d.ID] = &runState{cancel: cancel, lastMove: now, stalled: true, stalls: maxStalls - 1}
	e.mu.Unlock()
	cancel()

	e.drive(ctx, d)

	got, err := st.GetDownload(d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Equal(t, model.ErrTimeout, got.ErrorCode)
	assert.Contains(t, got.ErrorMessage, "exhausted")
}

func TestDeleteRemovesDownloadAndTempFile(t *testing.T) {
	st := openTestStore(t)
	e := New(st, bandwidth.New(0), "1.0-test", 2, nil, zerolog.Nop())

	dir := t.TempDir()
	tempPath := filepath.Join(dir, "f.bin.zdmr-part")
	require.NoError(t, os.WriteFile(tempPath, []byte("partial"), 0o644))

	now := time.Now().UTC()
	d := &model.Download{ID: "d2", Status: model.StatusDownloading, TempPath: tempPath, CreatedAt: now, UpdatedAt: now, ContentLength: -1}
	require.NoError(t, st.UpsertDownload(d))

	require.NoError(t, e.Delete("d2"))

	got, err := st.GetDownload("d2")
	require.NoError(t, err)
	assert.Nil(t, got)
	_, statErr := os.Stat(tempPath)
	assert.True(t, os.IsNotExist(statErr))
}
