package fetch

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-dmr/zdmr/internal/bandwidth"
	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/rules"
)

// memStore is a minimal in-memory Store for exercising the fetcher without
// the sqlite-backed store.Store, the same shape seedbox_downloader's test
// suite uses for its in-memory job repository.
type memStore struct {
	mu       sync.Mutex
	segments map[string][]model.Segment
	bytes    map[string]int64
}

func newMemStore() *memStore {
	return &memStore{segments: map[string][]model.Segment{}, bytes: map[string]int64{}}
}

func (m *memStore) ReplaceSegmentPlan(id string, segs []model.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]model.Segment(nil), segs...)
	m.segments[id] = cp
	return nil
}
func (m *memStore) CheckpointSegments(id string, segs []model.Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]model.Segment(nil), segs...)
	m.segments[id] = cp
	return nil
}
func (m *memStore) ListSegments(id string) ([]model.Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Segment(nil), m.segments[id]...), nil
}
func (m *memStore) DeleteSegments(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.segments, id)
	return nil
}
func (m *memStore) UpdateProgress(id string, bytes int64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[id] = bytes
	return nil
}
func (m *memStore) UpsertDownload(d *model.Download) error { return nil }

func newDownload(id, url, dir string) *model.Download {
	return &model.Download{
		ID:            id,
		OriginalURL:   url,
		ResolvedURL:   url,
		DestDir:       dir,
		ContentLength: -1,
	}
}

func TestFetchHappyPathWithRanges(t *testing.T) {
	const size = 10 * 1024 * 1024
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.ServeContent(w, r, "file.bin", time.Time{}, bytes.NewReader(payload))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("d1", srv.URL+"/file.bin", dir)

	store := newMemStore()
	limiter := bandwidth.New(0)
	var mu sync.Mutex
	var totalProgress int64
	f := New(store, limiter, "1.0-test", func(_ string, delta int64) {
		mu.Lock()
		totalProgress += delta
		mu.Unlock()
	})

	err := f.Fetch(context.Background(), d, rules.Snapshot{})
	require.NoError(t, err)

	assert.Equal(t, model.RangeYes, d.SupportsRanges)
	assert.Equal(t, int64(size), d.ContentLength)

	finalPath := filepath.Join(dir, d.FinalFilename)
	info, err := os.Stat(finalPath)
	require.NoError(t, err)
	assert.Equal(t, int64(size), info.Size())

	content, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.Equal(t, payload, content)

	mu.Lock()
	assert.Equal(t, int64(size), totalProgress)
	mu.Unlock()
}

func TestFetchDowngradesWhenRangeIgnored(t *testing.T) {
	const size = 3 * 1024 * 1024
	payload := make([]byte, size)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", fmt.Sprintf("%d", size))
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		// Server advertises ranges but ignores the Range header: always 200.
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("d2", srv.URL+"/file.bin", dir)

	store := newMemStore()
	limiter := bandwidth.New(0)
	f := New(store, limiter, "1.0-test", nil)

	err := f.Fetch(context.Background(), d, rules.Snapshot{})
	require.NoError(t, err)
	assert.Equal(t, model.RangeNo, d.SupportsRanges)

	finalPath := filepath.Join(dir, d.FinalFilename)
	info, err := os.Stat(finalPath)
	require.NoError(t, err)
	assert.Equal(t, int64(size), info.Size())
}

func TestFetchDetectsRemoteChangedOnResume(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v2"`)
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "1024")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newDownload("d3", srv.URL+"/file.bin", dir)
	d.ETag = `"v1"`

	store := newMemStore()
	store.segments["d3"] = []model.Segment{{DownloadID: "d3", Ordinal: 0, Start: 0, EndExclusive: 512, BytesWritten: 256}}

	f := New(store, bandwidth.New(0), "1.0-test", nil)
	err := f.Fetch(context.Background(), d, rules.Snapshot{})
	require.Error(t, err)
	fe := model.AsFetchError(err)
	assert.Equal(t, model.ErrRemoteChanged, fe.Code)
}
