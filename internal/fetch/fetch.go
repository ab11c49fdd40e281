// Package fetch is the Segmented Fetcher (spec.md §4.6): probes an origin,
// plans byte-range segments, downloads them in parallel with resume
// support, and atomically publishes the finished file.
//
// Grounded in danzo's internal/downloaders/http package (initial.go's
// getFileInfo probe, multi-chunk-handlers.go's per-chunk retry loop,
// simple-downloader.go's single-stream path), generalized from danzo's
// part-file-per-chunk scheme to sparse WriteAt segments (spec.md §4.6 step
// 5's recommended approach) and driven by golang.org/x/sync/errgroup
// instead of a raw sync.WaitGroup + channel, the pattern
// italolelis-seedbox_downloader uses for its own fan-out (internal/
// downloader package).
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/z-dmr/zdmr/internal/bandwidth"
	"github.com/z-dmr/zdmr/internal/filename"
	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/rules"
	"github.com/z-dmr/zdmr/internal/transport"
)

const (
	minRangeSize     = 2 * 1024 * 1024  // 2 MiB, spec.md §4.6 step 3
	segmentUnit      = 4 * 1024 * 1024  // 4 MiB per segment
	maxSegments      = 8
	readBufferSize   = 256 * 1024
	checkpointPeriod = 500 * time.Millisecond
)

// Store is the subset of *store.Store the fetcher needs. Declared locally
// to keep this package's dependency surface to what it actually calls,
// per spec.md §5's "no business logic runs inside a transaction" — the
// fetcher only ever calls whole-operation store methods.
type Store interface {
	ReplaceSegmentPlan(downloadID string, segments []model.Segment) error
	CheckpointSegments(downloadID string, segments []model.Segment) error
	ListSegments(downloadID string) ([]model.Segment, error)
	DeleteSegments(downloadID string) error
	UpdateProgress(id string, bytesDownloaded int64, updatedAt time.Time) error
	UpsertDownload(d *model.Download) error
}

// ProgressFunc reports a byte delta for a Download as it streams in,
// consumed by the Progress Bus's per-Download counter (spec.md §4.8).
type ProgressFunc func(downloadID string, delta int64)

// Fetcher drives one transfer at a time to completion or error.
type Fetcher struct {
	store     Store
	limiter   *bandwidth.Limiter
	transport *transport.Factory
	version   string
	onProgress ProgressFunc
}

func New(store Store, limiter *bandwidth.Limiter, version string, onProgress ProgressFunc) *Fetcher {
	return &Fetcher{
		store:      store,
		limiter:    limiter,
		transport:  transport.New(),
		version:    version,
		onProgress: onProgress,
	}
}

// Fetch drives d to COMPLETED or returns a classified *model.FetchError.
// Cancellation (pause/delete/stall) is delivered via ctx per spec.md §5.
func (f *Fetcher) Fetch(ctx context.Context, d *model.Download, snap rules.Snapshot) error {
	proxyURL := snap.ResolveProxy(d.ResolvedURL, d.ForcedProxyURL)
	headers := snap.ResolveHeaders(d.ResolvedURL)

	probe, err := f.probe(ctx, d.ResolvedURL, proxyURL, headers)
	if err != nil {
		return err
	}

	if probe.etag != "" || probe.lastModified != "" {
		if existing, lerr := f.store.ListSegments(d.ID); lerr == nil && len(existing) > 0 {
			if (d.ETag != "" && probe.etag != d.ETag) || (d.LastModified != "" && probe.lastModified != d.LastModified) {
				return model.NewFetchError(model.ErrRemoteChanged, "resume validator mismatch", nil)
			}
		}
	}
	d.ETag = probe.etag
	d.LastModified = probe.lastModified
	d.ContentLength = probe.contentLength
	if probe.rangesSupported {
		d.SupportsRanges = model.RangeYes
	} else {
		d.SupportsRanges = model.RangeNo
	}

	if d.FinalFilename == "" {
		name := filename.Resolve(probe.contentDisposition, d.ResolvedURL, probe.contentType)
		finalName, tempPath, rerr := filename.Reserve(d.DestDir, name, filename.CollisionRename)
		if rerr != nil {
			return model.NewFetchError(model.ErrPermissionDenied, "reserving destination file", rerr)
		}
		d.FinalFilename = finalName
		d.TempPath = tempPath
		if err := f.store.UpsertDownload(d); err != nil {
			return model.NewFetchError(model.ErrUnknown, "persisting resolved filename", err)
		}
	}

	segments, err := f.plan(d)
	if err != nil {
		return err
	}

	highThreadMode := len(segments) > 5
	client, err := f.transport.Build(transport.Config{
		ProxyURL:       proxyURL,
		Version:        f.version,
		HighThreadMode: highThreadMode,
	})
	if err != nil {
		return model.NewFetchError(model.ErrConnectFail, "building transport", err)
	}

	file, err := os.OpenFile(d.TempPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return model.NewFetchError(model.ErrPermissionDenied, "opening temp file", err)
	}
	defer file.Close()

	if err := f.runSegments(ctx, d, segments, file, client, headers); err != nil {
		if fe := model.AsFetchError(err); fe.Code == model.ErrRangeUnsupported {
			return f.downgradeAndRestart(ctx, d, client, headers, file)
		}
		return err
	}

	return f.merge(d, file, segments)
}

type probeResult struct {
	contentLength      int64
	etag               string
	lastModified       string
	rangesSupported    bool
	contentDisposition string
	contentType        string
}

// probe issues HEAD (falling back to a ranged GET of the first byte if HEAD
// is refused), per spec.md §4.6 step 1.
func (f *Fetcher) probe(ctx context.Context, url, proxyURL string, headers map[string]string) (*probeResult, error) {
	client, err := f.transport.Build(transport.Config{ProxyURL: proxyURL, Version: f.version})
	if err != nil {
		return nil, model.NewFetchError(model.ErrConnectFail, "building probe transport", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, model.NewFetchError(model.ErrInvalidURL, "malformed URL", err)
	}
	transport.ApplyHeaders(req, headers, f.version)

	resp, err := client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return probeFromHeaders(resp.Header, resp.StatusCode), nil
		}
	}

	// HEAD refused or errored: fall back to a ranged GET of byte 0.
	req2, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, model.NewFetchError(model.ErrInvalidURL, "malformed URL", err)
	}
	transport.ApplyHeaders(req2, headers, f.version)
	req2.Header.Set("Range", "bytes=0-0")

	resp2, err := client.Do(req2)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp2.Body.Close()
	io.Copy(io.Discard, resp2.Body)

	if resp2.StatusCode >= 400 {
		return nil, classifyStatus(resp2.StatusCode)
	}
	return probeFromHeaders(resp2.Header, resp2.StatusCode), nil
}

func probeFromHeaders(h http.Header, status int) *probeResult {
	pr := &probeResult{
		contentLength:      -1,
		etag:               h.Get("ETag"),
		lastModified:       h.Get("Last-Modified"),
		contentDisposition: h.Get("Content-Disposition"),
		contentType:        h.Get("Content-Type"),
		rangesSupported:    h.Get("Accept-Ranges") == "bytes" || status == http.StatusPartialContent,
	}
	if cr := h.Get("Content-Range"); cr != "" {
		var total int64
		if _, err := fmt.Sscanf(cr, "bytes 0-0/%d", &total); err == nil {
			pr.contentLength = total
		}
	}
	if pr.contentLength < 0 {
		if cl := h.Get("Content-Length"); cl != "" {
			var n int64
			if _, err := fmt.Sscanf(cl, "%d", &n); err == nil && status != http.StatusPartialContent {
				pr.contentLength = n
			}
		}
	}
	return pr
}

// plan implements spec.md §4.6 step 3.
func (f *Fetcher) plan(d *model.Download) ([]model.Segment, error) {
	if existing, err := f.store.ListSegments(d.ID); err == nil && len(existing) > 0 {
		return existing, nil
	}

	var segments []model.Segment
	if d.SupportsRanges == model.RangeYes && d.HasKnownLength() && d.ContentLength >= minRangeSize {
		k := int((d.ContentLength + segmentUnit - 1) / segmentUnit)
		if k > maxSegments {
			k = maxSegments
		}
		if k < 1 {
			k = 1
		}
		size := d.ContentLength / int64(k)
		var start int64
		for i := 0; i < k; i++ {
			end := start + size
			if i == k-1 {
				end = d.ContentLength
			}
			segments = append(segments, model.Segment{DownloadID: d.ID, Ordinal: i, Start: start, EndExclusive: end})
			start = end
		}
	} else if d.HasKnownLength() {
		segments = []model.Segment{{DownloadID: d.ID, Ordinal: 0, Start: 0, EndExclusive: d.ContentLength}}
	} else {
		segments = []model.Segment{{DownloadID: d.ID, Ordinal: 0, Start: 0, EndExclusive: -1}}
	}

	if err := f.store.ReplaceSegmentPlan(d.ID, segments); err != nil {
		return nil, model.NewFetchError(model.ErrUnknown, "persisting segment plan", err)
	}
	return segments, nil
}

// runSegments fans out one task per segment via errgroup, per spec.md §4.6
// step 4, checkpointing progress at most once per checkpointPeriod.
func (f *Fetcher) runSegments(ctx context.Context, d *model.Download, segments []model.Segment, file *os.File, client *http.Client, headers map[string]string) error {
	var mu sync.Mutex
	var totalDownloaded int64
	lastCheckpoint := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for i := range segments {
		seg := &segments[i]
		atomic.AddInt64(&totalDownloaded, seg.BytesWritten)
		if seg.Done {
			continue
		}
		g.Go(func() error {
			return f.fetchSegment(gctx, d, seg, file, client, headers, func(n int64) {
				atomic.AddInt64(&totalDownloaded, n)
				if f.onProgress != nil {
					f.onProgress(d.ID, n)
				}
				mu.Lock()
				if time.Since(lastCheckpoint) >= checkpointPeriod {
					f.store.CheckpointSegments(d.ID, segments)
					f.store.UpdateProgress(d.ID, atomic.LoadInt64(&totalDownloaded), time.Now())
					lastCheckpoint = time.Now()
				}
				mu.Unlock()
			})
		})
	}

	err := g.Wait()
	f.store.CheckpointSegments(d.ID, segments)
	f.store.UpdateProgress(d.ID, atomic.LoadInt64(&totalDownloaded), time.Now())
	return err
}

func (f *Fetcher) fetchSegment(ctx context.Context, d *model.Download, seg *model.Segment, file *os.File, client *http.Client, headers map[string]string, onBytes func(int64)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.ResolvedURL, nil)
	if err != nil {
		return model.NewFetchError(model.ErrInvalidURL, "malformed URL", err)
	}
	transport.ApplyHeaders(req, headers, f.version)

	start := seg.Start + seg.BytesWritten
	if d.SupportsRanges == model.RangeYes && seg.EndExclusive >= 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, seg.EndExclusive-1))
	} else if start > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", start))
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	wantPartial := req.Header.Get("Range") != ""
	if wantPartial && resp.StatusCode == http.StatusOK {
		return model.NewFetchError(model.ErrRangeUnsupported, "server ignored Range header", nil)
	}
	if resp.StatusCode >= 400 {
		return classifyStatus(resp.StatusCode)
	}

	body := io.ReadCloser(resp.Body)
	if resp.ContentLength != 0 {
		body = transport.NewWatchdogReader(resp.Body, transport.IdleReadTimeout())
	}

	buf := make([]byte, readBufferSize)
	offset := start
	for {
		select {
		case <-ctx.Done():
			return model.NewFetchError(model.ErrCancelled, "cancelled", ctx.Err())
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			f.limiter.Acquire(n)
			if _, werr := file.WriteAt(buf[:n], offset); werr != nil {
				return model.NewFetchError(model.ErrDiskFull, "writing segment", werr)
			}
			offset += int64(n)
			seg.BytesWritten += int64(n)
			onBytes(int64(n))
		}
		if rerr != nil {
			if rerr == io.EOF {
				break
			}
			return classifyTransportErr(rerr)
		}
	}
	seg.Done = true
	return nil
}

// downgradeAndRestart implements spec.md §4.6's single-stream downgrade:
// discard the plan, collapse to one segment, restart from offset 0.
func (f *Fetcher) downgradeAndRestart(ctx context.Context, d *model.Download, client *http.Client, headers map[string]string, file *os.File) error {
	if err := f.store.DeleteSegments(d.ID); err != nil {
		return model.NewFetchError(model.ErrUnknown, "clearing segment plan on downgrade", err)
	}
	d.SupportsRanges = model.RangeNo
	segments := []model.Segment{{DownloadID: d.ID, Ordinal: 0, Start: 0, EndExclusive: d.ContentLength}}
	if !d.HasKnownLength() {
		segments[0].EndExclusive = -1
	}
	if err := f.store.ReplaceSegmentPlan(d.ID, segments); err != nil {
		return model.NewFetchError(model.ErrUnknown, "persisting downgraded plan", err)
	}
	if err := file.Truncate(0); err != nil {
		return model.NewFetchError(model.ErrDiskFull, "truncating for downgrade", err)
	}
	if err := f.runSegments(ctx, d, segments, file, client, headers); err != nil {
		return err
	}
	return f.merge(d, file, segments)
}

// merge implements spec.md §4.6 step 5: sparse writes already leave the
// file complete, so merge only truncates to the known length and renames.
func (f *Fetcher) merge(d *model.Download, file *os.File, segments []model.Segment) error {
	if d.HasKnownLength() {
		if err := file.Truncate(d.ContentLength); err != nil {
			return model.NewFetchError(model.ErrDiskFull, "truncating final file", err)
		}
	}
	if err := file.Sync(); err != nil {
		return model.NewFetchError(model.ErrDiskFull, "syncing final file", err)
	}
	if err := file.Close(); err != nil {
		return model.NewFetchError(model.ErrDiskFull, "closing final file", err)
	}

	finalPath := d.TempPath[:len(d.TempPath)-len(".zdmr-part")]
	if err := os.Rename(d.TempPath, finalPath); err != nil {
		return model.NewFetchError(model.ErrDiskFull, "renaming to final path", err)
	}
	return nil
}
