// Package engine is the Engine/Scheduler (spec.md §4.7): the per-Download
// state machine, the global concurrency cap, the stall watchdog, and
// retry/mirror-fallback policy.
//
// Grounded in danzo's internal/scheduler.Run worker-pool shape (a bounded
// number of workers draining a job queue, reporting through a shared output
// manager) but turned from a run-to-completion batch scheduler into a
// long-lived admission loop over a persistent queue, since spec.md's
// Downloads outlive any one process.
package engine

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/z-dmr/zdmr/internal/bandwidth"
	"github.com/z-dmr/zdmr/internal/fetch"
	"github.com/z-dmr/zdmr/internal/metrics"
	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/store"
)

var backoffSchedule = []time.Duration{
	1 * time.Second, 2 * time.Second, 4 * time.Second,
	8 * time.Second, 16 * time.Second, 30 * time.Second,
}

const (
	stallThreshold  = 15 * time.Second
	maxStalls       = 6
	watchdogTick    = 1 * time.Second
)

// Notifier receives structural/progress events as the Engine drives
// Downloads, consumed by the Progress Bus (spec.md §4.8).
type Notifier interface {
	DownloadChanged(d *model.Download)
	BytesDelta(downloadID string, delta int64)
}

type runState struct {
	cancel    context.CancelFunc
	lastBytes int64
	lastMove  time.Time
	stalls    int
	// stalled is set by checkStalls immediately before it cancels a stuck
	// transfer's context, so drive can tell a watchdog cancellation apart
	// from a Pause/Delete cancellation (both surface as the same
	// context.Canceled from the fetcher) and route it into scheduleBackoff
	// instead of silently leaving the Download in DOWNLOADING.
	stalled bool
}

// Engine owns the queue and the live set of in-flight Downloads.
type Engine struct {
	store    *store.Store
	fetcher  *fetch.Fetcher
	notifier Notifier
	log      zerolog.Logger

	mu         sync.Mutex
	running    map[string]*runState
	queue      []string // FIFO of QUEUED ids awaiting a slot
	sem        chan struct{}
	mirrorUsed map[string]bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(st *store.Store, limiter *bandwidth.Limiter, version string, concurrency int, notifier Notifier, log zerolog.Logger) *Engine {
	e := &Engine{
		store:      st,
		notifier:   notifier,
		log:        log,
		running:    map[string]*runState{},
		sem:        make(chan struct{}, concurrency),
		mirrorUsed: map[string]bool{},
		stopCh:     make(chan struct{}),
	}
	e.fetcher = fetch.New(st, limiter, version, e.onBytes)
	return e
}

// Start launches the admission loop and stall watchdog. Call once at
// daemon boot, after NonTerminalToQueued has reset in-flight rows: every
// QUEUED row already in the store is put on the admission queue, oldest first.
func (e *Engine) Start(ctx context.Context) {
	if downloads, err := e.store.ListDownloads(); err != nil {
		e.log.Error().Err(err).Msg("loading queued downloads")
	} else {
		e.mu.Lock()
		for i := len(downloads) - 1; i >= 0; i-- { // ListDownloads is newest first
			if downloads[i].Status == model.StatusQueued {
				e.queue = append(e.queue, downloads[i].ID)
			}
		}
		e.mu.Unlock()
	}
	e.wg.Add(2)
	go e.admissionLoop(ctx)
	go e.watchdogLoop(ctx)
}

// Stop signals every in-flight fetch to cancel and waits for the
// background loops to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.mu.Lock()
	for _, rs := range e.running {
		rs.cancel()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Add enqueues one Download per URL, optionally under a shared batch, per
// spec.md §4.7's add(urls, dest_dir, batch_opts).
func (e *Engine) Add(urls []string, destDir string, batchID string, forcedProxyURL string) ([]string, error) {
	now := time.Now().UTC()
	var ids []string
	for _, u := range urls {
		d := &model.Download{
			ID:             uuid.NewString(),
			BatchID:        batchID,
			OriginalURL:    u,
			ResolvedURL:    u,
			DestDir:        destDir,
			ForcedProxyURL: forcedProxyURL,
			ContentLength:  -1,
			SupportsRanges: model.RangeUnknown,
			Status:         model.StatusQueued,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.store.UpsertDownload(d); err != nil {
			return nil, fmt.Errorf("enqueueing %s: %w", u, err)
		}
		ids = append(ids, d.ID)
		e.mu.Lock()
		e.queue = append(e.queue, d.ID)
		e.mu.Unlock()
		if e.notifier != nil {
			e.notifier.DownloadChanged(d)
		}
	}
	return ids, nil
}

// Pause cancels the in-flight fetch (if any) and marks the Download
// PAUSED. A no-op if already PAUSED, per spec.md §4.9's idempotence rule.
func (e *Engine) Pause(id string) error {
	d, err := e.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return errNotFound
	}
	if d.Status == model.StatusPaused {
		return nil
	}
	e.mu.Lock()
	if rs, ok := e.running[id]; ok {
		rs.cancel()
	}
	e.mu.Unlock()

	d.Status = model.StatusPaused
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertDownload(d); err != nil {
		return err
	}
	e.notify(d)
	return nil
}

// Resume re-queues a PAUSED Download. No-op if not paused.
func (e *Engine) Resume(id string) error {
	d, err := e.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return errNotFound
	}
	if d.Status != model.StatusPaused {
		return nil
	}
	d.Status = model.StatusQueued
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertDownload(d); err != nil {
		return err
	}
	e.enqueue(id)
	e.notify(d)
	return nil
}

// PauseAll pauses every non-PAUSED Download, mirroring original_source's
// EngineCommand::PauseAll bulk op. Returns the number paused.
func (e *Engine) PauseAll() (int, error) {
	downloads, err := e.store.ListDownloads()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range downloads {
		if d.Status == model.StatusPaused {
			continue
		}
		if err := e.Pause(d.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// ResumeAll re-queues every PAUSED Download, mirroring original_source's
// EngineCommand::ResumeAll bulk op. Returns the number resumed.
func (e *Engine) ResumeAll() (int, error) {
	downloads, err := e.store.ListDownloads()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range downloads {
		if d.Status != model.StatusPaused {
			continue
		}
		if err := e.Resume(d.ID); err == nil {
			n++
		}
	}
	return n, nil
}

// Retry re-queues an ERROR'd Download, clearing retry bookkeeping.
func (e *Engine) Retry(id string) error {
	d, err := e.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return errNotFound
	}
	if d.Status != model.StatusError {
		return nil
	}
	if d.ErrorCode == model.ErrRemoteChanged {
		if err := e.store.DeleteSegments(id); err != nil {
			return err
		}
	}
	d.Status = model.StatusQueued
	d.ErrorCode = ""
	d.ErrorMessage = ""
	d.StallCount = 0
	d.UpdatedAt = time.Now().UTC()
	if err := e.store.UpsertDownload(d); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.mirrorUsed, id)
	e.mu.Unlock()
	e.enqueue(id)
	e.notify(d)
	return nil
}

// Delete cancels any in-flight work, removes the DB rows, and best-effort
// unlinks the temp file.
func (e *Engine) Delete(id string) error {
	d, err := e.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return errNotFound
	}
	e.mu.Lock()
	if rs, ok := e.running[id]; ok {
		rs.cancel()
	}
	e.removeFromQueueLocked(id)
	e.mu.Unlock()

	if d.TempPath != "" {
		removeBestEffort(d.TempPath)
	}
	if err := e.store.DeleteDownload(id); err != nil {
		return err
	}
	if e.notifier != nil {
		e.notifier.DownloadChanged(&model.Download{ID: id, Status: "DELETED"})
	}
	return nil
}

func (e *Engine) enqueue(id string) {
	e.mu.Lock()
	e.queue = append(e.queue, id)
	e.mu.Unlock()
}

func (e *Engine) removeFromQueueLocked(id string) {
	for i, qid := range e.queue {
		if qid == id {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			return
		}
	}
}

func (e *Engine) notify(d *model.Download) {
	if e.notifier != nil {
		e.notifier.DownloadChanged(d)
	}
}

// takeStalled reports and clears whether the watchdog marked id's run as
// stalled, so drive can distinguish a watchdog cancellation from a
// Pause/Delete cancellation and only consume the flag once.
func (e *Engine) takeStalled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rs, ok := e.running[id]
	if !ok || !rs.stalled {
		return false
	}
	rs.stalled = false
	return true
}

func (e *Engine) onBytes(downloadID string, delta int64) {
	e.mu.Lock()
	if rs, ok := e.running[downloadID]; ok {
		rs.lastBytes += delta
		rs.lastMove = time.Now()
		rs.stalls = 0
	}
	e.mu.Unlock()
	metrics.BytesDownloaded.Add(float64(delta))
	if e.notifier != nil {
		e.notifier.BytesDelta(downloadID, delta)
	}
}

var errNotFound = fmt.Errorf("download not found")

func removeBestEffort(path string) {
	_ = os.Remove(path)
}
