package engine

import (
	"context"
	"net/url"
	"time"

	"github.com/z-dmr/zdmr/internal/metrics"
	"github.com/z-dmr/zdmr/internal/model"
	"github.com/z-dmr/zdmr/internal/rules"
)

// admissionLoop picks the oldest QUEUED id FIFO whenever a slot is free,
// per spec.md §4.7.
func (e *Engine) admissionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.admitOne(ctx)
		}
	}
}

func (e *Engine) admitOne(ctx context.Context) {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	select {
	case e.sem <- struct{}{}:
	default:
		e.mu.Unlock()
		return
	}
	id := e.queue[0]
	e.queue = e.queue[1:]
	e.mu.Unlock()

	d, err := e.store.GetDownload(id)
	if err != nil || d == nil || d.Status != model.StatusQueued {
		<-e.sem
		return
	}

	dctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.running[id] = &runState{cancel: cancel, lastMove: time.Now()}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			<-e.sem
			e.mu.Lock()
			delete(e.running, id)
			e.mu.Unlock()
		}()
		e.drive(dctx, d)
	}()
}

// drive runs one fetch attempt and applies spec.md §4.7's retry/mirror/
// error policy to the outcome.
func (e *Engine) drive(ctx context.Context, d *model.Download) {
	now := time.Now().UTC()
	d.Status = model.StatusDownloading
	if d.StartedAt == nil {
		d.StartedAt = &now
	}
	d.UpdatedAt = now
	e.store.UpsertDownload(d)
	e.notify(d)
	metrics.DownloadsStarted.Inc()
	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	snap := e.snapshot()
	err := e.fetcher.Fetch(ctx, d, snap)

	d.UpdatedAt = time.Now().UTC()
	if err == nil {
		completed := time.Now().UTC()
		d.CompletedAt = &completed
		d.Status = model.StatusCompleted
		e.store.UpsertDownload(d)
		e.notify(d)
		metrics.DownloadsCompleted.Inc()
		return
	}

	fe := model.AsFetchError(err)
	if fe.Code == model.ErrCancelled {
		if e.takeStalled(d.ID) {
			// The watchdog cancelled this attempt, not Pause/Delete: route it
			// through the same retry/escalation policy as any other stall.
			e.scheduleBackoff(d, model.NewFetchError(model.ErrTimeout, "stall watchdog triggered", nil))
			return
		}
		// Pause/delete already persisted their own status; don't overwrite it.
		return
	}

	if fe.Code.Retryable() {
		if e.tryMirror(d, snap) {
			d.Status = model.StatusQueued
			e.store.UpsertDownload(d)
			e.notify(d)
			e.enqueue(d.ID)
			metrics.MirrorFallbacks.Inc()
			return
		}
		e.scheduleBackoff(d, fe)
		return
	}

	d.Status = model.StatusError
	d.ErrorCode = fe.Code
	d.ErrorMessage = fe.Error()
	e.store.UpsertDownload(d)
	e.notify(d)
	metrics.DownloadsFailed.WithLabelValues(string(fe.Code)).Inc()
}

func (e *Engine) tryMirror(d *model.Download, snap rules.Snapshot) bool {
	e.mu.Lock()
	used := e.mirrorUsed[d.ID]
	e.mu.Unlock()
	if used {
		return false
	}
	mirrors := snap.ResolveMirrors(d.OriginalURL)
	if len(mirrors) == 0 {
		return false
	}
	rewritten, err := rules.RewriteForMirror(d.OriginalURL, mirrors[0])
	if err != nil {
		return false
	}
	d.ResolvedURL = rewritten
	d.MirrorUsed = mirrors[0]
	e.mu.Lock()
	e.mirrorUsed[d.ID] = true
	e.mu.Unlock()
	return true
}

// scheduleBackoff implements spec.md §4.7's stall/retry escalation: after a
// failed attempt, wait the backoff duration for this Download's stall
// count, then re-queue; after maxStalls, give up with TIMEOUT.
func (e *Engine) scheduleBackoff(d *model.Download, fe *model.FetchError) {
	e.mu.Lock()
	rs, ok := e.running[d.ID]
	stalls := 0
	if ok {
		rs.stalls++
		stalls = rs.stalls
	}
	e.mu.Unlock()

	if stalls >= maxStalls {
		d.Status = model.StatusError
		d.ErrorCode = model.ErrTimeout
		d.ErrorMessage = "stall watchdog exhausted after repeated retries"
		e.store.UpsertDownload(d)
		e.notify(d)
		metrics.DownloadsFailed.WithLabelValues(string(model.ErrTimeout)).Inc()
		return
	}

	idx := stalls - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(backoffSchedule) {
		idx = len(backoffSchedule) - 1
	}
	wait := backoffSchedule[idx]
	d.Status = model.StatusError
	d.ErrorCode = fe.Code
	d.ErrorMessage = "retrying in " + wait.String()
	d.RetryMessage = "Retrying in " + wait.String()
	e.store.UpsertDownload(d)
	e.notify(d)
	metrics.StallRetries.Inc()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		select {
		case <-time.After(wait):
		case <-e.stopCh:
			return
		}
		e.Retry(d.ID)
	}()
}

// watchdogLoop cancels any DOWNLOADING Download whose byte counter has been
// flat for stallThreshold, per spec.md §4.7.
func (e *Engine) watchdogLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.checkStalls()
		}
	}
}

func (e *Engine) checkStalls() {
	now := time.Now()
	e.mu.Lock()
	var toCancel []context.CancelFunc
	for _, rs := range e.running {
		if now.Sub(rs.lastMove) >= stallThreshold {
			rs.stalled = true
			toCancel = append(toCancel, rs.cancel)
		}
	}
	e.mu.Unlock()
	for _, cancel := range toCancel {
		cancel()
	}
}

func (e *Engine) snapshot() rules.Snapshot {
	r, _ := e.store.ListRules()
	s, _ := e.store.GetSettings()
	if s == nil {
		defaults := model.DefaultSettings()
		s = &defaults
	}
	return rules.NewSnapshot(r, *s)
}

// AddHostToProxyAndRetry implements spec.md §4.7's "add domain to proxy and
// retry": atomically upsert a proxy rule for the Download's host, then
// retry. Idempotent per P5: repeating it updates the same rule in place
// rather than creating a duplicate.
func (e *Engine) AddHostToProxyAndRetry(id, proxyURL string) error {
	d, err := e.store.GetDownload(id)
	if err != nil {
		return err
	}
	if d == nil {
		return errNotFound
	}
	host := hostOfURL(d.OriginalURL)

	existingRules, err := e.store.ListRules()
	if err != nil {
		return err
	}
	var target *model.Rule
	for _, r := range existingRules {
		if r.Kind == model.RuleKindProxy && r.Pattern == host {
			target = r
			break
		}
	}
	if target == nil {
		target = &model.Rule{Pattern: host, Kind: model.RuleKindProxy}
	}
	target.Enabled = true
	target.UseProxy = true
	target.ProxyURLOverride = proxyURL
	if _, err := e.store.UpsertRule(target); err != nil {
		return err
	}
	return e.Retry(id)
}

func hostOfURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}
