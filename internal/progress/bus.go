// Package progress is the Progress Bus (spec.md §4.8): collects
// fine-grained byte increments from the Fetcher and broadcasts periodic
// batched, EWMA-smoothed snapshots to subscribers.
//
// Grounded in danzo's internal/output.Manager: the same periodic-ticker +
// mutex-guarded-state shape (StartDisplay's 300ms ticker driving
// updateDisplay from RegisterFunction/SetStatus-updated state), generalized
// from "render to a terminal" into "fan out a batched snapshot to N
// subscriber channels," the coalescing shape torus and the other repos
// don't need since they only ever render to one local terminal.
package progress

import (
	"sync"
	"time"

	"github.com/z-dmr/zdmr/internal/model"
)

const (
	tickInterval = 250 * time.Millisecond
	ewmaAlpha    = 0.3
)

// Update is one Download's progress as of the latest tick.
type Update struct {
	DownloadID      string
	BytesDownloaded int64
	ContentLength   int64 // -1 if unknown
	SpeedBPS        float64
	ETA             *time.Duration
	Status          model.Status
	RetryMessage    string
}

// ProgressBatch is the periodic fan-out payload, spec.md §4.8.
type ProgressBatch struct {
	Updates []Update
}

// DownloadsChanged is the structural-change event: add/delete/status
// transition, emitted outside the 250ms cadence so the UI reacts instantly.
type DownloadsChanged struct {
	Download *model.Download
}

type counter struct {
	bytesTotal    int64
	contentLength int64
	status        model.Status
	retryMessage  string
	speed         float64
	lastTick      int64
	lastTickTime  time.Time
	dirty         bool
}

// Bus is the single broadcast source every subscriber reads from.
type Bus struct {
	mu          sync.Mutex
	counters    map[string]*counter
	subscribers map[chan any]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New() *Bus {
	return &Bus{
		counters:    map[string]*counter{},
		subscribers: map[chan any]struct{}{},
		stopCh:      make(chan struct{}),
	}
}

// Start launches the 250ms broadcast tick.
func (b *Bus) Start() {
	b.wg.Add(1)
	go b.loop()
}

func (b *Bus) Stop() {
	close(b.stopCh)
	b.wg.Wait()
}

// Subscribe returns a channel receiving ProgressBatch and DownloadsChanged
// values. The channel is buffered by 1; if the subscriber is slow, the next
// tick's batch replaces the pending one instead of blocking the bus
// (spec.md §4.8's "missed wakeups collapse into the next one").
func (b *Bus) Subscribe() chan any {
	ch := make(chan any, 1)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan any) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
}

// BytesDelta implements engine.Notifier: records a byte increment for a
// Download's running counter.
func (b *Bus) BytesDelta(downloadID string, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.counters[downloadID]
	if !ok {
		c = &counter{contentLength: -1, lastTickTime: time.Now()}
		b.counters[downloadID] = c
	}
	c.bytesTotal += delta
	c.dirty = true
}

// DownloadChanged implements engine.Notifier: records the structural facts
// (status, content length) and emits an immediate DownloadsChanged event,
// per spec.md §5's ordering guarantee that deletion events follow any final
// ProgressBatch for that ID.
func (b *Bus) DownloadChanged(d *model.Download) {
	b.mu.Lock()
	c, ok := b.counters[d.ID]
	if !ok {
		c = &counter{contentLength: d.ContentLength, lastTickTime: time.Now()}
		b.counters[d.ID] = c
	}
	c.status = d.Status
	c.contentLength = d.ContentLength
	c.retryMessage = d.RetryMessage
	c.bytesTotal = d.BytesDownloaded
	if d.Status == "DELETED" {
		delete(b.counters, d.ID)
	}
	b.mu.Unlock()

	b.broadcast(DownloadsChanged{Download: d})
}

func (b *Bus) loop() {
	defer b.wg.Done()
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Bus) tick() {
	now := time.Now()
	b.mu.Lock()
	var updates []Update
	for id, c := range b.counters {
		if !c.dirty {
			continue
		}
		elapsed := now.Sub(c.lastTickTime).Seconds()
		instant := 0.0
		if elapsed > 0 {
			instant = float64(c.bytesTotal-c.lastTick) / elapsed
		}
		if c.speed == 0 {
			c.speed = instant
		} else {
			c.speed = ewmaAlpha*instant + (1-ewmaAlpha)*c.speed
		}
		c.lastTick = c.bytesTotal
		c.lastTickTime = now
		c.dirty = false

		u := Update{
			DownloadID:      id,
			BytesDownloaded: c.bytesTotal,
			ContentLength:   c.contentLength,
			SpeedBPS:        c.speed,
			Status:          c.status,
			RetryMessage:    c.retryMessage,
		}
		if c.contentLength >= 0 && c.speed > 0 {
			remaining := c.contentLength - c.bytesTotal
			if remaining < 0 {
				remaining = 0
			}
			eta := time.Duration(float64(remaining) / c.speed * float64(time.Second))
			u.ETA = &eta
		}
		updates = append(updates, u)
	}
	b.mu.Unlock()

	if len(updates) > 0 {
		b.broadcast(ProgressBatch{Updates: updates})
	}
}

// broadcast delivers ev to every subscriber, coalescing into the pending
// slot rather than blocking if the subscriber hasn't drained yet.
func (b *Bus) broadcast(ev any) {
	b.mu.Lock()
	chans := make([]chan any, 0, len(b.subscribers))
	for ch := range b.subscribers {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
