package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-dmr/zdmr/internal/model"
)

func TestTickEmitsBatchOnlyForDirtyCounters(t *testing.T) {
	b := New()
	b.DownloadChanged(&model.Download{ID: "d1", Status: model.StatusDownloading, ContentLength: 1000})
	b.BytesDelta("d1", 500)

	b.tick()

	sub := b.Subscribe()
	b.BytesDelta("d1", 100)
	b.tick()

	select {
	case ev := <-sub:
		batch, ok := ev.(ProgressBatch)
		require.True(t, ok)
		require.Len(t, batch.Updates, 1)
		assert.Equal(t, "d1", batch.Updates[0].DownloadID)
		assert.Equal(t, int64(600), batch.Updates[0].BytesDownloaded)
	case <-time.After(time.Second):
		t.Fatal("expected a batch")
	}
}

func TestDownloadChangedEmitsImmediately(t *testing.T) {
	b := New()
	sub := b.Subscribe()
	b.DownloadChanged(&model.Download{ID: "d2", Status: model.StatusCompleted})

	select {
	case ev := <-sub:
		changed, ok := ev.(DownloadsChanged)
		require.True(t, ok)
		assert.Equal(t, "d2", changed.Download.ID)
	case <-time.After(time.Second):
		t.Fatal("expected a DownloadsChanged event")
	}
}

func TestSlowSubscriberCoalescesInsteadOfBlocking(t *testing.T) {
	b := New()
	sub := b.Subscribe() // never drained
	for i := 0; i < 5; i++ {
		b.DownloadChanged(&model.Download{ID: "d3", Status: model.StatusDownloading})
	}
	// broadcast must not have blocked; channel holds at most 1 pending event.
	assert.LessOrEqual(t, len(sub), 1)
}
