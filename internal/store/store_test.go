package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/z-dmr/zdmr/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "zdmr.sqlite3")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSeedDefaultsGeneratesTokenOnce(t *testing.T) {
	s := openTestStore(t)

	st, err := s.GetSettings()
	require.NoError(t, err)
	require.NotEmpty(t, st.LocalAPIToken)
	require.Equal(t, 47113, st.LocalAPIPort)

	token := st.LocalAPIToken
	require.NoError(t, s.seedDefaults())

	st2, err := s.GetSettings()
	require.NoError(t, err)
	require.Equal(t, token, st2.LocalAPIToken, "token must not regenerate on subsequent seeding")
}

func TestUpsertAndListDownloads(t *testing.T) {
	s := openTestStore(t)

	now := time.Now()
	d := &model.Download{
		ID: "dl-1", OriginalURL: "https://example.com/a.bin", DestDir: "/tmp",
		Status: model.StatusQueued, ContentLength: -1, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, s.UpsertDownload(d))

	got, err := s.GetDownload("dl-1")
	require.NoError(t, err)
	require.Equal(t, d.OriginalURL, got.OriginalURL)
	require.Equal(t, model.StatusQueued, got.Status)

	d.Status = model.StatusDownloading
	d.BytesDownloaded = 1024
	require.NoError(t, s.UpsertDownload(d))

	list, err := s.ListDownloads()
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, int64(1024), list[0].BytesDownloaded)
}

func TestDeleteDownloadRemovesSegments(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	d := &model.Download{ID: "dl-2", OriginalURL: "https://example.com/b.bin", DestDir: "/tmp",
		Status: model.StatusQueued, ContentLength: 100, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.UpsertDownload(d))
	require.NoError(t, s.ReplaceSegmentPlan("dl-2", []model.Segment{
		{DownloadID: "dl-2", Ordinal: 0, Start: 0, EndExclusive: 50},
		{DownloadID: "dl-2", Ordinal: 1, Start: 50, EndExclusive: 100},
	}))

	segs, err := s.ListSegments("dl-2")
	require.NoError(t, err)
	require.Len(t, segs, 2)

	require.NoError(t, s.DeleteDownload("dl-2"))
	segs, err = s.ListSegments("dl-2")
	require.NoError(t, err)
	require.Empty(t, segs)
}

func TestRuleNegativeIDRejected(t *testing.T) {
	s := openTestStore(t)
	_, err := s.UpsertRule(&model.Rule{ID: -1, Pattern: "example.com", Kind: model.RuleKindProxy})
	require.Error(t, err)
}

func TestHeaderRuleDirectiveRoundTrips(t *testing.T) {
	s := openTestStore(t)
	id, err := s.UpsertRule(&model.Rule{
		Pattern: "example.com", Enabled: true, Kind: model.RuleKindHeader,
		HeaderDirectives: []model.HeaderDirective{
			{Name: "Authorization", Value: "Bearer x", Mode: model.HeaderOverride},
		},
	})
	require.NoError(t, err)

	rules, err := s.ListRules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Equal(t, id, rules[0].ID)
	require.Equal(t, model.HeaderOverride, rules[0].HeaderDirectives[0].Mode)
}

func TestNonTerminalToQueuedPreservesBytes(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	d := &model.Download{ID: "dl-3", OriginalURL: "https://example.com/c.bin", DestDir: "/tmp",
		Status: model.StatusDownloading, ContentLength: 100, BytesDownloaded: 42, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.UpsertDownload(d))

	require.NoError(t, s.NonTerminalToQueued(time.Now()))

	got, err := s.GetDownload("dl-3")
	require.NoError(t, err)
	require.Equal(t, model.StatusQueued, got.Status)
	require.Equal(t, int64(42), got.BytesDownloaded)
}
