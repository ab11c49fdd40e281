package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/z-dmr/zdmr/internal/model"
)

func TestMatchesWildcard(t *testing.T) {
	assert.True(t, matches("*.example.com", "cdn.example.com"))
	assert.True(t, matches("*.example.com", "example.com"))
	assert.False(t, matches("*.example.com", "notexample.com"))
	assert.True(t, matches("Example.com", "example.COM"))
	assert.False(t, matches("example.com", "other.com"))
}

func TestResolveProxyPrecedence(t *testing.T) {
	snap := NewSnapshot([]*model.Rule{
		{ID: 1, Pattern: "*.example.com", Enabled: true, Kind: model.RuleKindProxy, UseProxy: true, ProxyURLOverride: "http://rule-proxy:8080"},
	}, model.Settings{GlobalProxy: model.ProxyConfig{Enabled: true, URL: "http://global-proxy:8080"}})

	assert.Equal(t, "http://forced:9", snap.ResolveProxy("https://cdn.example.com/f", "http://forced:9"))
	assert.Equal(t, "http://rule-proxy:8080", snap.ResolveProxy("https://cdn.example.com/f", ""))
	assert.Equal(t, "http://global-proxy:8080", snap.ResolveProxy("https://other.com/f", ""))
}

func TestResolveProxyRuleWithoutOverrideOrGlobalIsNoOp(t *testing.T) {
	snap := NewSnapshot([]*model.Rule{
		{ID: 1, Pattern: "example.com", Enabled: true, Kind: model.RuleKindProxy, UseProxy: true},
	}, model.Settings{})
	assert.Equal(t, "", snap.ResolveProxy("https://example.com/f", ""))
}

func TestResolveProxyTieBreakIDAscending(t *testing.T) {
	snap := NewSnapshot([]*model.Rule{
		{ID: 2, Pattern: "example.com", Enabled: true, Kind: model.RuleKindProxy, UseProxy: true, ProxyURLOverride: "http://second"},
		{ID: 1, Pattern: "example.com", Enabled: true, Kind: model.RuleKindProxy, UseProxy: true, ProxyURLOverride: "http://first"},
	}, model.Settings{})
	// Rules list order is what the caller provides (store lists ID-ascending);
	// the engine picks the first enabled match in that order.
	snap.Rules = []*model.Rule{snap.Rules[1], snap.Rules[0]}
	assert.Equal(t, "http://first", snap.ResolveProxy("https://example.com/f", ""))
}

func TestResolveHeadersOverrideWinsOverAddIfMissing(t *testing.T) {
	snap := NewSnapshot([]*model.Rule{
		{ID: 1, Pattern: "example.com", Enabled: true, Kind: model.RuleKindHeader, HeaderDirectives: []model.HeaderDirective{
			{Name: "X-A", Value: "first", Mode: model.HeaderAddIfMissing},
		}},
		{ID: 2, Pattern: "example.com", Enabled: true, Kind: model.RuleKindHeader, HeaderDirectives: []model.HeaderDirective{
			{Name: "X-A", Value: "second", Mode: model.HeaderOverride},
			{Name: "X-A", Value: "third", Mode: model.HeaderAddIfMissing},
		}},
	}, model.Settings{})

	headers := snap.ResolveHeaders("https://example.com/f")
	require.Equal(t, "second", headers["X-A"])
}

func TestResolveMirrorsDedup(t *testing.T) {
	snap := NewSnapshot([]*model.Rule{
		{ID: 1, Pattern: "example.com", Enabled: true, Kind: model.RuleKindMirror, MirrorCandidates: []string{"https://m1.test", "https://m2.test"}},
		{ID: 2, Pattern: "example.com", Enabled: true, Kind: model.RuleKindMirror, MirrorCandidates: []string{"https://m2.test", "https://m3.test"}},
	}, model.Settings{})

	mirrors := snap.ResolveMirrors("https://example.com/f")
	assert.Equal(t, []string{"https://m1.test", "https://m2.test", "https://m3.test"}, mirrors)
}

func TestRewriteForMirrorPreservesSuffix(t *testing.T) {
	out, err := RewriteForMirror("https://origin.example.com/path/to/file.bin?x=1", "https://mirror.example.net")
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.net/path/to/file.bin?x=1", out)
}
