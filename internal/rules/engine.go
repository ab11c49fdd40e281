// Package rules is the Rule Engine (spec.md §4.2): pure functions over an
// immutable Snapshot of rules + settings that resolve proxy, headers, and
// mirror candidates for a URL. Grounded in
// tinoosan-torrus/internal/downloadcfg's small pure-value policy types,
// generalized from a single CollisionPolicy enum into the three-way
// hostname-matched policy spec.md calls for.
package rules

import (
	"net/url"
	"strings"

	"github.com/z-dmr/zdmr/internal/model"
)

// Snapshot is a copy-on-read view of rules + settings, captured once per
// fetch attempt per spec.md §5 ("the Engine captures a snapshot at the
// start of each fetch and keeps it for that attempt").
type Snapshot struct {
	Rules    []*model.Rule
	Settings model.Settings
}

// NewSnapshot builds a Snapshot from store-loaded rules and settings.
func NewSnapshot(rules []*model.Rule, settings model.Settings) Snapshot {
	return Snapshot{Rules: rules, Settings: settings}
}

// matches implements spec.md §4.2's matching rule: exact case-insensitive
// host match, or a "*.domain" wildcard matching the suffix or any
// subdomain of it.
func matches(pattern, host string) bool {
	pattern = strings.ToLower(pattern)
	host = strings.ToLower(host)
	if pattern == host {
		return true
	}
	suffix, ok := strings.CutPrefix(pattern, "*.")
	if !ok {
		return false
	}
	return host == suffix || strings.HasSuffix(host, "."+suffix)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// ResolveProxy returns the proxy URL to use for rawURL, following the
// precedence in spec.md §4.2: a forced per-Download proxy wins outright;
// else the first enabled, ID-ascending matching proxy rule's override (or
// the global URL if the rule sets no override); else the global proxy URL
// if globally enabled; else none.
func (snap Snapshot) ResolveProxy(rawURL, forcedProxyURL string) string {
	if forcedProxyURL != "" {
		return forcedProxyURL
	}

	host := hostOf(rawURL)
	for _, r := range snap.Rules {
		if r.Kind != model.RuleKindProxy || !r.Enabled || !r.UseProxy {
			continue
		}
		if !matches(r.Pattern, host) {
			continue
		}
		if r.ProxyURLOverride != "" {
			return r.ProxyURLOverride
		}
		if snap.Settings.GlobalProxy.URL != "" {
			return snap.Settings.GlobalProxy.URL
		}
		return "" // matching rule with nothing to point at is a no-op, spec.md §9
	}

	if snap.Settings.GlobalProxy.Enabled && snap.Settings.GlobalProxy.URL != "" {
		return snap.Settings.GlobalProxy.URL
	}
	return ""
}

// ResolveHeaders merges every enabled header rule matching host, in
// registration (ID-ascending) order: "override" wins over anything set so
// far for that header name, "add_if_missing" only sets a value if absent.
func (snap Snapshot) ResolveHeaders(rawURL string) map[string]string {
	host := hostOf(rawURL)
	out := map[string]string{}
	for _, r := range snap.Rules {
		if r.Kind != model.RuleKindHeader || !r.Enabled {
			continue
		}
		if !matches(r.Pattern, host) {
			continue
		}
		for _, hd := range r.HeaderDirectives {
			switch hd.Mode {
			case model.HeaderOverride:
				out[hd.Name] = hd.Value
			case model.HeaderAddIfMissing:
				if _, exists := out[hd.Name]; !exists {
					out[hd.Name] = hd.Value
				}
			}
		}
	}
	return out
}

// ResolveMirrors concatenates candidates_json of every enabled matching
// mirror rule, de-duplicated in order.
func (snap Snapshot) ResolveMirrors(rawURL string) []string {
	host := hostOf(rawURL)
	seen := map[string]bool{}
	var out []string
	for _, r := range snap.Rules {
		if r.Kind != model.RuleKindMirror || !r.Enabled {
			continue
		}
		if !matches(r.Pattern, host) {
			continue
		}
		for _, candidate := range r.MirrorCandidates {
			if seen[candidate] {
				continue
			}
			seen[candidate] = true
			out = append(out, candidate)
		}
	}
	return out
}

// RewriteForMirror swaps rawURL's scheme+host(+base path) for mirrorBase,
// preserving the path suffix and query — the "fingerprint" spec.md's
// glossary describes for mirror fallback.
func RewriteForMirror(rawURL, mirrorBase string) (string, error) {
	orig, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	mirror, err := url.Parse(mirrorBase)
	if err != nil {
		return "", err
	}

	out := *orig
	out.Scheme = mirror.Scheme
	out.Host = mirror.Host
	if mirror.Path != "" && mirror.Path != "/" {
		out.Path = strings.TrimSuffix(mirror.Path, "/") + orig.Path
	}
	return out.String(), nil
}
