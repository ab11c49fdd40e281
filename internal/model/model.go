// Package model holds the data entities shared by every Z-DMR component:
// the persistence store, the rule engine, the fetcher, the engine, the
// progress bus, and the control API all speak these types rather than
// passing around ad-hoc maps.
package model

import "time"

// Status is one of the five states a Download can be in. Transitions
// between them follow the state machine in spec.md §4.7.
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusDownloading Status = "DOWNLOADING"
	StatusPaused      Status = "PAUSED"
	StatusCompleted   Status = "COMPLETED"
	StatusError       Status = "ERROR"
)

// RangeSupport is the tri-state the spec calls for: a Download doesn't know
// whether its origin supports ranged requests until the probe runs.
type RangeSupport string

const (
	RangeUnknown RangeSupport = "unknown"
	RangeYes     RangeSupport = "yes"
	RangeNo      RangeSupport = "no"
)

// Download is one logical transfer.
type Download struct {
	ID             string
	BatchID        string // empty if not part of a batch
	OriginalURL    string
	ResolvedURL    string
	DestDir        string
	ForcedProxyURL string

	ContentLength  int64 // -1 when unknown
	ETag           string
	LastModified   string
	SupportsRanges RangeSupport
	MirrorUsed     string // empty if no mirror was used

	TempPath      string
	FinalFilename string

	Status       Status
	ErrorCode    ErrorCode
	ErrorMessage string

	BytesDownloaded int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	// StallCount is reset to 0 by Engine.Retry; the engine counts stalls on
	// its own per-run state, not here. RetryMessage holds the
	// "Retrying in Ns" text set when a backoff retry is scheduled. The store
	// persists neither field; subscribers see them on the Download passed
	// to the progress notifier.
	StallCount   int
	RetryMessage string
}

// HasKnownLength reports whether ContentLength is known.
func (d *Download) HasKnownLength() bool { return d.ContentLength >= 0 }

// Segment is one byte-range slice of a Download.
type Segment struct {
	DownloadID   string
	Ordinal      int
	Start        int64
	EndExclusive int64 // -1 when the length is unknown (single unbounded segment)
	BytesWritten int64
	Done         bool
}

// Length returns the segment's range length, or -1 if unbounded.
func (s *Segment) Length() int64 {
	if s.EndExclusive < 0 {
		return -1
	}
	return s.EndExclusive - s.Start
}

// Batch groups Downloads added together.
type Batch struct {
	ID            string
	Name          string
	DestDir       string
	ForcedProxy   bool
	OnCollision   string // "rename" (default) or "error"
	CreatedAt     time.Time
}

// RuleKind discriminates the three disjoint rule payload shapes.
type RuleKind string

const (
	RuleKindProxy  RuleKind = "proxy"
	RuleKindHeader RuleKind = "header"
	RuleKindMirror RuleKind = "mirror"
)

// HeaderMode controls how a header directive combines with ones seen
// earlier in registration order, per spec.md §4.2.
type HeaderMode string

const (
	HeaderOverride     HeaderMode = "override"
	HeaderAddIfMissing HeaderMode = "add_if_missing"
)

// HeaderDirective is the normalized internal representation every header
// rule is flattened into at snapshot-build time, regardless of whether it
// was authored in map form or flat form (spec.md §9).
type HeaderDirective struct {
	Name  string
	Value string
	Mode  HeaderMode
}

// Rule is a hostname-matching policy: proxy override, header injection, or
// mirror candidate list. Exactly one of the kind-specific fields is
// meaningful, selected by Kind.
type Rule struct {
	ID      int64
	Pattern string // exact host, or "*.domain"
	Enabled bool
	Kind    RuleKind

	// RuleKindProxy
	UseProxy         bool
	ProxyURLOverride string

	// RuleKindHeader — directives flattened on load by the store's
	// decodeRulePayload, whether the payload was in map or flat form.
	HeaderDirectives []HeaderDirective

	// RuleKindMirror
	MirrorCandidates []string
}

// ProxyConfig is the global proxy setting inside Settings.
type ProxyConfig struct {
	Enabled bool
	URL     string
}

// Settings is the singleton application configuration record.
type Settings struct {
	DefaultDownloadDir string
	GlobalBandwidthBPS int64 // 0 = unlimited
	GlobalProxy        ProxyConfig
	TrayEnabled        bool
	Theme              string
	GlobalHotkey       string
	LocalAPIPort       int
	LocalAPIToken      string
	UserAgentMode      string // "fixed" or "randomize"
	MaxConcurrent      int
}

// DefaultSettings returns the seed values the store writes on first run.
func DefaultSettings() Settings {
	return Settings{
		GlobalBandwidthBPS: 0,
		Theme:              "system",
		LocalAPIPort:       47113,
		UserAgentMode:      "fixed",
		MaxConcurrent:      4,
	}
}
