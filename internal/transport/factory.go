// Package transport is the HTTP Transport Factory (spec.md §4.4): the only
// place in Z-DMR that constructs outbound HTTP clients, so proxy/TLS
// concerns stay localized. Grounded in danzo's utils.CreateHTTPClient /
// internal/utils/http-client.go (both generations of the same idea in the
// teacher repo), extended with the redirect bound and per-chunk idle
// timeout spec.md calls for.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/z-dmr/zdmr/internal/model"
)

const (
	connectTimeout   = 20 * time.Second
	idleReadTimeout  = 30 * time.Second
	maxRedirects     = 10
	defaultBufSize   = 256 * 1024
	toolUserAgent    = "z-dmr"
)

// Config describes one transport's proxy/thread-mode requirements.
// It is built fresh per fetch attempt from a rules.Snapshot, never shared
// mutably across attempts.
type Config struct {
	ProxyURL       string
	UserAgent      string // not read by Build; ApplyHeaders sets the default z-dmr/<version> UA before rule headers
	Version        string
	HighThreadMode bool // socket buffer/Nagle tuning for >5 segment plans
}

// Factory builds *http.Client instances per Config. It is the sole producer
// of outbound HTTP clients in the module.
type Factory struct{}

func New() *Factory { return &Factory{} }

// Build returns an *http.Client configured per spec.md §4.4.
func (f *Factory) Build(cfg Config) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	if cfg.HighThreadMode {
		dialer.Control = func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) { setSocketOptions(fd, defaultBufSize) })
		}
	}

	tr := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true,
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: false}, // system roots, verification on
	}

	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	return &http.Client{
		Transport: tr,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return model.NewFetchError(model.ErrConnectFail, "too many redirects", errors.New("redirect loop"))
			}
			return nil
		},
		// No overall response timeout: downloads are long-lived per spec.md §4.4.
	}, nil
}

// DefaultUserAgent returns the z-dmr/<version> UA string spec.md §4.4
// mandates unless a header rule overrides it.
func DefaultUserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("%s/%s", toolUserAgent, version)
}

// ApplyHeaders sets the User-Agent (defaulted unless overridden) and every
// header the Rule Engine resolved onto req.
func ApplyHeaders(req *http.Request, headers map[string]string, version string) {
	req.Header.Set("User-Agent", DefaultUserAgent(version))
	req.Header.Set("Connection", "keep-alive")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// IdleReadTimeout is exported so the fetcher's per-chunk stall detector and
// the transport factory agree on the same constant.
func IdleReadTimeout() time.Duration { return idleReadTimeout }
