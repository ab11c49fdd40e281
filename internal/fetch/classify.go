package fetch

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"

	"github.com/z-dmr/zdmr/internal/model"
)

// classifyTransportErr maps a low-level net/http error into the taxonomy
// from spec.md §7.
func classifyTransportErr(err error) *model.FetchError {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return model.NewFetchError(model.ErrCancelled, "cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewFetchError(model.ErrTimeout, "request timed out", err)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.NewFetchError(model.ErrDNSFail, "DNS resolution failed", err)
	}

	var tlsErr *tls.CertificateVerificationError
	if errors.As(err, &tlsErr) {
		return model.NewFetchError(model.ErrTLSFail, "TLS verification failed", err)
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return model.NewFetchError(model.ErrTLSFail, "TLS handshake failed", err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return model.NewFetchError(model.ErrTimeout, "connection timed out", err)
		}
		return model.NewFetchError(model.ErrConnectFail, "connection failed", err)
	}

	if fe, ok := err.(*model.FetchError); ok {
		return fe
	}

	return model.NewFetchError(model.ErrUnknown, "transport error", err)
}

func classifyStatus(code int) *model.FetchError {
	switch {
	case code >= 500:
		return model.NewFetchError(model.ErrHTTP5xx, httpStatusText(code), nil)
	case code >= 400:
		return model.NewFetchError(model.ErrHTTP4xx, httpStatusText(code), nil)
	default:
		return model.NewFetchError(model.ErrUnknown, httpStatusText(code), nil)
	}
}

func httpStatusText(code int) string {
	return http.StatusText(code)
}
