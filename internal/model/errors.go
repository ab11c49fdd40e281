package model

// ErrorCode is one of the stable taxonomy strings from the spec. The API and
// UI surfaces pass these through verbatim, so the string values are load
// bearing and must never change once shipped.
type ErrorCode string

const (
	ErrDNSFail            ErrorCode = "DNS_FAIL"
	ErrConnectFail        ErrorCode = "CONNECT_FAIL"
	ErrTLSFail            ErrorCode = "TLS_FAIL"
	ErrHTTP4xx            ErrorCode = "HTTP_4XX"
	ErrHTTP5xx            ErrorCode = "HTTP_5XX"
	ErrTimeout            ErrorCode = "TIMEOUT"
	ErrRangeUnsupported   ErrorCode = "RANGE_UNSUPPORTED"
	ErrDiskFull           ErrorCode = "DISK_FULL"
	ErrRemoteChanged      ErrorCode = "REMOTE_CHANGED"
	ErrPermissionDenied   ErrorCode = "PERMISSION_DENIED"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrInvalidURL         ErrorCode = "INVALID_URL"
	ErrUnknown            ErrorCode = "UNKNOWN"
)

// Retryable reports whether the Engine should attempt a mirror/backoff retry
// for this code, per spec.md §7.
func (c ErrorCode) Retryable() bool {
	switch c {
	case ErrDNSFail, ErrConnectFail, ErrTLSFail, ErrHTTP5xx, ErrTimeout:
		return true
	case ErrUnknown:
		return true // retryable like the codes above; no separate retry cap
	default:
		return false
	}
}

// FetchError classifies a low-level failure into the taxonomy before it
// reaches the Engine, carrying enough context for the human-facing message.
type FetchError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *FetchError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *FetchError) Unwrap() error { return e.Cause }

func NewFetchError(code ErrorCode, msg string, cause error) *FetchError {
	return &FetchError{Code: code, Message: msg, Cause: cause}
}

// AsFetchError extracts a *FetchError from err, falling back to classifying
// unrecognized errors as ErrUnknown so every failure has a taxonomy code.
func AsFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	var fe *FetchError
	if ok := asFetchError(err, &fe); ok {
		return fe
	}
	return &FetchError{Code: ErrUnknown, Message: err.Error(), Cause: err}
}

func asFetchError(err error, target **FetchError) bool {
	for err != nil {
		if fe, ok := err.(*FetchError); ok {
			*target = fe
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
