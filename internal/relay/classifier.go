package relay

import "errors"

// Retryable reports whether a failed attempt is plausibly caused by the
// account that served it, so switching accounts may succeed. Transport
// errors with no status are always retryable.
func Retryable(err error) bool {
	var re *RelayError
	if !errors.As(err, &re) {
		return true
	}
	if re.StatusCode == 0 {
		return true
	}
	return StatusRetryable(re.StatusCode)
}

// StatusRetryable classifies an HTTP status code. The explicit sets come
// first; remaining 4xx are request-shape problems no account switch can
// fix, remaining 5xx are transient, and anything else is conservatively
// non-retryable.
func StatusRetryable(code int) bool {
	switch code {
	case 401, // auth failure, possibly a dead token
		403, // permission problem on this account
		429, // rate limited, another account may have headroom
		500, 502, 503, 504,
		529: // overloaded
		return true
	case 400, 404, 405, 406, 409, 410, 413, 415, 422:
		return false
	}
	if code >= 400 && code < 500 {
		return false
	}
	if code >= 500 && code < 600 {
		return true
	}
	return false
}
