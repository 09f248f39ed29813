// Package httpx holds the bounded-read and status helpers shared by the
// scout HTTP clients (inference, market data).
package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// MaxResponseBody is the default cap for HTTP response body reads (4 MiB).
const MaxResponseBody int64 = 4 << 20

// ErrTooLarge is returned when a body exceeds the read cap.
var ErrTooLarge = errors.New("httpx: response too large")

// LimitedReadAll reads at most maxBytes from r. Bodies over the cap are an
// error rather than silently truncated.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Service, e.Code, e.Body)
}

// CheckStatus returns a *StatusError for non-2xx responses, carrying at most
// 512 bytes of the body.
func CheckStatus(service string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Service: service, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// HasStatus reports whether err is a StatusError with the given code.
func HasStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// NewClient returns an http.Client with a total request timeout.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
