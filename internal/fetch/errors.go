package fetch

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is against the typed errors below.
var (
	ErrFiltered     = errors.New("download filtered")
	ErrTooLarge     = errors.New("download too large")
	ErrBatchAborted = errors.New("batch aborted")
)

// FilteredError reports a request rejected by the download filter. No I/O happened.
type FilteredError struct {
	URL string
}

func (e *FilteredError) Error() string {
	return fmt.Sprintf("filtered %s", e.URL)
}

// Is reports ErrFiltered.
func (e *FilteredError) Is(target error) bool { return target == ErrFiltered }

// TooLargeError reports a body that crossed the size limit mid-stream.
type TooLargeError struct {
	URL   string
	Limit int64
	Read  int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("%s exceeded %d bytes (read %d)", e.URL, e.Limit, e.Read)
}

// Is reports ErrTooLarge.
func (e *TooLargeError) Is(target error) bool { return target == ErrTooLarge }

// TransportError covers connect, read, DNS, malformed URL and bad status failures.
// It is the only retry-eligible failure.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RetriesExhaustedError wraps the last transport failure once the retry budget is spent.
type RetriesExhaustedError struct {
	URL      string
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.URL, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// BatchAbortedError is returned once a batch reaches its failure ceiling.
type BatchAbortedError struct {
	Failures int
	Limit    int
}

func (e *BatchAbortedError) Error() string {
	return fmt.Sprintf("batch aborted after %d failures (limit %d)", e.Failures, e.Limit)
}

// Is reports ErrBatchAborted.
func (e *BatchAbortedError) Is(target error) bool { return target == ErrBatchAborted }

// IsTerminal reports whether err must not be retried.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrFiltered) || errors.Is(err, ErrTooLarge)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
