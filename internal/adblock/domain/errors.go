package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization means bootstrap or resource acquisition failed; the
	// engine stays uninitialized and initialization may be retried.
	ErrInitialization = errors.New("initialization failed")
	// ErrNotInitialized is returned by operations that need a ready engine.
	ErrNotInitialized = errors.New("engine not initialized")
	// ErrDownload means a filter source could not be fetched.
	ErrDownload = errors.New("filter download failed")
	// ErrRuleLoad means the rule engine rejected a filter list.
	ErrRuleLoad = errors.New("filter rules rejected")
	// ErrInterception wraps a failure while classifying or deciding a request.
	ErrInterception = errors.New("request interception failed")
	// ErrUpdateTimeout means a forced update did not finish within its ceiling.
	// The batch may still be running.
	ErrUpdateTimeout = errors.New("filter update timed out")
	// ErrInvalidInput covers nil requests, blank URLs and bad source specs.
	ErrInvalidInput = errors.New("invalid input")
)

// DownloadError carries the details of a failed fetch. It matches ErrDownload
// under errors.Is.
type DownloadError struct {
	SourceID   string
	URL        string
	StatusCode int // 0 when the failure happened before a response
	Err        error
}

func (e *DownloadError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("download %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("download %s failed", e.URL)
	}
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Is(target error) bool { return target == ErrDownload }
