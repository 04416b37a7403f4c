package models

import (
	"errors"
	"fmt"
)

// ──────────────────── Error kinds ────────────────────

type ErrorKind string

const (
	ErrValidation        ErrorKind = "ValidationError"
	ErrAuth              ErrorKind = "AuthError"
	ErrNotFound          ErrorKind = "NotFound"
	ErrUpstreamPrivate   ErrorKind = "UpstreamPrivate"
	ErrUpstreamNotFound  ErrorKind = "UpstreamNotFound"
	ErrNavigationTimeout ErrorKind = "NavigationTimeout"
	ErrBrowserLaunch     ErrorKind = "BrowserLaunchError"
	ErrExtractionEmpty   ErrorKind = "ExtractionEmpty"
	ErrExtractionPartial ErrorKind = "ExtractionPartial"
	ErrMetadata          ErrorKind = "MetadataError"
	ErrCacheBackend      ErrorKind = "CacheBackendError"
	ErrTimeout           ErrorKind = "Timeout"
)

// Transient reports whether a failure of this kind should be retried by the
// job processor. Fatal kinds (private list, unknown user, validation) are
// surfaced immediately without requeueing.
func (k ErrorKind) Transient() bool {
	switch k {
	case ErrNavigationTimeout, ErrBrowserLaunch, ErrExtractionEmpty,
		ErrExtractionPartial, ErrCacheBackend, ErrTimeout:
		return true
	default:
		return false
	}
}

// ──────────────────── ScrapeError ────────────────────

// ScrapeError is the typed error that bubbles from the scraping components to
// the job processor, which maps it to Job.Error on final failure.
type ScrapeError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error { return e.Err }

// E builds a ScrapeError. err may be nil.
func E(kind ErrorKind, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the error kind from err, walking the wrap chain.
// Returns "" when no ScrapeError is present.
func KindOf(err error) ErrorKind {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsTransient classifies err for retry purposes. Errors without a ScrapeError
// in their chain are treated as transient: the failure mode is unknown and a
// retry is cheaper than a false-permanent failure.
func IsTransient(err error) bool {
	kind := KindOf(err)
	if kind == "" {
		return true
	}
	return kind.Transient()
}
