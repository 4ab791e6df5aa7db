package sync

import (
	"context"
	"errors"
	"net"
	"time"

	"bioquest/pkg/inat"
)

// Severity partitions sync failures by how the pipeline should react.
type Severity string

const (
	// SeverityFatal aborts the sync immediately; retrying cannot help
	// (bad or revoked credentials).
	SeverityFatal Severity = "fatal"
	// SeverityRecoverable is retried with backoff.
	SeverityRecoverable Severity = "recoverable"
	// SeverityWarning marks side work (leaderboard refresh, queue
	// notification) whose failure must not fail the sync.
	SeverityWarning Severity = "warning"
)

// ClassifiedError wraps a pipeline failure with its severity and retry hint.
type ClassifiedError struct {
	Err        error
	Severity   Severity
	Retryable  bool
	RetryAfter time.Duration
	Stage      string
}

func (e *ClassifiedError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify maps an error from a sync stage onto a severity and retry delay.
//
// HTTP status mapping: 401/403 are fatal; 429 is retryable after 60s; 408 and
// 5xx after 5s; 409 is a concurrent-sync conflict, reported but never
// retried. Network-level errors retry after 5s, anything unrecognized after
// 3s.
func Classify(stage string, err error) *ClassifiedError {
	ce := &ClassifiedError{Err: err, Stage: stage}

	switch status := inat.StatusOf(err); {
	case status == 401 || status == 403:
		ce.Severity = SeverityFatal
		return ce
	case status == 409:
		ce.Severity = SeverityRecoverable
		ce.Retryable = false
		return ce
	case status == 429:
		ce.Severity = SeverityRecoverable
		ce.Retryable = true
		ce.RetryAfter = 60 * time.Second
		return ce
	case status == 408 || status >= 500:
		ce.Severity = SeverityRecoverable
		ce.Retryable = true
		ce.RetryAfter = 5 * time.Second
		return ce
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		ce.Severity = SeverityRecoverable
		ce.Retryable = true
		ce.RetryAfter = 5 * time.Second
		return ce
	}

	ce.Severity = SeverityRecoverable
	ce.Retryable = true
	ce.RetryAfter = 3 * time.Second
	return ce
}

// IsConflict reports whether err is a concurrent-sync conflict (another sync
// already holds the guard, or the API returned 409).
func IsConflict(err error) bool {
	if errors.Is(err, ErrSyncInProgress) {
		return true
	}
	return inat.StatusOf(err) == 409
}
