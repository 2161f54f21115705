package domain

import (
	"time"
)

// JobState tracks one report job through the remote processing lifecycle.
type JobState string

const (
	JobStateCreated  JobState = "created"
	JobStatePolling  JobState = "polling"
	JobStateDone     JobState = "done"
	JobStateFailed   JobState = "failed"
	JobStateTimedOut JobState = "timed_out"
)

// ReportRequest identifies one unit of report work. Immutable once built.
type ReportRequest struct {
	ReportType     string
	MarketplaceIDs []string
	StartTime      time.Time
	EndTime        time.Time
	Options        map[string]string
}

// ReportJob is the live handle for one ReportRequest execution. It is owned
// exclusively by the protocol call driving it and discarded when that call
// returns.
type ReportJob struct {
	ReportID   string
	State      JobState
	DocumentID string
	Attempts   int
}

type Encoding string

const (
	EncodingUTF8     Encoding = "utf-8"
	EncodingShiftJIS Encoding = "shift-jis"
	EncodingCP932    Encoding = "cp932"
	EncodingLatin1   Encoding = "latin-1"
)

// Payload is the decoded content of one downloaded report document.
type Payload struct {
	Encoding   Encoding
	Compressed bool
	Text       string
}

// Empty reports whether the payload carries no usable content.
func (p Payload) Empty() bool {
	for _, r := range p.Text {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}

// RetryPolicy bounds transport retries. The delay before retry attempt i is
// Backoff[min(i, len(Backoff)-1)].
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// Delay returns the wait before the retry following attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if attempt >= len(p.Backoff) {
		attempt = len(p.Backoff) - 1
	}
	return p.Backoff[attempt]
}
