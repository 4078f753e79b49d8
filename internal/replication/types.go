package replication

import (
	"time"

	"github.com/withObsrvr/erp-mirror/internal/tables"
)

// Result classifies a replication cycle.
type Result string

const (
	ResultSuccess Result = "success"
	ResultPartial Result = "partial"
	ResultFailure Result = "failure"
)

// BatchFailure identifies a batch the mirror did not accept.
type BatchFailure struct {
	Transport string
	Class     tables.Class
	Index     int
	Total     int
	Reset     bool
	Records   int
	Skipped   bool // never sent because the cycle was cancelled
	Err       error
}

// Report is the outcome of one Replicate call.
type Report struct {
	CycleID   string
	Result    Result
	Transport string // transport that carried the final attempt
	FellBack  bool   // direct write failed and the cycle was resent over HTTP

	Extracted map[tables.Class]int
	Written   map[tables.Class]int

	// DirectWritten counts classes committed by the direct transport before
	// it failed and the cycle fell back.
	DirectWritten map[tables.Class]int
	DirectErr     error

	BatchesSent   int
	BatchesFailed int
	Failures      []BatchFailure

	SourceErrors map[tables.Class]error
	Warnings     []string
	Archive      string

	StartedAt   time.Time
	CompletedAt time.Time
}

func newReport(snap tables.Snapshot) Report {
	r := Report{
		CycleID:   snap.CycleID,
		Extracted: make(map[tables.Class]int, len(tables.Classes)),
		Written:   make(map[tables.Class]int, len(tables.Classes)),
		StartedAt: time.Now().UTC(),
	}
	for _, c := range tables.Classes {
		r.Extracted[c] = snap.Len(c)
	}
	return r
}

// Duration returns the wall time of the cycle.
func (r Report) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
