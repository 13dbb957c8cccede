package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/x-stp/o365scan/internal/classify"
)

// outcome is the classification of one address on its way to the committer.
type outcome struct {
	index  int
	email  string
	domain string
	result classify.Result
	err    error
}

// matchLine formats a matched address for the results list.
func matchLine(email, domain string, r classify.Result) string {
	return fmt.Sprintf("%s\t%s\t%s", email, domain, r.Exchange)
}

// RunStats holds the counters of the current run. It is updated by the
// committer and may be read concurrently.
type RunStats struct {
	StartTime  time.Time
	StartIndex int
	Total      int
	Processed  atomic.Int64 // Addresses committed in this run.
	Matched    atomic.Int64 // O365 addresses committed in this run.
	Saves      atomic.Int64
	Dispatched atomic.Int64 // Parallel mode only.
}

// Rate returns addresses per second since the run started, truncated.
func (s *RunStats) Rate(now time.Time) int {
	elapsed := now.Sub(s.StartTime).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return int(float64(s.Processed.Load()) / elapsed)
}

// Summary describes a finished or interrupted run.
type Summary struct {
	Total      int
	StartIndex int
	NextIndex  int
	Processed  int
	Matched    int // Total O365 lines, prior runs included.
	Results    []string
	Elapsed    time.Duration
	Completed  bool
}
