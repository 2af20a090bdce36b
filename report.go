package main

import (
	"fmt"
	"io"

	"github.com/buger/gorshift/dispatch"
	"github.com/buger/gorshift/stats"
)

// report prints one line per outcome in input order followed by the
// statistics table, and returns the process exit code.
func report(w io.Writer, outcomes []dispatch.Outcome, s *stats.PeriodStats) int {
	failed := 0
	for _, o := range outcomes {
		fmt.Fprintln(w, o.String())
		if o.Failed() {
			failed++
		}
	}

	if s != nil && len(outcomes) > 0 {
		fmt.Fprintln(w)
		if err := s.WriteTable(w); err != nil {
			Debug("Can't write stats: ", err)
		}
	}

	fmt.Fprintf(w, "%d requests, %d failed\n", len(outcomes), failed)

	if failed > 0 {
		return exitFailure
	}
	return exitOK
}
