// Package reporter emits the single contractual aggregate line on engine
// teardown (spec.md §4.6).
package reporter

import (
	"fmt"
	"io"
	"time"
)

// Totals mirrors engine.Totals so this package does not need to import
// pkg/engine; both the poll-based Engine and the thread-per-client driver
// produce the same three aggregate counters.
type Totals struct {
	Speed  int
	Failed int
	Bytes  int
}

// Emit writes the exact contractual line to w:
//
//	Bench is done. speed=[S], bytes=[B], failed=[F].
//
// elapsed is appended only for the thread-per-client alternative driver
// (spec.md §4.6); pass 0 to omit it.
func Emit(w io.Writer, t Totals, elapsed time.Duration) {
	fmt.Fprintf(w, "Bench is done. speed=%d, bytes=%d, failed=%d.", t.Speed, t.Bytes, t.Failed)
	if elapsed > 0 {
		fmt.Fprintf(w, " elapsed=%.0fs", elapsed.Seconds())
	}
	fmt.Fprintln(w)
}
