package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/tutu-network/vpcsim/internal/app/cycle"
)

// printReport writes the cycle's summary line and, when verbose, its
// decision table.
func printReport(w io.Writer, rep *cycle.Report, verbose bool) {
	if rep.Halted {
		fmt.Fprintf(w, "%s | halted: %s\n", rep.Time.Format("15:04:05"), rep.HaltReason)
		return
	}
	fmt.Fprintln(w, rep.LogLine)
	for _, r := range rep.Resolved {
		fmt.Fprintf(w, "  %-10s %s (pid %d) score %.2f: %s\n", r.Action, r.Name, r.PID, r.Score, r.Reason)
	}
	if !verbose {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  PID\tNAME\tV_CPU\tV_RAM\tSCORE\tACTION")
	for _, d := range rep.Decisions {
		fmt.Fprintf(tw, "  %d\t%s\t%.2f\t%.2f\t%.3f\t%s\n",
			d.PID, d.Name, d.VCPUAlloc, d.VRAMAlloc, d.Score, d.Action)
	}
	_ = tw.Flush()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
