package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/domain"
	"github.com/tutu-network/vpcsim/internal/infra/sqlite"
	"github.com/tutu-network/vpcsim/internal/infra/statefile"
)

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of resolved tasks to show")
	rootCmd.AddCommand(statusCmd, historyCmd)
}

var historyLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last recorded cycle and persisted session state",
	RunE:  runStatus,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently resolved tasks",
	RunE:  runHistory,
}

// openHistory opens the history database in home only if one already
// exists. A missing database is not an error; the DB is nil.
func openHistory(home string) (*sqlite.DB, error) {
	_, err := os.Stat(filepath.Join(home, sqlite.FileName))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("open history: %w", err)
	}
	return sqlite.Open(home)
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Policy:  %s (%gMB / %g units)\n", cfg.Policy.Name, cfg.Policy.RAMMB, cfg.Policy.CPUUnits)

	state, err := statefile.New(cfg.Storage.StateFile, cfg.Policy.RefreshInterval).Load()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "State:   %s (%d waits, %d names)\n", cfg.Storage.StateFile, len(state.WaitTimes), len(state.UsageHistory))

	db, err := openHistory(cfg.Home)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Fprintln(out, "History: none recorded yet")
		return nil
	}
	defer db.Close()

	last, err := db.LastCycle()
	if err != nil {
		return err
	}
	if last == nil {
		fmt.Fprintln(out, "History: no cycles recorded")
		return nil
	}
	fmt.Fprintf(out, "Last:    %s\n", last.Line)

	counts, err := db.ResolvedCounts()
	if err != nil {
		return err
	}
	for _, a := range []domain.Action{domain.ActionKill, domain.ActionDeadlocked, domain.ActionEvicted} {
		fmt.Fprintf(out, "  %-10s %d\n", a, counts[a])
	}
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	db, err := openHistory(cfg.Home)
	if err != nil {
		return err
	}
	if db == nil {
		fmt.Fprintln(out, "No history recorded yet. Run 'vpcsim run' to get started.")
		return nil
	}
	defer db.Close()

	records, err := db.RecentResolved(historyLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(out, "No resolved tasks.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPID\tNAME\tACTION\tSCORE\tV_RAM")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.3f\t%.2f\n",
			r.Time.Local().Format("2006-01-02 15:04:05"),
			r.PID,
			r.Name,
			r.Action,
			r.Score,
			r.VRAMAlloc,
		)
	}
	return w.Flush()
}
