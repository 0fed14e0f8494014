package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/app/cycle"
	"github.com/tutu-network/vpcsim/internal/daemon"
)

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runCycles, "cycles", "n", 0, "Stop after N cycles (0 runs until interrupted)")
	f.DurationVar(&runInterval, "interval", 0, "Cycle interval (default: policy refresh_interval)")
	f.BoolVar(&runDemo, "demo", false, "Inject the demo synthetic tasks")
	f.BoolVar(&runEphemeral, "ephemeral", false, "Keep session state in memory only")
	f.StringVar(&runReplay, "replay", "", "Replay host snapshots from a JSON file instead of sampling")
	f.BoolVarP(&runVerbose, "verbose", "v", false, "Print every decision")
	rootCmd.AddCommand(runCmd)
}

var (
	runCycles    int
	runInterval  time.Duration
	runDemo      bool
	runEphemeral bool
	runReplay    string
	runVerbose   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation loop in the foreground",
	Long: `Sample the host every refresh interval, score every process and print
one summary line per cycle. Ctrl-C stops the loop; session state is saved
after every cycle.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	c := cfg
	if runInterval > 0 {
		c.Simulation.Interval = runInterval
	}
	if runDemo {
		c.Simulation.DemoTasks = true
	}
	if runEphemeral {
		c.Storage.Ephemeral = true
	}
	if runReplay != "" {
		c.Simulation.ReplayFile = runReplay
	}

	out := cmd.OutOrStdout()
	d, err := daemon.NewWithConfig(c, daemon.WithOnCycle(func(rep *cycle.Report) {
		printReport(out, rep, runVerbose)
	}))
	if err != nil {
		return err
	}
	defer d.Close()

	return d.RunLoop(cmd.Context(), runCycles)
}
