package cli

import (
	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/daemon"
)

func init() {
	onceCmd.Flags().BoolVar(&onceJSON, "json", false, "Print the full cycle report as JSON")
	onceCmd.Flags().BoolVar(&onceDemo, "demo", false, "Inject the demo synthetic tasks")
	onceCmd.Flags().StringVar(&onceReplay, "replay", "", "Replay host snapshots from a JSON file instead of sampling")
	rootCmd.AddCommand(onceCmd)
}

var (
	onceJSON   bool
	onceDemo   bool
	onceReplay string
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single cycle and print its decisions",
	RunE:  runOnce,
}

func runOnce(cmd *cobra.Command, args []string) error {
	c := cfg
	if onceDemo {
		c.Simulation.DemoTasks = true
	}
	if onceReplay != "" {
		c.Simulation.ReplayFile = onceReplay
	}

	d, err := daemon.NewWithConfig(c)
	if err != nil {
		return err
	}
	defer d.Close()

	rep, err := d.Engine.Step(cmd.Context())
	if err != nil {
		return err
	}
	if onceJSON {
		return printJSON(cmd.OutOrStdout(), rep)
	}
	printReport(cmd.OutOrStdout(), rep, true)
	return nil
}
