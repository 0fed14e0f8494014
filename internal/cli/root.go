// Package cli implements the vpcsim command-line interface using Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/daemon"
	xlog "github.com/tutu-network/vpcsim/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "vpcsim",
	Short: "vpcsim — a virtual PC contention simulator",
	Long: `vpcsim projects the processes running on this host onto a small
virtual machine budget, scores each one for contention every cycle and
decides which to keep waiting, preempt, kill or flag as deadlocked.

Nothing on the host is ever signalled; every decision is simulated.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

var (
	flagHome     string
	flagLogLevel string
	flagPretty   bool
	flagPreset   string
	flagPolicy   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagHome, "home", "", "Data directory (default $VPCSIM_HOME or ~/.vpcsim)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&flagPretty, "pretty", false, "Human-readable log output")
	pf.StringVar(&flagPreset, "preset", "", "Policy preset (low-end, standard)")
	pf.StringVar(&flagPolicy, "policy", "", "Policy file (.toml or .yaml) layered over the preset")
}

// cfg is resolved once per invocation by setup.
var cfg daemon.Config

func setup(cmd *cobra.Command, args []string) error {
	home := flagHome
	if home == "" {
		home = daemon.Home()
	}
	loaded, err := daemon.LoadConfigWith(home, daemon.PolicyFlags{
		Preset:     flagPreset,
		PolicyFile: flagPolicy,
	})
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		loaded.Logging.Level = flagLogLevel
	}
	if flagPretty {
		loaded.Logging.Pretty = true
	}
	xlog.Configure(xlog.Config{
		Level:  loaded.Logging.Level,
		Pretty: loaded.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	cfg = loaded
	return nil
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
