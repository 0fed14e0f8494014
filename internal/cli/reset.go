package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/infra/statefile"
)

func init() {
	rootCmd.AddCommand(resetCmd)
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget persisted wait times, usage history and cycle history",
	RunE:  runReset,
}

func runReset(cmd *cobra.Command, args []string) error {
	store := statefile.New(cfg.Storage.StateFile, cfg.Policy.RefreshInterval)
	if err := store.Reset(); err != nil {
		return err
	}

	db, err := openHistory(cfg.Home)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := db.Reset(); err != nil {
			return err
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Session state cleared.")
	return nil
}
