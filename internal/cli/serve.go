package cli

import (
	"github.com/spf13/cobra"

	"github.com/tutu-network/vpcsim/internal/daemon"
)

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to listen on (overrides config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", false, "Inject the demo synthetic tasks")
	rootCmd.AddCommand(serveCmd)
}

var (
	serveHost string
	servePort int
	serveDemo bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulation loop with the HTTP API",
	Long:  `Run cycles in the background and serve status, decisions and history at localhost:7878.`,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	c := cfg
	if serveHost != "" {
		c.API.Host = serveHost
	}
	if servePort > 0 {
		c.API.Port = servePort
	}
	if serveDemo {
		c.Simulation.DemoTasks = true
	}

	d, err := daemon.NewWithConfig(c)
	if err != nil {
		return err
	}
	defer d.Close()

	return d.Serve(cmd.Context())
}
