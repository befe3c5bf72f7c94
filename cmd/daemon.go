package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/daemon"
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the netcore daemon in foreground",
	Long: `Run the netcore daemon process in foreground.

The daemon will:
  1. Load global configuration from config file
  2. Initialize logging, capture and metrics
  3. Create the configured devices, bind their addresses, add routes
  4. Open the configured UDP echo and TCP listen services
  5. Start the UDS server for CLI control
  6. Handle signals for graceful shutdown (SIGTERM, SIGINT) and reload (SIGHUP)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon()
	},
}

var pidFile string

func init() {
	daemonCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "",
		"PID file path (default: control.pid_file from the config)")
}

func runDaemon() error {
	sock := socketPath
	if !rootCmd.PersistentFlags().Changed("socket") {
		// let control.socket from the config decide
		sock = ""
	}

	// Create daemon instance
	d, err := daemon.New(configFile, sock, pidFile)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	// Start all components
	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// Run main loop (blocks until shutdown)
	return d.Run()
}
