package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/config"
	"firestige.xyz/netcore/internal/core"
	"firestige.xyz/netcore/internal/daemon"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the netcore daemon",
	Long: `Stop the netcore daemon gracefully.

This command sends daemon_shutdown over the control socket. When the socket
is gone but the PID file is still there, the recorded process gets SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd.Context(), newClient(), stopPIDFile, cmd.OutOrStdout())
	},
}

var stopPIDFile string

func init() {
	stopCmd.Flags().StringVarP(&stopPIDFile, "pidfile", "p", config.DefaultPIDFile,
		"PID file used when the control socket does not answer")
}

// signalProcess is replaced in tests.
var signalProcess = func(pid int, sig os.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func runStop(ctx context.Context, client Client, pidPath string, out io.Writer) error {
	_, err := client.Result(ctx, "daemon_shutdown", nil)
	if err == nil {
		fmt.Fprintln(out, "✓ Daemon is shutting down")
		return nil
	}
	if !errors.Is(err, core.ErrDaemonNotRunning) {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	pid, pidErr := daemon.ReadPIDFile(pidPath)
	if pidErr != nil {
		return err
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal daemon (pid %d): %w", pid, err)
	}
	fmt.Fprintf(out, "✓ Sent SIGTERM to daemon (pid %d)\n", pid)
	return nil
}
