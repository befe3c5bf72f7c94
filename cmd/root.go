// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
	"firestige.xyz/netcore/internal/config"
)

var (
	// Global flags
	configFile string
	socketPath string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "netcore",
	Short: "netcore - a minimal user-space IPv4 network stack",
	Long: `netcore is a small user-space IPv4 stack: Ethernet framing, ARP,
static routing and forwarding, ICMP echo, UDP sockets and a TCP handshake
responder, running over loopback or Linux TAP devices.

The daemon owns the stack; every other command talks to it over the control
socket.`,
	Version:       command.Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/netcore/config.yml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", config.DefaultSocket,
		"daemon socket path")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second,
		"control request timeout")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(poolCmd)
	rootCmd.AddCommand(ifaceCmd)
	rootCmd.AddCommand(arpCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(routingCmd)
	rootCmd.AddCommand(socketsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(configCmd)
}

// Client is the part of the control socket client the commands need.
type Client interface {
	Result(ctx context.Context, method string, params interface{}) (interface{}, error)
}

// newClient is replaced in tests.
var newClient = func() Client {
	return command.NewUDSClient(socketPath, timeout)
}

// runCall sends one control request and prints its result as indented
// JSON.
func runCall(ctx context.Context, client Client, out io.Writer, method string, params interface{}) error {
	result, err := client.Result(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	resultJSON, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(resultJSON))
	return nil
}

// callCmd builds the RunE of a command that maps its arguments onto one
// control method.
func callCmd(method string, params func(args []string) (interface{}, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var p interface{}
		if params != nil {
			var err error
			if p, err = params(args); err != nil {
				return err
			}
		}
		return runCall(cmd.Context(), newClient(), cmd.OutOrStdout(), method, p)
	}
}
