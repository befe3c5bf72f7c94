package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Query the netcore daemon for its overall status.

Shows: version, uptime, routing switch, device count, table occupancy and
buffer pool census.`,
	Args: cobra.NoArgs,
	RunE: callCmd("daemon_status", nil),
}

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Show packet buffer pool statistics",
	Args:  cobra.NoArgs,
	RunE:  callCmd("pool_stats", nil),
}

var socketsCmd = &cobra.Command{
	Use:   "sockets",
	Short: "List allocated sockets",
	Args:  cobra.NoArgs,
	RunE:  callCmd("socket_list", nil),
}
