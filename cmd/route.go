package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Inspect and manage the routing table",
}

var routeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routes in match order",
	Args:  cobra.NoArgs,
	RunE:  callCmd("route_list", nil),
}

var routeAddCmd = &cobra.Command{
	Use:   "add <network> <mask> <gateway>",
	Short: "Add a route through a gateway",
	Long: `Add a route to network/mask through gateway. The gateway must be
reachable through an existing route, and the network must not be one a
device address already covers.

Examples:
  netcore route add 192.168.0.0 255.255.0.0 10.0.0.254
  netcore route add 0.0.0.0 0.0.0.0 10.0.0.254`,
	Args: cobra.ExactArgs(3),
	RunE: callCmd("route_add", func(args []string) (interface{}, error) {
		return command.RouteParams{Network: args[0], Mask: args[1], Gateway: args[2]}, nil
	}),
}

var routeDeleteCmd = &cobra.Command{
	Use:   "delete <network> <mask>",
	Short: "Delete a route",
	Args:  cobra.ExactArgs(2),
	RunE: callCmd("route_delete", func(args []string) (interface{}, error) {
		return command.RouteParams{Network: args[0], Mask: args[1]}, nil
	}),
}

var routeFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every non-permanent route",
	Args:  cobra.NoArgs,
	RunE:  callCmd("route_flush", nil),
}

var routingCmd = &cobra.Command{
	Use:       "routing <on|off>",
	Short:     "Switch forwarding of datagrams not addressed to this host",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE:      callCmd("routing_set", routingParams),
}

func routingParams(args []string) (interface{}, error) {
	switch strings.ToLower(args[0]) {
	case "on", "true", "1":
		return command.RoutingParams{Enabled: true}, nil
	case "off", "false", "0":
		return command.RoutingParams{Enabled: false}, nil
	default:
		return nil, fmt.Errorf("routing: expected on or off, got %q", args[0])
	}
}

func init() {
	routeCmd.AddCommand(routeListCmd, routeAddCmd, routeDeleteCmd, routeFlushCmd)
}
