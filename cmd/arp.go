package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var arpCmd = &cobra.Command{
	Use:   "arp",
	Short: "Inspect and manage the ARP cache",
}

var arpListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached link addresses",
	Args:  cobra.NoArgs,
	RunE:  callCmd("arp_list", nil),
}

var arpFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Remove every non-permanent record",
	Args:  cobra.NoArgs,
	RunE:  callCmd("arp_flush", nil),
}

var arpQueryCmd = &cobra.Command{
	Use:   "query <address>",
	Short: "Look up an address, sending a request when it is not cached",
	Args:  cobra.ExactArgs(1),
	RunE: callCmd("arp_query", func(args []string) (interface{}, error) {
		return command.AddressParams{Address: args[0]}, nil
	}),
}

func init() {
	arpCmd.AddCommand(arpListCmd, arpFlushCmd, arpQueryCmd)
}
