package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/command"
)

var ifaceCmd = &cobra.Command{
	Use:     "iface",
	Aliases: []string{"ifconfig"},
	Short:   "Inspect devices and manage their addresses",
}

var ifaceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List devices with addresses and counters",
	Args:  cobra.NoArgs,
	RunE:  callCmd("iface_list", nil),
}

var ifaceBindCmd = &cobra.Command{
	Use:   "bind <device> <address[/prefix]>",
	Short: "Bind an IPv4 address to a device",
	Long: `Bind an IPv4 address to a device. Without a prefix length the netmask
is guessed from the address class (A: /8, B: /16, otherwise /24).

Binding announces the address with an ARP request and installs a permanent
ARP record and a permanent route for its network.`,
	Args: cobra.ExactArgs(2),
	RunE: callCmd("iface_bind", ifaceParams),
}

var ifaceUnbindCmd = &cobra.Command{
	Use:   "unbind <device> <address>",
	Short: "Remove an IPv4 address from a device",
	Args:  cobra.ExactArgs(2),
	RunE:  callCmd("iface_unbind", ifaceParams),
}

var (
	createPort  uint16
	createIRQ   uint8
	createAddrs []string
)

var ifaceCreateCmd = &cobra.Command{
	Use:   "create <name> <loopback|tap> [mac]",
	Short: "Add a device to the running stack",
	Long: `Add a device to the running stack. A tap device attaches to the host
interface of the same name and needs a MAC; a loopback device defaults to
00:00:00:00:00:00.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: callCmd("iface_create", func(args []string) (interface{}, error) {
		p := command.IfaceCreateParams{
			Name:      args[0],
			Driver:    args[1],
			Port:      createPort,
			IRQ:       createIRQ,
			Addresses: createAddrs,
		}
		if len(args) == 3 {
			p.MAC = args[2]
		}
		return p, nil
	}),
}

var ifaceDestroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Remove a device with its addresses, routes and ARP records",
	Args:  cobra.ExactArgs(1),
	RunE: callCmd("iface_destroy", func(args []string) (interface{}, error) {
		return command.IfaceNameParams{Device: args[0]}, nil
	}),
}

func ifaceParams(args []string) (interface{}, error) {
	return command.IfaceAddressParams{Device: args[0], Address: args[1]}, nil
}

func init() {
	ifaceCreateCmd.Flags().Uint16Var(&createPort, "port", 0, "I/O port recorded for the device")
	ifaceCreateCmd.Flags().Uint8Var(&createIRQ, "irq", 0, "IRQ recorded for the device")
	ifaceCreateCmd.Flags().StringSliceVar(&createAddrs, "addr", nil, "address to bind, a.b.c.d[/nn] (repeatable)")
	ifaceCmd.AddCommand(ifaceListCmd, ifaceCreateCmd, ifaceDestroyCmd, ifaceBindCmd, ifaceUnbindCmd)
}
