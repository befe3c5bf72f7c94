package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/netcore/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration",
	Long: `Write a starter configuration holding a loopback device with
127.0.0.1/8 and a UDP echo service on port 7. Without --output the file is
printed to stdout.

Examples:
  netcore config init
  netcore config init -o /etc/netcore/config.yml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigInit(initOutput, initForce, cmd.OutOrStdout())
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file without starting the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runConfigValidate(configFile, cmd.OutOrStdout())
	},
}

var (
	initOutput string
	initForce  bool
)

func init() {
	configInitCmd.Flags().StringVarP(&initOutput, "output", "o", "", "write to this file instead of stdout")
	configInitCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configValidateCmd)
}

func runConfigInit(path string, force bool, out io.Writer) error {
	if path == "" {
		return config.WriteSample(out, config.Default())
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if force {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := config.WriteSample(f, config.Default()); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(out, "✓ Wrote %s\n", path)
	return nil
}

func runConfigValidate(path string, out io.Writer) error {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	addrs := 0
	for _, d := range cfg.Devices {
		addrs += len(d.Addresses)
	}
	fmt.Fprintf(out, "VALID: %d device(s), %d address(es), %d route(s), %d service port(s)\n",
		len(cfg.Devices),
		addrs,
		len(cfg.Routes),
		len(cfg.Services.UDPEcho)+len(cfg.Services.TCPListen),
	)
	return nil
}
