// Package hostcli is the command-line surface of the HID host.
package hostcli

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/internal/hidsvc"
	"github.com/usbforge/hidhost/pkg/host"
)

func Main(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) error {
	dir, err := os.UserConfigDir()
	if err != nil {
		return err
	}
	cmd := NewRootCmd(filepath.Join(dir, "hidhost"))
	cmd.SetArgs(args)
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	return cmd.ExecuteContext(ctx)
}

type hostProvider func() *host.Host

func NewRootCmd(configDir string) *cobra.Command {
	cfg := host.Config{
		DataDir:       filepath.Join(configDir, "data"),
		DriversConfig: filepath.Join(configDir, "drivers.yml"),
		CaptureFile:   filepath.Join(configDir, "capture.yml"),
	}
	rootCmd := &cobra.Command{
		Use:   "hidhost",
		Short: "USB HID host",
		Long:  `hidhost parses HID report descriptors and dispatches input reports to drivers.`,
	}
	var h *host.Host
	hostProvider := func() *host.Host {
		return h
	}
	rootCmd.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&cfg.DriversConfig, "drivers-config", cfg.DriversConfig, "drivers config file")
	rootCmd.PersistentFlags().StringVar(&cfg.CaptureFile, "capture-file", cfg.CaptureFile, "replay capture file")
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		var err error
		h, err = host.NewHost(cfg)
		return err
	}
	rootCmd.AddCommand(NewRun(hostProvider))
	rootCmd.AddCommand(NewListDevices(hostProvider))
	rootCmd.AddCommand(NewGetDescriptor(hostProvider))
	rootCmd.AddCommand(NewParseDescriptor(hostProvider))
	return rootCmd
}

func NewRun(host hostProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the HID host",
		Long:  `Run the HID host until interrupted, dispatching input reports to drivers.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer host().Close()
			return host().Run(cmd.Context())
		},
	}
}

func NewListDevices(host hostProvider) *cobra.Command {
	return &cobra.Command{
		Use:   "list-devices",
		Short: "List known HID devices",
		Long:  `List HID devices the host has seen, connected or not.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			defer host().Close()
			devices, err := host().HID().ListDevices()
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(devices, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
}

func NewGetDescriptor(host hostProvider) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "get-descriptor <addr>",
		Short: "Get a device's report descriptor",
		Long:  `Print the cached report descriptor of a HID device, hex encoded by default.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer host().Close()
			addr, err := hidsvc.ParseAddress(args[0])
			if err != nil {
				return err
			}
			desc, err := host().HID().CachedDescriptor(addr)
			if err != nil {
				return err
			}
			if raw {
				cmd.OutOrStdout().Write(desc)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(desc))
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print raw descriptor bytes")
	return cmd
}

func NewParseDescriptor(host hostProvider) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "parse-descriptor [<addr>]",
		Short: "Parse a report descriptor",
		Long:  `Parse a report descriptor into its collection tree and print it as JSON. Reads the cached descriptor of the addressed device, or raw bytes from --file.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defer host().Close()
			var desc []byte
			switch {
			case file != "":
				var err error
				desc, err = os.ReadFile(file)
				if err != nil {
					return err
				}
			case len(args) == 1:
				addr, err := hidsvc.ParseAddress(args[0])
				if err != nil {
					return err
				}
				desc, err = host().HID().CachedDescriptor(addr)
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("usage: parse-descriptor <addr> or parse-descriptor --file <path>")
			}
			dev, err := hid.Parse(desc)
			if err != nil {
				return err
			}
			jsonB, err := json.MarshalIndent(dev.Collections, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonB))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "read the descriptor from a file instead of the cache")
	return cmd
}
