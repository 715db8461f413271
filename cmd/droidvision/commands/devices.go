package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/astromech-labs/droidvision/internal/source"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available camera devices",
	Long: `List V4L2 camera devices with their supported pixel formats and frame
sizes. Useful when picking a device node and resolution for serve.`,
	Example: `  # List devices in table format (default)
  droidvision devices

  # List devices in JSON format
  droidvision devices --format json`,
	RunE: runDevices,
}

var devicesFormat string

func init() {
	rootCmd.AddCommand(devicesCmd)

	devicesCmd.Flags().StringVarP(&devicesFormat, "format", "f", "table", "output format (table or json)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	devices, err := source.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate devices: %w", err)
	}

	if len(devices) == 0 {
		fmt.Println("No camera devices found")
		return nil
	}

	switch devicesFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(devices)
	case "table":
		return printDevicesTable(devices)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", devicesFormat)
	}
}

func printDevicesTable(devices []source.DeviceInfo) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "DEVICE\tFORMAT\tDESCRIPTION\tSIZES")
	fmt.Fprintln(w, "------\t------\t-----------\t-----")

	for _, dev := range devices {
		if len(dev.Formats) == 0 {
			fmt.Fprintf(w, "%s\t-\t-\t-\n", dev.Path)
			continue
		}
		for _, f := range dev.Formats {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", dev.Path, f.FourCC, f.Description, strings.Join(f.Sizes, ", "))
		}
	}

	return nil
}
