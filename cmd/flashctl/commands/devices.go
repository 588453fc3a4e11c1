package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/imagewriter/flashctl/pkg/blockdev"
	"github.com/imagewriter/flashctl/pkg/devices"
	"github.com/imagewriter/flashctl/pkg/engine"
	"github.com/imagewriter/flashctl/pkg/errors"
	"github.com/imagewriter/flashctl/pkg/progress"
)

var devicesOutput string

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List removable devices that can be flashed",
	RunE:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.Flags().StringVarP(&devicesOutput, "output", "o", "table", "Output format (table, json, yaml)")
}

func runDevices(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	manager, err := blockdev.NewManager()
	if err != nil {
		return errors.Wrap(err, "device discovery unavailable")
	}
	defer manager.Close()

	disks, err := manager.ListDevices(ctx)
	if err != nil {
		return errors.Wrap(err, "list devices failed")
	}

	list := make([]devices.Device, 0, len(disks))
	for _, d := range disks {
		list = append(list, devices.Device{ID: d.Path, Label: engine.Label(d, cfg.BinaryUnits), Capacity: d.Size})
	}

	if done, err := writeStructured(os.Stdout, devicesOutput, list); done || err != nil {
		return err
	}

	if len(list) == 0 {
		fmt.Println("No removable devices found")
		return nil
	}

	fmt.Printf("%-20s %-30s %-12s %-10s\n", "DEVICE", "MODEL", "SIZE", "TRANSPORT")
	fmt.Println("--------------------------------------------------------------------------")
	for _, d := range disks {
		model := d.Model
		if model == "" {
			model = "-"
		}
		transport := d.Transport
		if transport == "" {
			transport = "-"
		}
		fmt.Printf("%-20s %-30s %-12s %-10s\n", d.Path, model, progress.FormatBytes(d.Size, cfg.BinaryUnits), transport)
	}
	return nil
}
