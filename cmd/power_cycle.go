/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/config"
	"github.com/allbin/forcerig/internal/usbpower"
	"github.com/allbin/forcerig/internal/vna"
)

var (
	powerCycleOff      time.Duration
	powerCycleUSBReset string
)

// powerCycleCmd represents the power-cycle command
var powerCycleCmd = &cobra.Command{
	Use:   "power-cycle",
	Short: "Power cycle the analyzer's USB port",
	Long: `Switch the analyzer's USB hub port off and on again with uhubctl,
or perform a USB-level reset with usbreset. This recovers an analyzer that
has stopped responding without physically unplugging it.

The device re-enumerates afterwards and its tty path may change.

Requirements:
- uhubctl (per-port power switching hub) or usbreset (usbutils)
- Root/sudo permissions for USB operations

Examples:
  forcerig power-cycle                       # uhubctl, usb.hub_location/usb.hub_port
  forcerig power-cycle --off 10s
  forcerig power-cycle --usbreset /dev/ttyACM1`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := *cfg
		if cmd.Flags().Changed("usbreset") {
			c.USB.Method = config.MethodUSBReset
			c.VNA.Port = powerCycleUSBReset
		}

		cycler := newCycler(&c)
		if cycler == nil {
			return fmt.Errorf("usb.method is %q, nothing to do", c.USB.Method)
		}

		switch c.USB.Method {
		case config.MethodUhubctl:
			fmt.Printf("Power cycling hub %s port %d (off %s)\n", c.USB.HubLocation, c.USB.HubPort, powerCycleOff)
		default:
			target := c.VNA.Port
			if target == "" {
				target = vna.NanoVNAVendorID + ":" + vna.NanoVNAProductID
			}
			fmt.Printf("Resetting USB device: %s\n", target)
		}

		if err := cycler.PowerCycle(cmd.Context(), powerCycleOff); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			switch {
			case errors.Is(err, usbpower.ErrToolNotAvailable):
				fmt.Fprintln(os.Stderr, "Install with: sudo apt-get install uhubctl usbutils")
			case errors.Is(err, usbpower.ErrUSBInfoNotAvailable):
				fmt.Fprintln(os.Stderr, "This device does not appear to be a USB device")
			}
			return err
		}

		fmt.Println(okStyle.Render("USB device power cycled"))
		fmt.Println("Device will re-enumerate (port path may change)")
		fmt.Println("\nUse 'forcerig list --table' to see updated device list")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(powerCycleCmd)

	powerCycleCmd.Flags().DurationVar(&powerCycleOff, "off", 5*time.Second, "How long the port stays off (uhubctl only)")
	powerCycleCmd.Flags().StringVar(&powerCycleUSBReset, "usbreset", "", "Reset the device at this port with usbreset instead of uhubctl")
}
