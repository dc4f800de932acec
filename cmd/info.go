/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/allbin/forcerig/internal/config"
	"github.com/allbin/forcerig/internal/serialport"
)

// infoCmd represents the info command
var infoCmd = &cobra.Command{
	Use:   "info [port]",
	Short: "Show how serial ports map onto the rig",
	Long: `Show what a serial port is to the rig: the actuator link, the
NanoVNA analyzer or unused. For rig ports the USB identity, the link
settings or the analyzer recovery target are shown as well.

Without a port, the configured actuator port and the analyzer (vna.port,
or the first device with the NanoVNA USB id) are shown.

Examples:
  forcerig info
  forcerig info /dev/ttyACM1
  forcerig info --port /dev/serial/by-id/usb-Arduino_Uno-if00 /dev/ttyACM0`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, missing := args, []rigRole(nil)
		if len(ports) == 0 {
			ports, missing = rigPorts(cfg)
		}

		for i, p := range ports {
			if i > 0 {
				fmt.Println()
			}
			info, err := serialport.GetPortInfo(p)
			if err != nil {
				fmt.Printf("%s  %s\n", p, errStyle.Render(fmt.Sprintf("not present: %v", err)))
				continue
			}
			fmt.Print(describePort(info, cfg))
		}
		for _, r := range missing {
			fmt.Printf("%s  %s\n", string(r), warnStyle.Render("not found"))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

// describePort renders the rig view of one port.
func describePort(info *serialport.PortInfo, c *config.Config) string {
	var b strings.Builder
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(&b, "  %-12s %s\n", name, value)
		}
	}

	role := portRole(info, c)
	switch role {
	case roleNone:
		fmt.Fprintf(&b, "%s  %s\n", info.Path, dimStyle.Render("unused"))
	default:
		fmt.Fprintf(&b, "%s  %s\n", info.Path, okStyle.Render(string(role)))
	}

	_, kind := portKind(info.Name)
	field("type", kind)
	if info.IsUSB() {
		id := info.VendorID + ":" + info.ProductID
		if info.SerialNumber != "" {
			id += "  serial " + info.SerialNumber
		}
		field("usb", id)
		field("bus/device", busDevice(info))
		field("product", strings.TrimSpace(info.Manufacturer+" "+info.Product))
	} else {
		field("description", info.Description)
	}

	switch role {
	case roleActuator:
		field("link", fmt.Sprintf("%d baud, boot delay %s, %d connect retries",
			c.Link.BaudRate, c.Link.BootDelay, c.Link.MaxRetries))
	case roleAnalyzer:
		if !isAnalyzer(info) && info.IsUSB() {
			field("warning", warnStyle.Render("USB id is not a NanoVNA"))
		}
		field("recovery", recoveryTarget(info, c))
		cal := c.VNA.CalibrationFile
		if cal == "" {
			cal = "none"
		}
		field("calibration", cal)
	}
	return b.String()
}

func busDevice(info *serialport.PortInfo) string {
	if info.BusNumber == "" || info.DeviceNumber == "" {
		return ""
	}
	return info.BusNumber + "/" + info.DeviceNumber
}
