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

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List serial ports and their rig roles",
	Long: `List the serial ports on this host and mark the ones the rig uses:
the actuator (link.port) and the analyzer (vna.port, or the NanoVNA USB id
when vna.port is empty).

Filters: usb, standard, arm, rig (only ports the rig uses), all.
Virtual terminals and pseudo-terminals are never listed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := serialport.ListPorts()
		if err != nil {
			return fmt.Errorf("listing ports: %w", err)
		}

		filter, _ := cmd.Flags().GetString("filter")
		table, _ := cmd.Flags().GetBool("table")

		var rows []portRow
		for _, p := range ports {
			if r := newPortRow(p, cfg); r.matches(filter) {
				rows = append(rows, r)
			}
		}
		if len(rows) == 0 {
			if filter != "" {
				fmt.Printf("No serial ports found matching filter: %s\n", filter)
			} else {
				fmt.Println("No serial ports found")
			}
			return nil
		}

		if table {
			renderTable(rows)
		} else {
			renderSimple(rows)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().StringP("filter", "f", "", "Filter: usb, standard, arm, rig, all")
	listCmd.Flags().BoolP("table", "t", false, "Display output in a styled table format")
}

// portKinds classifies device names by prefix; longer prefixes first.
var portKinds = []struct{ prefix, class, label string }{
	{"ttyusb", "usb", "USB Serial"},
	{"ttyacm", "usb", "USB CDC/ACM"},
	{"ttyama", "arm", "ARM Serial"},
	{"ttymxc", "arm", "i.MX Serial"},
	{"ttysac", "arm", "Samsung Serial"},
	{"ttyths", "arm", "Tegra Serial"},
	{"ttyo", "arm", "OMAP Serial"},
	{"ttys", "standard", "Standard Serial"},
}

// portKind returns the filter class and a display label for a device name.
func portKind(name string) (class, label string) {
	name = strings.ToLower(name)
	for _, k := range portKinds {
		if strings.HasPrefix(name, k.prefix) {
			return k.class, k.label
		}
	}
	return "other", "Serial Port"
}

type portRow struct {
	path  string
	class string
	kind  string
	usbID string
	desc  string
	role  rigRole
}

func newPortRow(path string, c *config.Config) portRow {
	info, err := serialport.GetPortInfo(path)
	if err != nil {
		return portRow{path: path, class: "other", kind: "Unknown", desc: fmt.Sprintf("Error: %v", err)}
	}
	return portRowFor(info, c)
}

func portRowFor(info *serialport.PortInfo, c *config.Config) portRow {
	r := portRow{path: info.Path, desc: info.Description, role: portRole(info, c)}
	r.class, r.kind = portKind(info.Name)
	if info.IsUSB() {
		r.usbID = info.VendorID + ":" + info.ProductID
	}
	if info.Product != "" {
		r.desc = info.Product
	}
	return r
}

func (r portRow) matches(filter string) bool {
	switch strings.ToLower(filter) {
	case "", "all":
		return true
	case "rig":
		return r.role != roleNone
	default:
		return r.class == strings.ToLower(filter)
	}
}

func renderTable(rows []portRow) {
	const format = "%-15s %-10s %-16s %-11s %s"

	fmt.Printf("Found %d serial port(s):\n\n", len(rows))
	fmt.Println(headerStyle.Render(fmt.Sprintf(format, "Port", "Role", "Type", "USB ID", "Description")))
	for _, r := range rows {
		role := fmt.Sprintf("%-10s", string(r.role))
		if r.role != roleNone {
			role = okStyle.Render(role)
		}
		fmt.Println(cellStyle.Render(fmt.Sprintf("%-15s %s %-16s %-11s %s", r.path, role, r.kind, r.usbID, r.desc)))
	}
}

// renderSimple prints one port per line, followed by its role if any.
func renderSimple(rows []portRow) {
	for _, r := range rows {
		if r.role == roleNone {
			fmt.Println(r.path)
			continue
		}
		fmt.Printf("%s %s\n", r.path, string(r.role))
	}
}
