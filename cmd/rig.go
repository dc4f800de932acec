/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/allbin/forcerig/internal/config"
	"github.com/allbin/forcerig/internal/serialport"
	"github.com/allbin/forcerig/internal/usbpower"
	"github.com/allbin/forcerig/internal/vna"
)

// rigRole is what a serial port is used for by the rig.
type rigRole string

const (
	roleNone     rigRole = ""
	roleActuator rigRole = "actuator"
	roleAnalyzer rigRole = "analyzer"
)

// samePort compares two device paths, following /dev/serial/by-id style
// symlinks when they resolve.
func samePort(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return resolvePort(a) == resolvePort(b)
}

func resolvePort(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return filepath.Clean(p)
}

func isAnalyzer(info *serialport.PortInfo) bool {
	return strings.EqualFold(info.VendorID, vna.NanoVNAVendorID) &&
		strings.EqualFold(info.ProductID, vna.NanoVNAProductID)
}

// portRole matches a port against link.port and the analyzer settings.
// Without vna.port the analyzer is recognized by its USB id.
func portRole(info *serialport.PortInfo, c *config.Config) rigRole {
	if samePort(info.Path, c.Link.Port) {
		return roleActuator
	}
	if !c.VNA.Enabled {
		return roleNone
	}
	if c.VNA.Port != "" {
		if samePort(info.Path, c.VNA.Port) {
			return roleAnalyzer
		}
		return roleNone
	}
	if isAnalyzer(info) {
		return roleAnalyzer
	}
	return roleNone
}

// recoveryTarget describes how the analyzer at info is recovered when it
// hangs.
func recoveryTarget(info *serialport.PortInfo, c *config.Config) string {
	switch c.USB.Method {
	case config.MethodUhubctl:
		return fmt.Sprintf("uhubctl hub %s port %d", c.USB.HubLocation, c.USB.HubPort)
	case config.MethodUSBReset:
		p, err := usbpower.DevicePath(info)
		if err != nil {
			return "usbreset (device path unknown)"
		}
		return "usbreset " + p
	default:
		return "none"
	}
}

// rigPorts returns the ports the configuration points at. The analyzer is
// looked up by USB id when vna.port is empty; missing names the roles that
// could not be placed.
func rigPorts(c *config.Config) (ports []string, missing []rigRole) {
	if c.Link.Port != "" {
		ports = append(ports, c.Link.Port)
	} else {
		missing = append(missing, roleActuator)
	}

	if !c.VNA.Enabled {
		return ports, missing
	}
	if c.VNA.Port != "" {
		return append(ports, c.VNA.Port), missing
	}
	info, err := serialport.FindByUSBID(vna.NanoVNAVendorID, vna.NanoVNAProductID)
	if err != nil {
		return ports, append(missing, roleAnalyzer)
	}
	return append(ports, info.Path), missing
}
