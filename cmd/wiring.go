/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"context"

	"github.com/allbin/forcerig/internal/config"
	"github.com/allbin/forcerig/internal/journal"
	"github.com/allbin/forcerig/internal/usbpower"
	"github.com/allbin/forcerig/internal/vna"
)

// newCycler builds the analyzer recovery method selected by usb.method.
func newCycler(c *config.Config) vna.PowerCycler {
	switch c.USB.Method {
	case config.MethodUhubctl:
		pc := usbpower.NewController(c.USB.HubLocation, c.USB.HubPort)
		pc.Binary = c.USB.Binary
		pc.Sudo = c.USB.Sudo
		pc.Timeout = c.USB.Timeout
		return pc
	case config.MethodUSBReset:
		rc := usbpower.NewResetCycler(c.VNA.Port)
		if c.VNA.Port == "" {
			rc.VendorID, rc.ProductID = vna.NanoVNAVendorID, vna.NanoVNAProductID
		}
		rc.Sudo = c.USB.Sudo
		rc.Timeout = c.USB.Timeout
		return rc
	default:
		return nil
	}
}

func newAnalyzer(opts ...vna.Option) *vna.Controller {
	return vna.New(
		cfg.VNA.ControllerSettings(cfg.Output.Dir),
		vna.NanoVNAConnector(cfg.VNA.DriverSettings(), nil),
		newCycler(cfg),
		opts...,
	)
}

// openJournal returns nil when the journal is disabled.
func openJournal(ctx context.Context) (*journal.Store, error) {
	if !cfg.Journal.Enabled {
		return nil, nil
	}
	return journal.Open(ctx, cfg.Journal.Path)
}
