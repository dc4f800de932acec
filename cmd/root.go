/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/allbin/forcerig/internal/config"
	"github.com/allbin/forcerig/internal/logger"
)

var (
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "forcerig",
	Short: "Force-deflection and RF sweep test rig",
	Long: `forcerig drives a force actuator over a serial link, records
force-deflection data while the target force is held, and captures a
segmented RF sweep from a NanoVNA during the same window.

Configuration is read from forcerig.yaml (working directory or
/etc/forcerig), FORCERIG_* environment variables and flags, in increasing
order of precedence.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.NewViper(cfgFile)
		if err := bindFlags(v, cmd); err != nil {
			return err
		}

		c, err := config.Load(v)
		if err != nil {
			return err
		}
		cfg = c

		level, _ := logger.ParseLevel(cfg.Log.Level)
		logger.Setup(os.Stderr, level, logger.Format(cfg.Log.Format))
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// flagKeys maps flag names to config keys. Flags are bound only when the
// running command defines them.
var flagKeys = map[string]string{
	"log-level":  "log.level",
	"log-format": "log.format",
	"port":       "link.port",
	"vna-port":   "vna.port",
	"output":     "output.dir",
	"force":      "session.target_force",
	"hold":       "session.hold_seconds",
	"interval":   "vna.interval",
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for name, key := range flagKeys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./forcerig.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "console", "log format: console, json")
	rootCmd.PersistentFlags().StringP("port", "p", "", "actuator serial port")
	rootCmd.PersistentFlags().String("vna-port", "", "analyzer serial port (default: discover by USB id)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output directory")
}
