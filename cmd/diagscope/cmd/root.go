// Package cmd provides the CLI commands for diagscope.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/diagscope/diagscope/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "diagscope",
	Short: "diagscope - embedded diagnostic HTTP server",
	Long: `diagscope serves diagnostic endpoints for a host process: health,
metrics, runtime info, a file explorer, a SQLite browser and static
responses matched by CEL expressions.

Quick start:
  diagscope serve

Configuration:
  Config is loaded from diagscope.yaml in the current directory,
  $HOME/.diagscope/, or /etc/diagscope/.

  Environment variables can override config values with the DIAGSCOPE_ prefix.
  Example: DIAGSCOPE_SERVER_ADDR=0.0.0.0:8080

Commands:
  serve       Start the diagnostic server
  stop        Stop the running server
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./diagscope.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
