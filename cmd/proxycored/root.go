// Package main is the entry point for proxycored, the flow-management
// core's CLI: serve the admin API, replay a flow log, or run a script
// transform against a single flow for debugging.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"proxycore/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "proxycored",
	Short: "intercepting-proxy flow-management core",
	Long: `proxycored manages intercepted HTTP flows: pairing requests with
responses, driving server- and client-side replay, applying sticky
session policies, and exposing an admin HTTP API over the result.`,
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	config.BindFlags(rootCmd)
}

func initConfig() {
	if err := config.InitFile(cfgFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
