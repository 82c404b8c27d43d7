package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:           "fixhero",
	Short:         "Bug-capture session daemon and client",
	Long:          "fixhero runs the local session and issue store behind the capture extension, and talks to it from the terminal.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(loginCmd, credentialsCmd)
	rootCmd.AddCommand(sessionCmd, issueCmd)
	rootCmd.AddCommand(statsCmd, prefsCmd, dashboardCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

