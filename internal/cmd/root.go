package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for crestprov
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crestprov",
		Short: "Bulk SSH provisioning for Crestron control processors",
		Long: `crestprov connects to a fleet of Crestron processors over SSH, creates the
admin account on factory-fresh devices, runs a list of console commands on
each one and writes CSV and JSON reports of the results.

Devices are read from a CSV file or a plain list of IP addresses.
Run "crestprov sample" to write example files.`,
		Version: Version,
		// main prints the error once; usage is not repeated on failures
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewSampleCommand())
	cmd.AddCommand(NewHistoryCommand())

	return cmd
}
