package cmd

import (
	"fmt"

	"github.com/harrison/crestprov/internal/inventory"
	"github.com/spf13/cobra"
)

// NewSampleCommand creates the sample command
func NewSampleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sample [dir]",
		Short: "Write example device configuration files",
		Long: `Write devices_sample.csv and devices_sample.txt into dir (default: the
current directory). The CSV shows every supported column; the text file is
a plain list of IP addresses.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSample,
	}

	cmd.Flags().Bool("force", false, "Overwrite existing sample files")

	return cmd
}

func runSample(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}
	force, _ := cmd.Flags().GetBool("force")

	written, err := inventory.WriteSamples(dir, force)
	for _, path := range written {
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nEdit one of the files and run:\n  crestprov run %s\n", inventory.SampleCSVName)
	return nil
}
