// retireflow - time-series retirement pipeline
// Exports tagged records as annotated CSV group files, ships them to a
// remote archive, and deletes them from the source store.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Exit codes. The fine-grained structural codes let retry wrappers tell
// a poisoned stream (never retry) from a transient transfer problem
// (retry later).
const (
	exitOK                  = 0
	exitError               = 1
	exitEmpty               = 2
	exitArchivedUnconfirmed = 3
	exitDeleteFailed        = 4
	exitUnknownHeader       = 10
	exitBlockShape          = 11
	exitBlankMeasurement    = 12
	exitBlankTime           = 13
	exitMissingColumns      = 14
	exitCompressFailed      = 20
	exitTransferFailed      = 21
	exitUsage               = 64
)

// CLI flags
var (
	configFile  string
	periodFlag  string
	inputFile   string
	verbose     bool
	jsonLogs    bool
	noProgress  bool
	codecFlag   string
	bindFlag    string
	timeoutFlag string
)

// exitCode is set by commands; main applies it after Execute so deferred
// cleanup inside the commands still runs.
var exitCode = exitOK

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitOK {
			exitCode = exitUsage
		}
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:   "retireflow",
	Short: "retireflow - retire time-series data to a remote archive",
	Long: `retireflow exports all records tagged with a retirement period from the
source store as annotated CSV, partitions them into per-measurement
monthly group files, compresses and pushes them to the archive host, and
deletes them from the source once the transfer has succeeded.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one retirement batch end to end",
	Long: `Run a full retirement batch for one period: export, partition,
compress, push, await the archive's confirmation, and delete from the
source store.

The source delete runs whenever the push succeeded, regardless of the
confirmation outcome; a rejected or silent archive leaves the batch in
an operator-visible state without blocking space reclamation.

Examples:
  retireflow run --period 2026-07
  retireflow run --period 2026-07 --input export.csv
  retireflow run --period 2026-07 --compression zstd --confirm-timeout 90s`,
	RunE: runRetire,
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Build the batch locally and report what would be archived",
	Long: `Build the group files for one period in a throwaway directory and print
the per-measurement summary. Nothing is compressed, pushed, or deleted.

Examples:
  retireflow plan --period 2026-07
  cat export.csv | retireflow plan --period 2026-07 --input -`,
	RunE: runPlan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the retireflow version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("retireflow %s (%s)\n", version, commit)
	},
}

var showCmd = &cobra.Command{
	Use:   "show [run-id]",
	Short: "Show the journaled record of a past run",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Emit logs as JSON")

	runCmd.Flags().StringVarP(&periodFlag, "period", "p", "", "Retirement period to process (YYYY-MM, default: current month)")
	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Read the record stream from a file instead of the store ('-' for stdin)")
	runCmd.Flags().StringVar(&codecFlag, "compression", "", "Artifact compression (gzip, zstd, lz4, none)")
	runCmd.Flags().StringVar(&bindFlag, "confirm-bind", "", "Confirmation listen address")
	runCmd.Flags().StringVar(&timeoutFlag, "confirm-timeout", "", "Confirmation timeout (Go duration)")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable progress bars")

	planCmd.Flags().StringVarP(&periodFlag, "period", "p", "", "Retirement period to inspect (YYYY-MM, default: current month)")
	planCmd.Flags().StringVarP(&inputFile, "input", "i", "", "Read the record stream from a file instead of the store ('-' for stdin)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)
}
