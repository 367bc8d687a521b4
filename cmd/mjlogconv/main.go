// mjlogconv converts crawled Tenhou mjlog records into mjai event logs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
)

var version = "dev"

// CLI flags
var (
	configFile string
	year       int
	dbPath     string
	outPath    string
	count      int
	workers    int
	logLevel   string
	noProgress bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mjlogconv",
	Short: "Convert crawled mjlog records to mjai event logs",
	Long: `mjlogconv reads bzip2 mjlog records from a crawler database, converts
four-player games with the mjai tool, repairs round-start scores and writes
one gzip'd event log per record. Finished records are checkpointed so an
interrupted run resumes where it stopped.

Running without a subcommand is the same as "mjlogconv convert".`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runConvert,
}

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert every processed record that has not been converted yet",
	RunE:  runConvert,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Adopt artifacts left by interrupted runs and remove empty ones",
	RunE:  runReconcile,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint counts",
	RunE:  runStatus,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path to configuration file (TOML)")
	flags.IntVarP(&year, "year", "y", 0, "Crawl year; selects db/<year>.db")
	flags.StringVarP(&dbPath, "db-path", "p", "", "Path to the crawler database (overrides --year)")
	flags.StringVarP(&outPath, "out-path", "o", "", "Directory for converted artifacts")
	flags.IntVarP(&count, "count", "c", 0, "Number of records to read; 0 means all processed records")
	flags.IntVarP(&workers, "workers", "w", 0, "Number of concurrent conversions")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(statusCmd)
}
