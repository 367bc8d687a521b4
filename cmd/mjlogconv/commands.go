package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func runConvert(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stdout)

	logger.Info("starting mjlogconv",
		"version", version,
		"year", cfg.Run.Year,
		"count", cfg.Run.Count,
		"workers", cfg.Pool.Workers,
		"output", cfg.Output.Backend,
		"checkpoint", cfg.Checkpoint.Backend)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.orchestrator(os.Stderr)
	if err != nil {
		return err
	}

	summary, err := o.Run(ctx)
	fmt.Fprintln(cmd.ErrOrStderr(), summary)
	return err
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stdout)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.orchestrator(nil)
	if err != nil {
		return err
	}

	result, err := o.Reconcile(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "scanned %s, adopted %s, removed %s empty, %s without artifact\n",
		humanize.Comma(int64(result.Scanned)),
		humanize.Comma(int64(result.Marked)),
		humanize.Comma(int64(result.Removed)),
		humanize.Comma(int64(result.Missing)))
	if result.Lost > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s completed records lost their artifact\n",
			humanize.Comma(int64(result.Lost)))
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	counts, err := a.store.Load(ctx)
	if err != nil {
		return err
	}
	processed, err := a.database.CountProcessed(ctx)
	if err != nil {
		return err
	}

	remaining := processed - counts.Completed - counts.Failed
	if remaining < 0 {
		remaining = 0
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "database:   %s\n", cfg.Database.DSN)
	fmt.Fprintf(out, "checkpoint: %s\n", a.store.Backend())
	fmt.Fprintf(out, "processed:  %s\n", humanize.Comma(int64(processed)))
	fmt.Fprintf(out, "completed:  %s\n", humanize.Comma(int64(counts.Completed)))
	fmt.Fprintf(out, "failed:     %s\n", humanize.Comma(int64(counts.Failed)))
	fmt.Fprintf(out, "remaining:  %s\n", humanize.Comma(int64(remaining)))
	return nil
}
