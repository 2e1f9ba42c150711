// Command reconciler runs the weekly full-timetable reconciliation pass
// (spec.md §4.F, §6): walk an authoritative full CIF extract against the
// live store, report (and optionally repair) any mismatch. Grounded on the
// teacher's cli/root.go cobra command shape.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nrod/ingest/internal/config"
	"github.com/nrod/ingest/internal/logging"
	"github.com/nrod/ingest/internal/reconcile"
	"github.com/nrod/ingest/internal/store"
)

var (
	flagConfig     string
	flagFile       string
	flagApply      bool
	flagOverrideDW bool
	flagVerbose    bool
	flagInsecure   bool
)

func main() {
	root := &cobra.Command{
		Use:           "reconciler",
		Short:         "reconcile the live schedule store against a full CIF extract",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "configuration file (required)")
	root.Flags().StringVarP(&flagFile, "file", "f", "", "full CIF extract to reconcile against (required)")
	root.Flags().BoolVarP(&flagApply, "apply", "m", false, "actually apply changes (create missing schedules, delete stray ones), not just report")
	root.Flags().BoolVarP(&flagOverrideDW, "override-day", "o", false, "override the normally-Saturday day-of-week check")
	root.Flags().BoolVarP(&flagVerbose, "verbose", "p", false, "verbose logging")
	root.Flags().BoolVarP(&flagInsecure, "insecure", "i", false, "accepted for CLI parity with cifloader; reconciler never fetches over HTTPS itself")
	root.MarkFlagRequired("config")
	root.MarkFlagRequired("file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "reconciler:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	log := logging.New("reconciler", flagVerbose)

	now := time.Now()
	if !flagOverrideDW && now.Weekday() != time.Saturday {
		return fmt.Errorf("reconciler: today is %s, not Saturday; pass -o to override", now.Weekday())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	db, err := store.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	r := &reconcile.Reconciler{DB: db, Log: logging.Frame(log, "reconcile")}
	reviseOut := flagFile + ".revise"
	counters, err := r.Run(ctx, flagFile, reviseOut, reconcile.Options{Repair: flagApply})
	if err != nil {
		return err
	}

	log.WithField("counters", fmt.Sprintf("%+v", *counters)).WithField("revise_file", reviseOut).
		Info("reconciler: reconciliation pass complete")
	return nil
}
