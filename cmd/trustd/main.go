// Command trustd is the TRUST train-running movement ingestion daemon
// (spec.md §4.E, §6): one persistent store connection, a STOMP frame
// consumer with commit-then-ack discipline, latency/daily telemetry, and a
// health/metrics HTTP surface. Grounded on the teacher's cli/root.go
// service-wiring shape and signal-driven graceful shutdown.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/alert"
	"github.com/nrod/ingest/internal/config"
	"github.com/nrod/ingest/internal/daemon"
	"github.com/nrod/ingest/internal/healthd"
	"github.com/nrod/ingest/internal/logging"
	"github.com/nrod/ingest/internal/stompy"
	"github.com/nrod/ingest/internal/store"
	"github.com/nrod/ingest/internal/telemetry"
	"github.com/nrod/ingest/internal/trust"
)

var flagConfig string

func main() {
	root := &cobra.Command{
		Use:           "trustd",
		Short:         "ingest TRUST train-running movement messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
	root.Flags().StringVarP(&flagConfig, "config", "c", "", "configuration file (required)")
	root.MarkFlagRequired("config")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "trustd:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	debug := cfg.GetBool(config.KeyDebug, false)

	if !debug {
		isParent, err := daemon.Daemonize()
		if err != nil {
			return err
		}
		if isParent {
			return nil
		}
	}

	log := logging.New("trustd", debug)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	db, err := store.Open(ctx, cfg.DSN(), log)
	if err != nil {
		return err
	}
	defer db.Close()

	obfus := store.NewObfusLookup(cfg.Get("redis_addr", "127.0.0.1:6379"), 0)
	defer obfus.Close()

	ing := trust.NewIngester(obfus)
	ing.NoDeduceAct = cfg.GetBool(config.KeyTrustDBNoDeduceAct, false)
	ing.DSTCorrection = isLocalDST

	notifier := alert.New("trustd", cfg.Get(config.KeyHuytonAlerts, ""), cfg.Get(config.KeyPublicURL, ""))

	health := healthd.New(cfg.Get("health_addr", ":8089"), nil, log)
	go func() {
		if err := health.Start(ctx); err != nil {
			log.WithError(err).Warn("trustd: health server stopped")
		}
	}()

	metrics := telemetry.NewMetrics("trustd", prometheus.DefaultRegisterer)
	latency := &telemetry.LatencyTracker{}
	alarm := &telemetry.AlarmState{Threshold: time.Duration(cfg.GetInt("latency_alarm_ms", 0)) * time.Millisecond}
	daily := telemetry.NewDailyStats()
	scheduler := telemetry.NewScheduler(4, 2, time.Now)
	defer scheduler.Stop()

	counters := &trust.Counters{}

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer := stompy.NewConsumer(cfg.Get("trust_stompy_addr", "127.0.0.1:6002"))
		if err := consumer.Run(ctx.Done(), func(frame []byte) error {
			observeLatency(latency, frame)
			daily.Add("movement_frames", 1)
			return db.Tx(ctx, func(tx *gorm.DB) error {
				return ing.ApplyFrame(ctx, tx, frame, store.Now(), counters)
			})
		}); err != nil {
			log.WithError(err).Warn("trustd: consumer loop exited")
		}
	}()

	telemetryLoop(ctx, log, scheduler, latency, alarm, daily, metrics, notifier)

	<-consumerDone
	dropped := ing.Deferred.Drain()
	log.WithField("dropped", dropped).WithField("counters", fmt.Sprintf("%+v", counters)).
		Info("trustd: shutdown complete, final statistics report")
	return nil
}

// observeLatency peeks msg_queue_timestamp off movement messages for the
// 256s latency interval (spec.md §4.E); a parse failure here is not fatal,
// ApplyFrame re-parses and reports the real error against the transaction.
func observeLatency(tracker *telemetry.LatencyTracker, frame []byte) {
	envs, err := trust.ParseFrame(frame)
	if err != nil {
		return
	}
	for _, env := range envs {
		if env.MsgType != trust.MsgMovement {
			continue
		}
		var mb trust.MovementBody
		if json.Unmarshal(env.Body, &mb) != nil || mb.MsgQueueTimestamp == "" {
			continue
		}
		ms, err := strconv.ParseInt(mb.MsgQueueTimestamp, 10, 64)
		if err != nil {
			continue
		}
		tracker.Observe(time.UnixMilli(ms), store.Now())
	}
}

// telemetryLoop drives the 256s latency tick and the daily reset entirely
// off telemetry.Scheduler's channels, until ctx is cancelled (spec.md §5:
// background timers never touch the store directly, only read counters).
func telemetryLoop(ctx context.Context, log *logrus.Logger, scheduler *telemetry.Scheduler, latency *telemetry.LatencyTracker, alarm *telemetry.AlarmState, daily *telemetry.DailyStats, metrics *telemetry.Metrics, notifier *alert.Notifier) {
	alarmActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-scheduler.LatencyTick:
			interval := latency.Flush()
			metrics.ObserveInterval(interval)
			raise, clear := alarm.Check(interval.Mean)
			if raise {
				alarmActive = true
				sendAlert(ctx, log, notifier, alert.LatencySubject("trustd", true))
			}
			if clear {
				alarmActive = false
				sendAlert(ctx, log, notifier, alert.LatencySubject("trustd", false))
			}
			metrics.SetAlarm(alarmActive)
			log.WithField("mean_ms", interval.Mean.Milliseconds()).WithField("peak_ms", interval.Peak.Milliseconds()).
				WithField("at", now).Debug("trustd: latency interval")
		case day := <-scheduler.DailyTick:
			report := daily.Rotate(day)
			log.WithField("day", report.Day).WithField("counts", report.Counts).
				WithField("grand_total", report.GrandTotal).Info("trustd: daily statistics report")
		}
	}
}

func sendAlert(ctx context.Context, log *logrus.Logger, notifier *alert.Notifier, subject string) {
	if err := notifier.Send(ctx, subject, subject); err != nil {
		log.WithError(err).Warn("trustd: alert send failed")
	}
}

// isLocalDST reports whether t's local zone offset differs from January's
// (standard time), a cheap Northern-Hemisphere DST test matching the
// source's -3600s movement-timestamp correction (spec.md §4.E).
func isLocalDST(t time.Time) bool {
	t = t.In(time.Local)
	_, off := t.Zone()
	_, janOff := time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.Local).Zone()
	return off != janOff
}
