package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/chzzk"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/metrics"
	"chzzkrecd/internal/poller"
	"chzzkrecd/internal/refresher"
	"chzzkrecd/internal/supervisor"
)

// shutdownGrace bounds how long Supervisor.Shutdown waits for active
// workers to close their output files after a signal arrives.
const shutdownGrace = 5 * time.Second

// liveDetailRatePerSec caps outbound live-detail requests so a large
// targetChannels set cannot hammer the upstream API faster than one
// request slot at a time.
const liveDetailRatePerSec = 2

type runOptions struct {
	channels            []string
	pollIntervalSec     int
	stallRestartSec     int
	onStartPrevious     string
	archiveDir          string
	recordingsRoot      string
	sessionRefreshHours []int
	quality             string
	sessionFile         string
	metricsAddr         string
	logLevel            string
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the configured channels and record them while live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecorder(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.channels, "channel", nil, "Chzzk channel ID to watch (repeatable)")
	flags.IntVar(&opts.pollIntervalSec, "poll-interval", 30, "Seconds between live-status polls")
	flags.IntVar(&opts.stallRestartSec, "stall-restart", 180, "Seconds of no output growth before a worker is restarted")
	flags.StringVar(&opts.onStartPrevious, "on-start-previous", "keep", "What to do with a channel dir's existing files on startup: keep, archive, delete")
	flags.StringVar(&opts.archiveDir, "archive-dir", "", "Destination root when on-start-previous=archive")
	flags.StringVar(&opts.recordingsRoot, "recordings-root", "recordings", "Root directory recordings are written under")
	flags.IntSliceVar(&opts.sessionRefreshHours, "session-refresh-hour", []int{6, 18}, "Local hour(s) at which the session cookie jar is refreshed (repeatable)")
	flags.StringVar(&opts.quality, "quality", "best", "Rendition to record: best or prefer1080")
	flags.StringVar(&opts.sessionFile, "session-file", "session.json", "Path to the persisted session cookie blob")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Listen address for /metrics and /healthz")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")

	return cmd
}

func runRecorder(ctx context.Context, opts *runOptions) error {
	log := logger.New(opts.logLevel, os.Stdout)

	cfg := config.Config{
		TargetChannels:      opts.channels,
		PollIntervalSec:     opts.pollIntervalSec,
		StallRestartSec:     opts.stallRestartSec,
		OnStartPrevious:     config.PreviousFilesPolicy(opts.onStartPrevious),
		ArchiveDir:          opts.archiveDir,
		RecordingsRoot:      opts.recordingsRoot,
		SessionRefreshHours: opts.sessionRefreshHours,
		Quality:             config.Quality(opts.quality),
	}
	if err := cfg.Validate(); err != nil {
		log.Errorf("invalid configuration: %v", err)
		return fmt.Errorf("recorder: %w", err)
	}

	auth, err := authstore.LoadFromFile(opts.sessionFile)
	if err != nil {
		log.Errorf("failed to load session: %v", err)
		return fmt.Errorf("recorder: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New()
	m.MustRegister(reg)

	limiter := rate.NewLimiter(rate.Limit(liveDetailRatePerSec), liveDetailRatePerSec)
	client := chzzk.New(auth, limiter, log)

	sup := supervisor.New(auth, client, cfg, log).WithMetrics(m)

	// The external login collaborator is out of scope (browser-driven
	// login never lives in this daemon); refreshing means re-reading the
	// same session blob, which some other process is expected to update
	// on disk before the scheduled hour arrives.
	login := func(ctx context.Context) (map[string]string, error) {
		refreshed, err := authstore.LoadFromFile(opts.sessionFile)
		if err != nil {
			return nil, err
		}
		return refreshed.Cookies(), nil
	}
	refresh, err := refresher.New(auth, cfg, login, log)
	if err != nil {
		log.Errorf("failed to schedule session refresh: %v", err)
		return fmt.Errorf("recorder: %w", err)
	}
	refresh = refresh.WithMetrics(m)

	p := poller.New(client, cfg, log, sup.Tick).WithMetrics(m)

	metricsSrv := metrics.NewServer(opts.metricsAddr, reg)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Infof("metrics server listening on %s", opts.metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil {
			log.Warnf("metrics server stopped: %v", err)
		}
	}()

	refresh.Start()
	defer refresh.Stop()

	go p.Run(runCtx)

	log.Infof("recorder watching %d channel(s)", len(cfg.TargetChannels))
	<-runCtx.Done()
	log.Infof("shutdown signal received, draining active recordings")

	sup.Shutdown(shutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("metrics server shutdown: %v", err)
	}

	log.Infof("recorder exited cleanly")
	return nil
}
