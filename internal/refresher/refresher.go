// Package refresher rotates the session cookie jar on a configured
// schedule, without ever restarting an active recording.
package refresher

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/metrics"
)

// LoginFunc is the external login collaborator: given a context, it
// produces a fresh cookie jar or an error. How the login actually happens
// (headless browser, stored refresh token, manual hand-off) is out of
// scope here; the refresher only needs the result.
type LoginFunc func(ctx context.Context) (map[string]string, error)

// Refresher fires on schedule, calls login, and swaps AuthStore's cookies
// atomically on success. A failed login is logged and retried at the next
// scheduled hour; it never blocks or restarts any active Downloader.
type Refresher struct {
	auth    *authstore.AuthStore
	login   LoginFunc
	log     logger.Logger
	cron    *cron.Cron
	metrics *metrics.Metrics
}

// WithMetrics attaches a Metrics instance; refresh successes and failures
// are reported through it from then on.
func (r *Refresher) WithMetrics(m *metrics.Metrics) *Refresher {
	r.metrics = m
	return r
}

// New builds a Refresher scheduled at each hour in cfg.SessionRefreshHours.
// Hours outside [0,23] are rejected by config.Validate before this is ever
// called.
func New(auth *authstore.AuthStore, cfg config.Config, login LoginFunc, log logger.Logger) (*Refresher, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	r := &Refresher{
		auth:  auth,
		login: login,
		log:   log.With("refresher"),
		cron:  cron.New(),
	}

	for _, hour := range cfg.SessionRefreshHours {
		spec := fmt.Sprintf("0 %d * * *", hour)
		if _, err := r.cron.AddFunc(spec, r.refreshOnce); err != nil {
			return nil, fmt.Errorf("refresher: schedule hour %d: %w", hour, err)
		}
	}

	return r, nil
}

// Start begins the cron scheduler in the background. Safe to call once.
func (r *Refresher) Start() {
	r.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight refresh to finish.
func (r *Refresher) Stop() {
	<-r.cron.Stop().Done()
}

// RefreshNow runs one refresh cycle immediately, bypassing the schedule.
// Exposed for manual re-auth triggers and tests.
func (r *Refresher) RefreshNow(ctx context.Context) error {
	cookies, err := r.login(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.SessionRefreshFailures.Inc()
		}
		return fmt.Errorf("refresher: login failed: %w", err)
	}
	r.auth.Replace(cookies)
	if r.metrics != nil {
		r.metrics.SessionRefreshes.Inc()
	}
	r.log.Infof("session refreshed, %d cookies installed", len(cookies))
	return nil
}

// refreshOnce is cron's entry point; it has no context to thread through,
// so it uses a background context with no deadline. Login implementations
// are expected to bound their own work.
func (r *Refresher) refreshOnce() {
	if err := r.RefreshNow(context.Background()); err != nil {
		r.log.Warnf("scheduled session refresh failed: %v", err)
	}
}
