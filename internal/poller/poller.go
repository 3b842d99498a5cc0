// Package poller periodically asks ChzzkClient for each target channel's
// liveness and reports a conservative tri-state status map to the
// supervisor.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chzzkrecd/internal/chzzk"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/metrics"
	"chzzkrecd/internal/models"
)

// TickFunc receives the per-channel status map Supervisor.Tick expects.
type TickFunc func(ctx context.Context, statuses map[string]models.ChannelStatus)

// Poller drives ChzzkClient on a ticker and reports results via onTick.
type Poller struct {
	client      *chzzk.Client
	cfg         config.Config
	log         logger.Logger
	onTick      TickFunc
	maxInFlight int
	metrics     *metrics.Metrics
}

// WithMetrics attaches a Metrics instance; poll errors and the
// channels-live gauge are reported through it from then on.
func (p *Poller) WithMetrics(m *metrics.Metrics) *Poller {
	p.metrics = m
	return p
}

// New builds a Poller. onTick is invoked once per interval with the
// computed status map.
func New(client *chzzk.Client, cfg config.Config, log logger.Logger, onTick TickFunc) *Poller {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Poller{
		client:      client,
		cfg:         cfg,
		log:         log.With("poller"),
		onTick:      onTick,
		maxInFlight: 8,
	}
}

// Run blocks, polling every cfg.PollInterval(), until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval())
	defer ticker.Stop()

	p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll queries every target channel with bounded concurrency and reports
// the resulting status map via onTick. Exported so tests can drive a cycle
// without waiting for the ticker.
func (p *Poller) Poll(ctx context.Context) {
	statuses := make(map[string]models.ChannelStatus, len(p.cfg.TargetChannels))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxInFlight)

	for _, channel := range p.cfg.TargetChannels {
		channel := channel
		g.Go(func() error {
			status := p.pollOne(gctx, channel)
			mu.Lock()
			statuses[channel] = status
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // pollOne never returns an error itself; nothing to propagate

	if p.metrics != nil {
		live := 0
		for _, status := range statuses {
			if status == models.ChannelLive {
				live++
			}
		}
		p.metrics.ChannelsLive.Set(float64(live))
	}

	p.onTick(ctx, statuses)
}

func (p *Poller) pollOne(ctx context.Context, channel string) models.ChannelStatus {
	detail, err := p.client.GetLiveDetail(ctx, channel)
	if err != nil {
		p.log.Debugf("live-detail for %s errored, treating as unknown: %v", channel, err)
		if p.metrics != nil {
			p.metrics.PollErrors.WithLabelValues(channel).Inc()
		}
		return models.ChannelUnknown
	}
	if detail == nil {
		return models.ChannelOffline
	}
	return models.ChannelLive
}
