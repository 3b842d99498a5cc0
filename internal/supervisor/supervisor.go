// Package supervisor owns one recorder worker per live channel, detects
// stalls via output growth, and drives start/stop/restart transitions.
package supervisor

import (
	"context"
	"os"
	"sync"
	"time"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/chzzk"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/downloader"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/metrics"
	"chzzkrecd/internal/models"
)

// Handle is the supervisor's bookkeeping for one active recording.
type Handle struct {
	Channel         string
	StartedAt       time.Time
	OutputPath      string
	LastObservedSize int64
	LastGrowthAt    time.Time

	cancel context.CancelFunc
	done   chan struct{}
	reason downloader.TerminalReason
	err    error
}

// Supervisor owns the channel → Handle map and drives it one tick at a
// time. Only the goroutine calling Tick mutates the map; no external
// concurrent writers are permitted.
type Supervisor struct {
	mu       sync.Mutex
	handles  map[string]*Handle
	auth     *authstore.AuthStore
	client   *chzzk.Client
	cfg      config.Config
	log      logger.Logger
	progress chan downloader.ProgressUpdate
	wg       sync.WaitGroup
	metrics  *metrics.Metrics
}

// New builds a Supervisor. client is used on a live-without-entry
// transition to fetch a fresh LiveDetail before spawning a worker.
func New(auth *authstore.AuthStore, client *chzzk.Client, cfg config.Config, log logger.Logger) *Supervisor {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Supervisor{
		handles:  make(map[string]*Handle),
		auth:     auth,
		client:   client,
		cfg:      cfg,
		log:      log.With("supervisor"),
		progress: make(chan downloader.ProgressUpdate, 256),
	}
}

// WithMetrics attaches a Metrics instance; worker deaths, stall restarts,
// and the channels-recording gauge are reported through it from then on.
func (s *Supervisor) WithMetrics(m *metrics.Metrics) *Supervisor {
	s.metrics = m
	return s
}

// ActiveChannels returns the channels currently believed to be recording.
// Exposed for status lines and tests; callers must not mutate the result.
func (s *Supervisor) ActiveChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.handles))
	for ch := range s.handles {
		out = append(out, ch)
	}
	return out
}

// Tick runs one reap/stall-check/stop-stale/start-new cycle. statuses is
// the per-channel poll outcome for this cycle: Live keeps or starts a
// recording, Offline stops one, Unknown leaves any existing recording
// undisturbed and starts nothing new.
func (s *Supervisor) Tick(ctx context.Context, statuses map[string]models.ChannelStatus) {
	s.drainProgress()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.reap()
	s.checkStalls()
	s.stopStale(statuses)
	s.startNew(ctx, statuses)

	if s.metrics != nil {
		s.metrics.ChannelsRecording.Set(float64(len(s.handles)))
	}
}

// drainProgress folds any pending bytesWritten updates into LastObservedSize
// without blocking; the supervisor tolerates missed intermediate updates
// since stall decisions are based on growth over many seconds.
func (s *Supervisor) drainProgress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		select {
		case upd := <-s.progress:
			if h, ok := s.handles[upd.Channel]; ok && upd.BytesWritten > h.LastObservedSize {
				if s.metrics != nil {
					s.metrics.BytesWrittenTotal.WithLabelValues(upd.Channel).Add(float64(upd.BytesWritten - h.LastObservedSize))
				}
				h.LastObservedSize = upd.BytesWritten
				h.LastGrowthAt = time.Now()
			}
		default:
			return
		}
	}
}

// reap drops entries whose worker has already finished.
func (s *Supervisor) reap() {
	for ch, h := range s.handles {
		select {
		case <-h.done:
			s.log.Infof("channel %s worker ended (%s)", ch, h.reason)
			if s.metrics != nil {
				s.metrics.WorkerDeaths.WithLabelValues(ch, string(h.reason)).Inc()
			}
			delete(s.handles, ch)
		default:
		}
	}
}

// checkStalls kills and removes entries with no output growth for
// stallRestartSec; startNew will recreate them later this same tick if
// still live.
func (s *Supervisor) checkStalls() {
	now := time.Now()
	for ch, h := range s.handles {
		size := fileSize(h.OutputPath)
		if size > h.LastObservedSize {
			h.LastObservedSize = size
			h.LastGrowthAt = now
			continue
		}
		if now.Sub(h.LastGrowthAt) >= s.cfg.StallRestart() {
			s.log.Warnf("channel %s stalled for %s, restarting", ch, s.cfg.StallRestart())
			if s.metrics != nil {
				s.metrics.StallRestarts.WithLabelValues(ch).Inc()
			}
			h.cancel()
			delete(s.handles, ch)
		}
	}
}

// stopStale cancels and removes entries for channels confirmed offline
// this tick. A channel absent from statuses, or present as Unknown, is
// left alone: only a confirmed Offline result stops a recording.
func (s *Supervisor) stopStale(statuses map[string]models.ChannelStatus) {
	for ch, h := range s.handles {
		status, ok := statuses[ch]
		if ok && status == models.ChannelOffline {
			s.log.Infof("channel %s went offline, stopping", ch)
			h.cancel()
			delete(s.handles, ch)
		}
	}
}

// startNew spawns a worker for every confirmed-live channel without an
// entry.
func (s *Supervisor) startNew(ctx context.Context, statuses map[string]models.ChannelStatus) {
	for ch, status := range statuses {
		if status != models.ChannelLive {
			continue
		}
		if _, exists := s.handles[ch]; exists {
			continue
		}

		detail, err := s.client.GetLiveDetail(ctx, ch)
		if err != nil || detail == nil {
			continue
		}

		s.spawn(*detail)
	}
}

// spawn starts a Downloader for detail and installs its Handle. Caller
// must hold s.mu.
func (s *Supervisor) spawn(detail models.LiveDetail) {
	workerCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	h := &Handle{
		Channel:      detail.ChannelID,
		StartedAt:    time.Now(),
		LastGrowthAt: time.Now(),
		cancel:       cancel,
		done:         done,
	}

	dl := downloader.New(detail, s.cfg, s.auth, s.progress, s.log)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(done)
		reason, err := dl.Run(workerCtx)
		h.reason = reason
		h.err = err
	}()

	h.OutputPath = dl.OutputPath()
	s.handles[detail.ChannelID] = h
	s.log.Infof("started recording for %s", detail.ChannelID)
}

// Shutdown cancels every active worker and waits up to grace for them to
// finish. It does not mutate the handle map; a final Tick after Shutdown
// returns will reap whatever finished.
func (s *Supervisor) Shutdown(grace time.Duration) {
	s.mu.Lock()
	for _, h := range s.handles {
		h.cancel()
	}
	s.mu.Unlock()

	waitCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(grace):
		s.log.Warnf("shutdown grace period elapsed with workers still finishing")
	}
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
