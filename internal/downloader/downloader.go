// Package downloader records one live session to one output TS file: it
// selects a rendition, loops fetching playlist and segment updates, and
// appends them to disk until cancelled or a fatal transport error.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/chzzk"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/models"
	"chzzkrecd/internal/playlist"
	"chzzkrecd/internal/sanitize"
)

const (
	playlistTimeout      = 10 * time.Second
	segmentTimeout       = 6 * time.Second
	internalStallSeconds = 15
	liveEdgeBias         = 2
	defaultPrefetch      = 2
	loopSleep            = 100 * time.Millisecond
	segmentChunkSize     = 64 * 1024
	transientBackoff     = 500 * time.Millisecond
	segmentCacheTTL      = 2 * time.Minute
)

// TerminalReason classifies why a Downloader's Run returned.
type TerminalReason string

const (
	ReasonCancelled   TerminalReason = "cancelled"
	ReasonAuthExpired TerminalReason = "auth_expired"
	ReasonFatal       TerminalReason = "fatal"
)

// ProgressUpdate is published as segments are appended to the output file.
// BytesWritten is monotonically non-decreasing for a given Downloader.
type ProgressUpdate struct {
	Channel      string
	BytesWritten int64
}

// Option customizes a Downloader beyond its required collaborators.
type Option func(*Downloader)

// WithLLHLS enables `_HLS_msn`/`_HLS_part` query hinting on playlist
// fetches once a live-edge position is known. Off by default: server
// support varies and plain polling is still correct.
func WithLLHLS(enabled bool) Option {
	return func(d *Downloader) { d.llhls = enabled }
}

// WithPrefetch overrides how many segments are fetched per playlist cycle.
func WithPrefetch(n int) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.prefetch = n
		}
	}
}

// Downloader records a single live channel session.
type Downloader struct {
	detail models.LiveDetail
	cfg    config.Config
	auth   *authstore.AuthStore
	log    logger.Logger

	httpClient *http.Client
	progress   chan<- ProgressUpdate

	llhls    bool
	prefetch int

	channelDir       string
	sanitizedChannel string
	outputPath       string
}

// New builds a Downloader for detail under cfg. progress may be nil, in
// which case updates are dropped.
func New(detail models.LiveDetail, cfg config.Config, auth *authstore.AuthStore, progress chan<- ProgressUpdate, log logger.Logger, opts ...Option) *Downloader {
	if log == nil {
		log = logger.NopLogger{}
	}
	d := &Downloader{
		detail:     detail,
		cfg:        cfg,
		auth:       auth,
		log:        log.With("downloader"),
		httpClient: &http.Client{},
		progress:   progress,
		prefetch:   defaultPrefetch,
	}
	for _, opt := range opts {
		opt(d)
	}

	sanitizedChannel := sanitize.Sanitize(d.detail.ChannelName)
	if sanitizedChannel == "" {
		sanitizedChannel = sanitize.Sanitize(d.detail.ChannelID)
	}
	sanitizedTitle := sanitize.Sanitize(d.detail.LiveTitle)
	timestamp := time.Now().Format("20060102_150405")

	d.channelDir = filepath.Join(cfg.RecordingsRoot, sanitizedChannel)
	d.sanitizedChannel = sanitizedChannel
	d.outputPath = filepath.Join(d.channelDir, fmt.Sprintf("%s_%s.ts", timestamp, sanitizedTitle))

	return d
}

// OutputPath returns the path Run will write to (or did write to). Valid
// immediately after New returns, before Run is even called.
func (d *Downloader) OutputPath() string {
	return d.outputPath
}

// Run executes the fetch/append loop until ctx is cancelled or a fatal
// condition is hit. It always returns a TerminalReason describing why.
func (d *Downloader) Run(ctx context.Context) (TerminalReason, error) {
	if err := os.MkdirAll(d.channelDir, 0o755); err != nil {
		return ReasonFatal, fmt.Errorf("downloader: create channel dir: %w", err)
	}
	if err := runHousekeeping(d.cfg, d.channelDir, d.sanitizedChannel); err != nil {
		d.log.Warnf("housekeeping failed for %s: %v", d.sanitizedChannel, err)
	}

	file, err := os.OpenFile(d.outputPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return ReasonFatal, fmt.Errorf("downloader: open output: %w", err)
	}
	defer file.Close()

	mediaURL, err := d.resolveMediaPlaylistURL(ctx)
	if err != nil {
		if errors.Is(err, chzzk.ErrAuthExpired) {
			return ReasonAuthExpired, err
		}
		return ReasonFatal, err
	}

	cache := newSegmentCache(segmentCacheTTL)
	defer cache.stop()

	var (
		currentMsn   int
		currentPart  int
		msnSeeded    bool
		totalWritten int64
		lastGrowthAt = time.Now()
	)

	for {
		select {
		case <-ctx.Done():
			return ReasonCancelled, nil
		default:
		}

		if time.Since(lastGrowthAt) >= internalStallSeconds*time.Second {
			currentMsn++
			currentPart = 0
			lastGrowthAt = time.Now()
			d.log.Warnf("no growth for %ds, skipping ahead to msn=%d", internalStallSeconds, currentMsn)
		}

		mediaText, err := d.fetchPlaylist(ctx, mediaURL, currentMsn, currentPart, msnSeeded)
		if err != nil {
			if errors.Is(err, chzzk.ErrAuthExpired) {
				return ReasonAuthExpired, err
			}
			d.log.Debugf("playlist fetch failed, backing off: %v", err)
			if !sleepOrDone(ctx, transientBackoff) {
				return ReasonCancelled, nil
			}
			continue
		}

		mediaSeq, segments, err := playlist.ParseMedia(mediaText)
		if err != nil {
			d.log.Warnf("malformed media playlist: %v", err)
			if !sleepOrDone(ctx, transientBackoff) {
				return ReasonCancelled, nil
			}
			continue
		}
		if base, perr := url.Parse(mediaURL); perr == nil {
			for i, seg := range segments {
				if ref, rerr := base.Parse(seg); rerr == nil {
					segments[i] = ref.String()
				}
			}
		}

		if !msnSeeded && mediaSeq != nil {
			currentMsn = *mediaSeq + liveEdgeBias
			msnSeeded = true
		}

		written, newMsn, newPart, stop, reason, fetchErr := d.fetchSegments(ctx, mediaSeq, segments, currentMsn, currentPart, cache, file)
		currentMsn, currentPart = newMsn, newPart
		if written > 0 {
			totalWritten += written
			lastGrowthAt = time.Now()
			d.publishProgress(totalWritten)
		}
		if stop {
			return reason, fetchErr
		}

		if !sleepOrDone(ctx, loopSleep) {
			return ReasonCancelled, nil
		}
	}
}

// resolveMediaPlaylistURL fetches the master playlist; if it parses as a
// master (has variants), the configured quality selects one and its URL is
// returned. Otherwise the given URL is already a media playlist.
func (d *Downloader) resolveMediaPlaylistURL(ctx context.Context) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, playlistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.detail.MasterPlaylistURL, nil)
	if err != nil {
		return "", fmt.Errorf("downloader: build master request: %w", err)
	}
	applyHeaders(req, d.auth.CurrentHeaders())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloader: fetch master: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", chzzk.ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloader: master status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("downloader: read master: %w", err)
	}

	variants, err := playlist.ParseMaster(string(body), d.detail.MasterPlaylistURL)
	if err != nil {
		return "", fmt.Errorf("downloader: parse master: %w", err)
	}
	if len(variants) == 0 {
		return d.detail.MasterPlaylistURL, nil
	}

	variant, ok := playlist.SelectVariant(variants, d.cfg.Quality)
	if !ok {
		return "", fmt.Errorf("downloader: no variant selectable")
	}
	return variant.URL, nil
}

// fetchPlaylist performs the FetchPlaylist state: GET the media playlist,
// optionally with LL-HLS hints.
func (d *Downloader) fetchPlaylist(ctx context.Context, mediaURL string, msn, part int, seeded bool) (string, error) {
	url := mediaURL
	if d.llhls && seeded {
		url = fmt.Sprintf("%s%s_HLS_msn=%d&_HLS_part=%d", mediaURL, queryJoiner(mediaURL), msn, part)
	}

	reqCtx, cancel := context.WithTimeout(ctx, playlistTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("downloader: build playlist request: %w", err)
	}
	applyHeaders(req, d.auth.CurrentHeaders())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloader: fetch playlist: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", chzzk.ErrAuthExpired
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloader: playlist status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("downloader: read playlist: %w", err)
	}
	return string(body), nil
}

// fetchSegments performs the FetchSegment / BackoffAndAdvance states: walk
// segments from the live edge forward, skipping ones already written,
// copying at most prefetch new ones into file.
func (d *Downloader) fetchSegments(ctx context.Context, mediaSeq *int, segments []string, currentMsn, currentPart int, cache *segmentCache, file *os.File) (written int64, newMsn, newPart int, stop bool, reason TerminalReason, err error) {
	newMsn, newPart = currentMsn, currentPart
	if mediaSeq == nil {
		return 0, newMsn, newPart, false, "", nil
	}

	base := *mediaSeq
	fetched := 0

	for i, uri := range segments {
		if fetched >= d.prefetch {
			break
		}
		absMsn := base + i
		if absMsn < currentMsn {
			continue
		}
		if !cache.markIfNew(uri) {
			continue
		}

		n, ferr := d.downloadSegmentInto(ctx, uri, file)
		if ferr != nil {
			if errors.Is(ferr, context.Canceled) {
				return written, newMsn, newPart, true, ReasonCancelled, nil
			}
			d.log.Debugf("segment fetch failed for %s: %v", uri, ferr)
			newMsn = absMsn + 1
			newPart = 0
			break
		}

		written += n
		fetched++
		newMsn = absMsn + 1
		newPart = 0
	}

	return written, newMsn, newPart, false, "", nil
}

// downloadSegmentInto streams uri's body into file in bounded chunks.
func (d *Downloader) downloadSegmentInto(ctx context.Context, uri string, file *os.File) (int64, error) {
	reqCtx, cancel := context.WithTimeout(ctx, segmentTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("build segment request: %w", err)
	}
	applyHeaders(req, d.auth.CurrentHeaders())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch segment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return 0, fmt.Errorf("segment auth rejected: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("segment status %d", resp.StatusCode)
	}

	buf := make([]byte, segmentChunkSize)
	n, err := io.CopyBuffer(file, resp.Body, buf)
	if err != nil {
		return n, fmt.Errorf("copy segment body: %w", err)
	}
	if err := file.Sync(); err != nil {
		return n, fmt.Errorf("sync output: %w", err)
	}
	return n, nil
}

func (d *Downloader) publishProgress(total int64) {
	if d.progress == nil {
		return
	}
	select {
	case d.progress <- ProgressUpdate{Channel: d.detail.ChannelID, BytesWritten: total}:
	default:
		// Stale readers tolerate a dropped intermediate update; the
		// supervisor only cares whether growth occurred since its last tick.
	}
}

func applyHeaders(req *http.Request, headers models.Headers) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

func queryJoiner(u string) string {
	for _, r := range u {
		if r == '?' {
			return "&"
		}
	}
	return "?"
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

