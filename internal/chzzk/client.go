// Package chzzk talks to Chzzk's live-detail endpoint and turns its response
// into a LiveDetail, an offline result, or an error.
package chzzk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/logger"
	"chzzkrecd/internal/models"
)

const (
	liveDetailURLTemplate = "https://api.chzzk.naver.com/service/v1/channels/%s/live-detail"
	requestTimeout        = 10 * time.Second
	maxAttempts           = 3
	retryDelay            = 2 * time.Second
)

// ErrAuthExpired is returned when the upstream API rejects the current
// session (401/403). The caller treats this tick as offline-without-stop.
var ErrAuthExpired = errors.New("chzzk: session rejected by upstream (401/403)")

// Client performs getLiveDetail calls against the Chzzk API.
type Client struct {
	httpClient *http.Client
	auth       *authstore.AuthStore
	limiter    *rate.Limiter
	log        logger.Logger

	// baseURL overrides liveDetailURLTemplate's host. Empty means use the
	// real Chzzk API.
	baseURL string
}

// ClientOption customizes a Client beyond its required collaborators.
type ClientOption func(*Client)

// WithBaseURL points the client at an alternate host, e.g. an httptest
// server in tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) { c.baseURL = baseURL }
}

// New builds a Client. limiter may be nil, in which case calls are
// unthrottled beyond the retry delay already built into GetLiveDetail.
func New(auth *authstore.AuthStore, limiter *rate.Limiter, log logger.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = logger.NopLogger{}
	}
	c := &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		auth:       auth,
		limiter:    limiter,
		log:        log.With("chzzk"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetLiveDetail returns a populated LiveDetail when channelID is live and
// playable, (nil, nil) when it is offline (definitively or by policy), and
// a non-nil error when the state could not be determined. Callers other
// than the retry loop itself should treat any error as "offline for this
// tick" per the conservative rule the poller applies.
func (c *Client) GetLiveDetail(ctx context.Context, channelID string) (*models.LiveDetail, error) {
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("chzzk: rate limiter wait: %w", err)
			}
		}

		detail, retry, err := c.fetchOnce(ctx, channelID)
		if err == nil {
			return detail, nil
		}
		if errors.Is(err, ErrAuthExpired) {
			return nil, err
		}
		lastErr = err
		if !retry {
			return nil, err
		}

		if attempt < maxAttempts {
			c.log.Debugf("live-detail attempt %d/%d for %s failed: %v", attempt, maxAttempts, channelID, err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}

	return nil, fmt.Errorf("chzzk: live-detail for %s exhausted retries: %w", channelID, lastErr)
}

// errRetryable is a sentinel used internally to mark "content
// not-yet-resolvable" without constructing a models.LiveDetail.
var errRetryable = errors.New("chzzk: transient, retry")

// fetchOnce performs a single HTTP round trip and applies the decision
// tree. The bool return reports whether the caller should retry.
func (c *Client) fetchOnce(ctx context.Context, channelID string) (*models.LiveDetail, bool, error) {
	template := liveDetailURLTemplate
	if c.baseURL != "" {
		template = c.baseURL + "/service/v1/channels/%s/live-detail"
	}
	url := fmt.Sprintf(template, channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("chzzk: build request: %w", err)
	}
	for k, v := range c.auth.CurrentHeaders() {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("chzzk: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, false, ErrAuthExpired
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("chzzk: upstream status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("chzzk: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("chzzk: read body: %w", err)
	}

	var envelope liveDetailEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false, fmt.Errorf("chzzk: decode body: %w", err)
	}

	detail, err := decide(channelID, envelope, c.auth.HasAdultAuth())
	if err != nil {
		if errors.Is(err, errRetryable) {
			return nil, true, err
		}
		return nil, false, err
	}
	return detail, false, nil
}

// liveDetailEnvelope mirrors the subset of the upstream response body this
// daemon reads.
type liveDetailEnvelope struct {
	Content *liveDetailContent `json:"content"`
}

type liveDetailContent struct {
	Status          string `json:"status"`
	Adult           bool   `json:"adult"`
	LiveTitle       string `json:"liveTitle"`
	LivePlaybackRaw string `json:"livePlaybackJson"`
	Channel         struct {
		ChannelID   string `json:"channelId"`
		ChannelName string `json:"channelName"`
	} `json:"channel"`
}

type livePlaybackJSON struct {
	Media []struct {
		MediaID string `json:"mediaId"`
		Path    string `json:"path"`
	} `json:"media"`
	Meta struct {
		VideoID string `json:"videoId"`
	} `json:"meta"`
}

// decide applies the five-step decision tree over a decoded envelope. A
// nil, nil return means offline; errRetryable means try again; any other
// error is definitive.
func decide(channelID string, env liveDetailEnvelope, hasAdultAuth bool) (*models.LiveDetail, error) {
	if env.Content == nil {
		return nil, nil
	}
	content := env.Content

	if content.Adult && !hasAdultAuth {
		return nil, nil
	}

	if content.LivePlaybackRaw == "" {
		if content.Status == "ENDED" {
			return nil, nil
		}
		return nil, errRetryable
	}

	var playback livePlaybackJSON
	if err := json.Unmarshal([]byte(content.LivePlaybackRaw), &playback); err != nil {
		return nil, fmt.Errorf("chzzk: decode livePlaybackJson: %w", err)
	}

	var hlsPath string
	for _, m := range playback.Media {
		if strings.EqualFold(m.MediaID, "HLS") {
			hlsPath = m.Path
			break
		}
	}
	if hlsPath == "" {
		return nil, errRetryable
	}

	return &models.LiveDetail{
		ChannelID:         channelID,
		ChannelName:       content.Channel.ChannelName,
		LiveTitle:         content.LiveTitle,
		VideoID:           playback.Meta.VideoID,
		MasterPlaylistURL: hlsPath,
		Adult:             content.Adult,
	}, nil
}
