package poller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/chzzk"
	"chzzkrecd/internal/config"
	"chzzkrecd/internal/models"
)

func newClientForStatuses(t *testing.T, statuses map[string]int) *chzzk.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Path shape: /service/v1/channels/{id}/live-detail
		parts := r.URL.Path
		for ch, code := range statuses {
			if !strings.Contains(parts, ch) {
				continue
			}
			switch code {
			case 0: // offline
				w.Write([]byte(`{"content": null}`))
			case 1: // live
				resp := map[string]interface{}{
					"content": map[string]interface{}{
						"status":           "OPEN",
						"liveTitle":        "t",
						"livePlaybackJson": livePlaybackJSON(t),
						"channel":          map[string]string{"channelId": ch, "channelName": ch},
					},
				}
				data, _ := json.Marshal(resp)
				w.Write(data)
			case 2: // unknown (forbidden)
				w.WriteHeader(http.StatusForbidden)
			}
			return
		}
		w.Write([]byte(`{"content": null}`))
	}))
	t.Cleanup(srv.Close)

	auth, err := authstore.NewFromCookies(map[string]string{"NID_AUT": "x"})
	require.NoError(t, err)
	return chzzk.New(auth, nil, nil, chzzk.WithBaseURL(srv.URL))
}

func livePlaybackJSON(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"media": []map[string]string{{"mediaId": "HLS", "path": "https://example.com/master.m3u8"}},
		"meta":  map[string]string{"videoId": "v1"},
	})
	require.NoError(t, err)
	return string(data)
}

func TestPoll_BuildsTriStateStatusMap(t *testing.T) {
	client := newClientForStatuses(t, map[string]int{
		"c-live":    1,
		"c-offline": 0,
		"c-unknown": 2,
	})

	cfg := config.Default()
	cfg.TargetChannels = []string{"c-live", "c-offline", "c-unknown"}

	var mu sync.Mutex
	var got map[string]models.ChannelStatus

	p := New(client, cfg, nil, func(ctx context.Context, statuses map[string]models.ChannelStatus) {
		mu.Lock()
		got = statuses
		mu.Unlock()
	})

	p.Poll(context.Background())

	mu.Lock()
	defer mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, models.ChannelLive, got["c-live"])
	assert.Equal(t, models.ChannelOffline, got["c-offline"])
	assert.Equal(t, models.ChannelUnknown, got["c-unknown"])
}
