// Package authstore loads the Chzzk session cookie jar and derives the
// request headers every HTTP call in this daemon needs.
package authstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"chzzkrecd/internal/models"
)

// ErrSessionMissing is returned when no session blob is available at
// construction time; the caller treats this as a ConfigFatal error.
var ErrSessionMissing = errors.New("authstore: session blob missing or empty")

// fallbackDeviceID is used when the session blob carries no ba.uuid cookie.
// It is a name-based (SHA-1) UUID of the Chzzk origin, so it is the same
// value in every run.
var fallbackDeviceID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(origin)).String()

const (
	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	accept    = "application/json, text/plain, */*"
	acceptLng = "ko-KR,ko;q=0.9,en-US;q=0.8,en;q=0.7"
	origin    = "https://chzzk.naver.com"
	referer   = "https://chzzk.naver.com/"
)

// cookieEntry mirrors one element of the persisted session blob's "cookies"
// array: {"name": ..., "value": ...}.
type cookieEntry struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// sessionBlob mirrors the full on-disk JSON shape.
type sessionBlob struct {
	Cookies []cookieEntry `json:"cookies"`
}

// AuthStore holds the current cookie jar and its derived headers. Reads take
// a brief read lock and return a snapshot of an immutable Headers value;
// writes install a new snapshot atomically so in-flight requests keep the
// headers they captured.
type AuthStore struct {
	mu      sync.RWMutex
	cookies map[string]string
	headers models.Headers
}

// LoadFromFile reads a session blob from path and builds the initial
// AuthStore. An empty or unreadable blob is ErrSessionMissing.
func LoadFromFile(path string) (*AuthStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionMissing, err)
	}

	var blob sessionBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("authstore: failed to parse session blob: %w", err)
	}
	if len(blob.Cookies) == 0 {
		return nil, ErrSessionMissing
	}

	cookies := make(map[string]string, len(blob.Cookies))
	for _, c := range blob.Cookies {
		cookies[c.Name] = c.Value
	}

	return &AuthStore{
		cookies: cookies,
		headers: deriveHeaders(cookies),
	}, nil
}

// NewFromCookies builds an AuthStore directly from a cookie map, bypassing
// file I/O. Used by tests.
func NewFromCookies(cookies map[string]string) (*AuthStore, error) {
	if len(cookies) == 0 {
		return nil, ErrSessionMissing
	}
	return &AuthStore{
		cookies: cloneMap(cookies),
		headers: deriveHeaders(cookies),
	}, nil
}

// CurrentHeaders returns the currently active header set. Safe to call
// concurrently; never blocks longer than a brief critical section.
func (a *AuthStore) CurrentHeaders() models.Headers {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.headers
}

// Cookies returns a copy of the currently active cookie jar. Used by the
// session refresher's login collaborator to re-derive headers from a
// freshly loaded blob.
func (a *AuthStore) Cookies() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return cloneMap(a.cookies)
}

// HasAdultAuth reports whether the current cookie jar carries the cookie
// Chzzk uses to gate adult broadcasts (NID_SES).
func (a *AuthStore) HasAdultAuth() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.cookies["NID_SES"]
	return ok
}

// Replace atomically installs a new cookie set and its derived headers.
// Subsequent CurrentHeaders calls observe it; requests already in flight
// keep the Headers value they captured earlier, since Headers is replaced
// wholesale rather than mutated in place.
func (a *AuthStore) Replace(newCookies map[string]string) {
	headers := deriveHeaders(newCookies)

	a.mu.Lock()
	a.cookies = cloneMap(newCookies)
	a.headers = headers
	a.mu.Unlock()
}

func deriveHeaders(cookies map[string]string) models.Headers {
	deviceID := fallbackDeviceID
	if v, ok := cookies["ba.uuid"]; ok && v != "" {
		deviceID = v
	}

	return models.Headers{
		"Cookie":                     joinCookies(cookies),
		"User-Agent":                 userAgent,
		"Accept":                     accept,
		"Accept-Language":            acceptLng,
		"Origin":                     origin,
		"Referer":                    referer,
		"deviceid":                   deviceID,
		"front-client-platform-type": "PC",
		"front-client-product-type":  "web",
	}
}

func joinCookies(cookies map[string]string) string {
	// Deterministic order keeps derived headers reproducible in tests even
	// though map iteration order is randomized.
	names := make([]string, 0, len(cookies))
	for k := range cookies {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+cookies[name])
	}

	joined := ""
	for i, p := range pairs {
		if i > 0 {
			joined += "; "
		}
		joined += p
	}
	return joined
}

func cloneMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
