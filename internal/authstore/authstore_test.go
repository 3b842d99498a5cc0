package authstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeBlob(t *testing.T, dir string, cookies map[string]string) string {
	t.Helper()
	entries := make([]cookieEntry, 0, len(cookies))
	for k, v := range cookies {
		entries = append(entries, cookieEntry{Name: k, Value: v})
	}
	data, err := json.Marshal(sessionBlob{Cookies: entries})
	require.NoError(t, err)

	path := filepath.Join(dir, "session.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestLoadFromFile_EmptyCookies(t *testing.T) {
	path := writeBlob(t, t.TempDir(), nil)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionMissing)
}

func TestLoadFromFile_DerivesHeaders(t *testing.T) {
	path := writeBlob(t, t.TempDir(), map[string]string{
		"NID_AUT": "abc",
		"NID_SES": "def",
		"ba.uuid": "device-123",
	})

	store, err := LoadFromFile(path)
	require.NoError(t, err)

	headers := store.CurrentHeaders()
	assert.Equal(t, "device-123", headers["deviceid"])
	assert.Contains(t, headers["Cookie"], "NID_AUT=abc")
	assert.Contains(t, headers["Cookie"], "NID_SES=def")
	assert.Equal(t, "https://chzzk.naver.com", headers["Origin"])
	assert.True(t, store.HasAdultAuth())
}

func TestNewFromCookies_NoAdultCookieFallsBackToUUID(t *testing.T) {
	store, err := NewFromCookies(map[string]string{"NID_AUT": "abc"})
	require.NoError(t, err)

	assert.False(t, store.HasAdultAuth())
	assert.NotEmpty(t, store.CurrentHeaders()["deviceid"])
}

func TestReplace_SwapsHeadersAtomically(t *testing.T) {
	store, err := NewFromCookies(map[string]string{"NID_AUT": "old"})
	require.NoError(t, err)

	before := store.CurrentHeaders()
	store.Replace(map[string]string{"NID_AUT": "new", "NID_SES": "present"})
	after := store.CurrentHeaders()

	assert.Contains(t, before["Cookie"], "old")
	assert.Contains(t, after["Cookie"], "new")
	assert.True(t, store.HasAdultAuth())
}

func TestJoinCookies_Deterministic(t *testing.T) {
	a := joinCookies(map[string]string{"b": "2", "a": "1", "c": "3"})
	b := joinCookies(map[string]string{"c": "3", "a": "1", "b": "2"})
	assert.Equal(t, a, b)
	assert.Equal(t, "a=1; b=2; c=3", a)
}
