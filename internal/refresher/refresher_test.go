package refresher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chzzkrecd/internal/authstore"
	"chzzkrecd/internal/config"
)

func TestNew_SchedulesConfiguredHoursWithoutError(t *testing.T) {
	auth, err := authstore.NewFromCookies(map[string]string{"NID_AUT": "x"})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.SessionRefreshHours = []int{6, 18}

	_, err = New(auth, cfg, func(ctx context.Context) (map[string]string, error) {
		return nil, nil
	}, nil)
	require.NoError(t, err)
}

func TestRefreshNow_InstallsNewCookies(t *testing.T) {
	auth, err := authstore.NewFromCookies(map[string]string{"NID_AUT": "old"})
	require.NoError(t, err)

	r, err := New(auth, config.Default(), func(ctx context.Context) (map[string]string, error) {
		return map[string]string{"NID_AUT": "new", "NID_SES": "present"}, nil
	}, nil)
	require.NoError(t, err)

	require.NoError(t, r.RefreshNow(context.Background()))

	headers := auth.CurrentHeaders()
	assert.Contains(t, headers["Cookie"], "new")
	assert.True(t, auth.HasAdultAuth())
}

func TestRefreshNow_LoginFailureDoesNotMutateAuthStore(t *testing.T) {
	auth, err := authstore.NewFromCookies(map[string]string{"NID_AUT": "old"})
	require.NoError(t, err)

	wantErr := errors.New("login rejected")
	r, err := New(auth, config.Default(), func(ctx context.Context) (map[string]string, error) {
		return nil, wantErr
	}, nil)
	require.NoError(t, err)

	before := auth.CurrentHeaders()
	err = r.RefreshNow(context.Background())
	require.Error(t, err)

	after := auth.CurrentHeaders()
	assert.Equal(t, before, after)
}
