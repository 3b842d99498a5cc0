package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsInvalidWithoutChannels(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "targetChannels")
}

func TestDefault_ValidOnceChannelsSet(t *testing.T) {
	cfg := Default()
	cfg.TargetChannels = []string{"abc123"}
	require.NoError(t, cfg.Validate())
}

func TestValidate_ArchiveRequiresDir(t *testing.T) {
	cfg := Default()
	cfg.TargetChannels = []string{"abc123"}
	cfg.OnStartPrevious = PolicyArchive
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archiveDir")

	cfg.ArchiveDir = "/tmp/archive"
	require.NoError(t, cfg.Validate())
}

func TestValidate_RejectsBadQuality(t *testing.T) {
	cfg := Default()
	cfg.TargetChannels = []string{"abc123"}
	cfg.Quality = "4k"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsOutOfRangeRefreshHour(t *testing.T) {
	cfg := Default()
	cfg.TargetChannels = []string{"abc123"}
	cfg.SessionRefreshHours = []int{6, 25}
	require.Error(t, cfg.Validate())
}

func TestPollInterval_ConvertsSeconds(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 30_000_000_000, int(cfg.PollInterval()))
}
