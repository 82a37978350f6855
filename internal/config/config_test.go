package config

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaults(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Artifacts: ArtifactsConfig{ManifestPath: "manifest.json", WorkDir: "."},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 25.0, cfg.Checks.VolumeThresholdPct)
	require.Equal(t, 180, cfg.Checks.FreshnessThresholdMinutes)
	require.Equal(t, 10080, cfg.Checks.ReferenceFreshnessThresholdMins)
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 0, Host: "0.0.0.0"},
		Artifacts: ArtifactsConfig{ManifestPath: "manifest.json", WorkDir: "."},
	}
	require.Error(t, cfg.Validate())
}

func TestValidateFallsBackOnNonFiniteThreshold(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Artifacts: ArtifactsConfig{ManifestPath: "manifest.json", WorkDir: "."},
		Checks:    ChecksConfig{VolumeThresholdPct: math.NaN()},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 25.0, cfg.Checks.VolumeThresholdPct)
}

func TestValidateFallsBackOnNegativeThreshold(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8080, Host: "0.0.0.0"},
		Artifacts: ArtifactsConfig{ManifestPath: "manifest.json", WorkDir: "."},
		Checks:    ChecksConfig{VolumeThresholdPct: -5},
	}
	require.NoError(t, cfg.Validate())
	require.Equal(t, 25.0, cfg.Checks.VolumeThresholdPct)
}
