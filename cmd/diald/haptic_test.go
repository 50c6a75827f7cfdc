package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHidrawHaptic_WritesReport(t *testing.T) {
	// A regular file stands in for the hidraw node.
	p := filepath.Join(t.TempDir(), "hidraw0")
	require.NoError(t, os.WriteFile(p, nil, 0o644))

	h := newHidrawHaptic(p, time.Second, slog.Default())
	defer h.Close()

	require.NoError(t, h.Buzz())
	require.NoError(t, h.Buzz())

	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte{}, hapticReport...), hapticReport...), got)
}

func TestHidrawHaptic_BacksOffWhileMissing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "hidraw0")
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	h := newHidrawHaptic(p, 5*time.Second, slog.Default())
	h.now = func() time.Time { return now }
	defer h.Close()

	err := h.Buzz()
	require.Error(t, err)
	assert.True(t, h.failing)

	// Within the back-off window the device is not touched.
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	now = now.Add(4 * time.Second)
	err = h.Buzz()
	var unavailable errHapticUnavailable
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, p, unavailable.path)

	// After it, the device is reopened.
	now = now.Add(2 * time.Second)
	require.NoError(t, h.Buzz())
	assert.False(t, h.failing)
}

func TestNewHaptic_EmptyDeviceDisables(t *testing.T) {
	h := newHaptic(HapticsConfig{}, slog.Default())
	assert.IsType(t, nopHaptic{}, h)
	assert.NoError(t, h.Buzz())
}
