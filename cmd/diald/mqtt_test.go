package main

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVolumePayload(t *testing.T) {
	tests := []struct {
		payload string
		want    int
	}{
		{"55", 55},
		{" 55\n", 55},
		{"-3", -3},
		{"250", 250},
		{"55.4", 55},
		{"55.5", 56},
		{`{"volume": 72}`, 72},
		{`{"volume": 12.6, "source": "ha"}`, 13},
	}

	for _, tt := range tests {
		t.Run(tt.payload, func(t *testing.T) {
			got, err := parseVolumePayload([]byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseVolumePayload_Errors(t *testing.T) {
	_, err := parseVolumePayload([]byte("  "))
	assert.ErrorIs(t, err, errEmptyPayload)

	for _, p := range []string{"loud", `{"level": 3}`, `{"volume": "x"}`, `{`, "NaN", "+Inf"} {
		_, err := parseVolumePayload([]byte(p))
		assert.Error(t, err, p)
	}
}

func TestParseVolumePayload_HugeValuesStayRepresentable(t *testing.T) {
	got, err := parseVolumePayload([]byte("1e300"))
	require.NoError(t, err)
	assert.Equal(t, int(1e9), got)
}

func TestMQTTClientID(t *testing.T) {
	assert.Equal(t, "living-room", mqttClientID("living-room"))

	id := mqttClientID("")
	require.True(t, strings.HasPrefix(id, "diald-"))
	u, err := uuid.Parse(strings.TrimPrefix(id, "diald-"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), u.Version())

	assert.NotEqual(t, id, mqttClientID(""), "generated ids are unique per call")
}
