package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`{"type":"state_init","data":{"volume":50,"clicks":2,"mode":"idle"}}`, "[STATE] volume=50 clicks=2 mode=idle"},
		{`{"type":"volume_changed","data":{"volume":51}}`, "[VOLUME] 51"},
		{`{"type":"clicks_changed","data":{"clicks":3}}`, "[CLICK] 3"},
		{`{"type":"mode_changed","data":{"mode":"backlash"}}`, "[MODE] backlash"},
		{`{"type":"future_thing","data":{"x":1}}`, `[future_thing] {"x":1}`},
		{`not json`, "[TEXT] not json"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatFrame([]byte(tt.in)))
	}
}
