package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGain(t *testing.T) {
	for in, want := range map[string]uint32{
		"0":    0,
		"200":  200,
		"255":  255,
		"100%": 255,
		"50%":  127,
		"0%":   0,
	} {
		got, err := parseGain(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"256", "101%", "-1", "loud", "%"} {
		_, err := parseGain(in)
		assert.Error(t, err, in)
	}
}
