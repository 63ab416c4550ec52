package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketecho/marketecho/internal/modules/correlation"
)

func TestParseWindows(t *testing.T) {
	windows, err := parseWindows("1:3,1:5")
	require.NoError(t, err)
	assert.Equal(t, []correlation.Window{{Before: 1, After: 3}, {Before: 1, After: 5}}, windows)
}

func TestParseWindowsSingle(t *testing.T) {
	windows, err := parseWindows(" 2:10 ")
	require.NoError(t, err)
	assert.Equal(t, []correlation.Window{{Before: 2, After: 10}}, windows)
}

func TestParseWindowsEmpty(t *testing.T) {
	windows, err := parseWindows("")
	require.NoError(t, err)
	assert.Nil(t, windows)
}

func TestParseWindowsInvalid(t *testing.T) {
	for _, s := range []string{"13", "1:", ":3", "a:3", "1:b", "1:-3", "-1:3", "1:0"} {
		_, err := parseWindows(s)
		assert.Error(t, err, s)
	}
}
