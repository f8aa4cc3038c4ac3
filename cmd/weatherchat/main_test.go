package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOptions(t *testing.T) {
	opts, err := loadOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", opts.Server)

	t.Setenv("WEATHERCHAT_SERVER", "http://weather.internal:9000")
	opts, err = loadOptions(nil)
	require.NoError(t, err)
	assert.Equal(t, "http://weather.internal:9000", opts.Server)

	opts, err = loadOptions([]string{"-server", "http://127.0.0.1:8081"})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8081", opts.Server)

	_, err = loadOptions([]string{"-port", "1"})
	assert.Error(t, err)
}
