package cmd

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/engine"
	"github.com/tphakala/deckbridge/internal/errors"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"generic", errors.NewStd("boom"), ExitError},
		{"heartbeat", engine.ErrHeartbeatTimeout, ExitHeartbeatTimeout},
		{"wrapped heartbeat", fmt.Errorf("engine: %w", engine.ErrHeartbeatTimeout), ExitHeartbeatTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestRootCommandTree(t *testing.T) {
	settings, err := conf.DefaultSettings()
	require.NoError(t, err)

	root := RootCommand(settings, buildinfo.NewContext("1.2.3", "", ""))
	assert.Equal(t, "1.2.3", root.Version)

	for _, name := range []string{"engine", "host", "config", "probe"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, sub.Name())
	}
}
