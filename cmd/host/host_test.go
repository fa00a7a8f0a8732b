package host

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tphakala/deckbridge/internal/conf"
)

func TestEngineArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings conf.Settings
		want     []string
	}{
		{"defaults", conf.Settings{}, nil},
		{"transport dir", conf.Settings{Transport: conf.TransportSettings{Dir: "/run/deck"}}, []string{"--transport-dir", "/run/deck"}},
		{"debug", conf.Settings{Debug: true}, []string{"--debug"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, engineArgs(&tt.settings))
		})
	}
}
