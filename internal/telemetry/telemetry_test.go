package telemetry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/buildinfo"
	"github.com/tphakala/deckbridge/internal/conf"
	"github.com/tphakala/deckbridge/internal/errors"
)

func TestGenerateSystemID(t *testing.T) {
	t.Parallel()

	id, err := GenerateSystemID()
	require.NoError(t, err)
	assert.Len(t, id, 14)
	assert.True(t, isValidSystemID(id), id)

	other, err := GenerateSystemID()
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}

func TestLoadOrCreateSystemID(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "nested")

	first, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	second, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.Equal(t, first, second, "identifier must persist")

	require.NoError(t, os.WriteFile(filepath.Join(dir, systemIDFile), []byte("garbage"), 0o600))
	replaced, err := LoadOrCreateSystemID(dir)
	require.NoError(t, err)
	assert.NotEqual(t, "garbage", replaced)
	assert.True(t, isValidSystemID(replaced))
}

func TestIsValidSystemID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		id   string
		want bool
	}{
		{"A1B2-C3D4-E5F6", true},
		{"a1b2-c3d4-e5f6", true},
		{"A1B2C3D4E5F6", false},
		{"A1B2-C3D4-E5FG", false},
		{"A1B2-C3D4-E5F", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isValidSystemID(tt.id), tt.id)
	}
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "studio-mac.local",
		Message:    "media load failed: /home/alice/track.wav",
		Exception:  []sentry.Exception{{Value: "open /home/alice/track.wav: no such file"}},
		User:       sentry.User{Username: "alice", IPAddress: "10.0.0.2"},
		Contexts: map[string]sentry.Context{
			"device":      {"name": "x"},
			"os":          {"name": "linux"},
			"runtime":     {"name": "go"},
			"application": {"name": conf.AppName},
		},
		Extra: map[string]any{
			"error_type": "shm",
			"component":  "engine",
			"path":       "/home/alice/track.wav",
		},
		Tags: map[string]string{
			"hostname":    "studio-mac",
			"server_name": "studio-mac",
			"role":        "engine",
		},
	}

	filtered := applyPrivacyFilters(event)

	assert.Empty(t, filtered.ServerName)
	assert.True(t, filtered.User.IsEmpty())
	assert.Equal(t, []string{"application"}, keys(filtered.Contexts))
	assert.Equal(t, map[string]any{"error_type": "shm", "component": "engine"}, filtered.Extra)
	assert.Equal(t, map[string]string{"role": "engine"}, filtered.Tags)
	assert.NotContains(t, filtered.Message, "alice")
	assert.Contains(t, filtered.Message, "media load failed")
	assert.NotContains(t, filtered.Exception[0].Value, "alice")
}

func TestScopeTags(t *testing.T) {
	t.Parallel()

	tags := scopeTags(Process{Role: "client", Build: buildinfo.NewContext("1.0.0", "", "AAAA-BBBB-CCCC")})
	assert.Equal(t, "client", tags["role"])
	assert.Equal(t, "AAAA-BBBB-CCCC", tags["system_id"])
	assert.NotContains(t, tags, "session_id")

	tags = scopeTags(Process{Role: "engine", SessionID: "abc"})
	assert.Equal(t, "abc", tags["session_id"])
	assert.Equal(t, buildinfo.UnknownValue, tags["system_id"])
}

// Not parallel: InitSentry touches package state.
func TestInitSentryOptIn(t *testing.T) {
	settings, err := conf.DefaultSettings()
	require.NoError(t, err)

	require.NoError(t, InitSentry(settings, Process{Role: "engine"}))
	assert.False(t, IsEnabled())

	settings.Telemetry.Sentry.Enabled = true
	settings.Telemetry.Sentry.DSN = ""
	err = InitSentry(settings, Process{Role: "engine"})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	assert.False(t, IsEnabled())

	// Disabled helpers are no-ops.
	CaptureMessage("ignored", sentry.LevelInfo, "test")
	Flush(0)
}

func keys(m map[string]sentry.Context) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
