package privacy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrubMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		mustDrop []string
		keep     []string
	}{
		{
			name:     "unix media path",
			input:    `load "/home/alice/Music/set list.flac" failed`,
			mustDrop: []string{"alice", "Music"},
			keep:     []string{"load", "failed", ".flac"},
		},
		{
			name:     "windows path",
			input:    `open C:\Users\bob\clip.wav: not found`,
			mustDrop: []string{"bob", "Users"},
			keep:     []string{"open", ".wav", "not found"},
		},
		{
			name:     "file uri",
			input:    "playbin uri file:///home/carol/track.mp3 rejected",
			mustDrop: []string{"carol"},
			keep:     []string{"file-local-", ".mp3", "rejected"},
		},
		{
			name:     "http uri",
			input:    "fetch https://user:pw@media.example.com/a/b.ogg",
			mustDrop: []string{"example.com", "pw"},
			keep:     []string{"https-remote-", ".ogg"},
		},
		{
			name:     "credentials",
			input:    "sentry init failed dsn=https://abc@o1.ingest.example.io/42",
			mustDrop: []string{"abc", "ingest"},
			keep:     []string{"dsn=[REDACTED]"},
		},
		{
			name:  "no paths",
			input: "command queue full",
			keep:  []string{"command queue full"},
		},
		{
			name:  "single slash is not a path",
			input: "ratio 1/2 applied",
			keep:  []string{"ratio 1/2 applied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ScrubMessage(tt.input)
			for _, s := range tt.mustDrop {
				assert.NotContains(t, got, s)
			}
			for _, s := range tt.keep {
				assert.Contains(t, got, s)
			}
		})
	}
}

func TestAnonymizePathStable(t *testing.T) {
	t.Parallel()

	a := AnonymizePath("/srv/media/intro.wav")
	assert.Equal(t, a, AnonymizePath("/srv/media/intro.wav"))
	assert.NotEqual(t, a, AnonymizePath("/srv/media/outro.wav"))
	assert.True(t, strings.HasPrefix(a, "path-"))
	assert.True(t, strings.HasSuffix(a, ".wav"))
}
