package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/deckbridge/internal/errors"
)

func TestEncodeWireForm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"load", Load("/m/a b.flac", 0.5, 1.25), `{"type":"load","path":"/m/a b.flac","vol":0.5,"speed":1.25}`},
		{"seek zero keeps pos", Seek(0), `{"type":"seek","pos":0}`},
		{"volume", Volume(0.8), `{"type":"volume","val":0.8}`},
		{"rate", Rate(2), `{"type":"rate","val":2}`},
		{"heartbeat", Simple(KindHeartbeat), `{"type":"heartbeat"}`},
		{"show window", Simple(KindShowWindow), `{"type":"show_window"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := tt.cmd.Encode()
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{"load defaults", `{"type":"load","path":"/x.wav"}`, Load("/x.wav", 1, 1), false},
		{"load unicode path", `{"type":"load","path":"/מוזיקה/שיר.flac","vol":0.3,"speed":0.9}`, Load("/מוזיקה/שיר.flac", 0.3, 0.9), false},
		{"seek int", `{"type":"seek","pos":1}`, Seek(1), false},
		{"volume", `{"type":"volume","val":0.25}`, Volume(0.25), false},
		{"play", `{"type":"play"}`, Simple(KindPlay), false},
		{"quit", `{"type":"quit"}`, Simple(KindQuit), false},
		{"unknown kind ignored", `{"type":"eject"}`, Command{Kind: KindUnknown}, false},
		{"truncated", `{"type":"load","path":"/very/lo`, Command{}, true},
		{"not json", `heartbeat`, Command{}, true},
		{"missing type", `{"pos":1}`, Command{}, true},
		{"seek without pos", `{"type":"seek"}`, Command{}, true},
		{"load without path", `{"type":"load"}`, Command{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Decode([]byte(tt.in))
			if tt.wantErr {
				require.ErrorIs(t, err, ErrMalformedCommand)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeDecodeLongPath(t *testing.T) {
	t.Parallel()

	path := "/" + strings.Repeat("d/", 200) + "track.flac"
	b, err := Load(path, 1, 1).Encode()
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, path, got.Path)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Load("/a", 1, 1).Validate())
	assert.NoError(t, Simple(KindStop).Validate())
	for _, c := range []Command{
		Load("", 1, 1),
		Load("/a", -1, 1),
		Load("/a", 1, 0),
		Seek(1.5),
		Volume(-0.1),
		Rate(0),
		{Kind: "eject"},
	} {
		err := c.Validate()
		require.Error(t, err, "%+v", c)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	}
}

func TestDiscontinuous(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindLoad, KindPause, KindStop, KindSeek, KindRate} {
		assert.True(t, Command{Kind: k}.Discontinuous(), k)
	}
	for _, k := range []Kind{KindPlay, KindVolume, KindShowWindow, KindHeartbeat, KindQuit} {
		assert.False(t, Command{Kind: k}.Discontinuous(), k)
	}
}
