package client

import (
	"github.com/tphakala/deckbridge/internal/command"
)

// Note numbers mapped to transport actions.
const (
	NoteTogglePlay = 15
	NoteStop       = 16
	NoteShowWindow = 17
)

// RemotePlayer is the control surface's view of the engine. Commands are
// fire-and-forget; state is read from the latest status snapshot.
type RemotePlayer struct {
	c *Client
}

// NewRemotePlayer returns a facade over c.
func NewRemotePlayer(c *Client) *RemotePlayer {
	return &RemotePlayer{c: c}
}

// Client returns the underlying client.
func (p *RemotePlayer) Client() *Client { return p.c }

func (p *RemotePlayer) send(cmd command.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return p.c.Send(cmd)
}

// LoadFile asks the engine to open path. It does not start playback.
func (p *RemotePlayer) LoadFile(path string, volume, rate float64) error {
	return p.send(command.Load(path, volume, rate))
}

// Play starts or resumes playback.
func (p *RemotePlayer) Play() error { return p.send(command.Simple(command.KindPlay)) }

// Pause pauses playback.
func (p *RemotePlayer) Pause() error { return p.send(command.Simple(command.KindPause)) }

// Stop stops playback and rewinds.
func (p *RemotePlayer) Stop() error { return p.send(command.Simple(command.KindStop)) }

// SetVolume sets the engine gain.
func (p *RemotePlayer) SetVolume(v float64) error { return p.send(command.Volume(v)) }

// SetRate sets the playback speed.
func (p *RemotePlayer) SetRate(r float64) error { return p.send(command.Rate(r)) }

// SetPosition seeks to a normalized position.
func (p *RemotePlayer) SetPosition(pos float64) error { return p.send(command.Seek(pos)) }

// ShowWindow raises the engine's window.
func (p *RemotePlayer) ShowWindow() error { return p.send(command.Simple(command.KindShowWindow)) }

// IsPlaying reports the mirrored playing flag.
func (p *RemotePlayer) IsPlaying() bool { return p.c.Status().Playing }

// HasFinished reports whether the media reached its end.
func (p *RemotePlayer) HasFinished() bool { return p.c.Status().Finished }

// Position returns the normalized play position.
func (p *RemotePlayer) Position() float64 { return float64(p.c.Status().Position) }

// LengthMs returns the media length in milliseconds.
func (p *RemotePlayer) LengthMs() int64 { return p.c.Status().LengthMs }

// IsWindowOpen reports whether the engine's window is open.
func (p *RemotePlayer) IsWindowOpen() bool { return p.c.Status().WindowOpen }

// SetPitchSemitones sets the client-side pitch shift.
func (p *RemotePlayer) SetPitchSemitones(st float64) { p.c.SetPitchSemitones(st) }

// PitchSemitones returns the pitch shift.
func (p *RemotePlayer) PitchSemitones() float64 { return p.c.PitchSemitones() }

// Trigger maps a note to a transport action.
func (p *RemotePlayer) Trigger(note int) error {
	switch note {
	case NoteTogglePlay:
		if p.IsPlaying() {
			return p.Pause()
		}
		return p.Play()
	case NoteStop:
		return p.Stop()
	case NoteShowWindow:
		return p.ShowWindow()
	}
	return ErrUnmappedNote
}

// Connected reports whether an engine is attached.
func (p *RemotePlayer) Connected() bool { return p.c.Connected() }

// Reconnect re-arms connection retries.
func (p *RemotePlayer) Reconnect() { p.c.Reconnect() }
