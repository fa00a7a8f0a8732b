// Package command defines the transport commands the client sends to the
// engine and their compact JSON wire form, e.g.
//
//	{"type":"load","path":"/media/a.flac","vol":1,"speed":1}
//	{"type":"seek","pos":0.5}
//	{"type":"volume","val":0.8}
//	{"type":"heartbeat"}
package command

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/antonholmquist/jason"

	"github.com/tphakala/deckbridge/internal/errors"
)

// Kind identifies a command.
type Kind string

const (
	KindLoad       Kind = "load"
	KindPlay       Kind = "play"
	KindPause      Kind = "pause"
	KindStop       Kind = "stop"
	KindSeek       Kind = "seek"
	KindVolume     Kind = "volume"
	KindRate       Kind = "rate"
	KindShowWindow Kind = "show_window"
	KindHeartbeat  Kind = "heartbeat"
	KindQuit       Kind = "quit"
	KindUnknown    Kind = ""
)

// ErrMalformedCommand is returned for payloads that are not a JSON object
// with a string "type", or that lack a field their kind requires. A
// payload cut off at the slot limit ends up here too.
var ErrMalformedCommand = errors.NewStd("malformed command")

// Command is a decoded transport command. Only the fields relevant to Kind
// are meaningful.
type Command struct {
	Kind     Kind
	Path     string  // load
	Volume   float64 // load
	Rate     float64 // load
	Position float64 // seek, normalized 0..1
	Value    float64 // volume, rate
}

// Load returns a load command.
func Load(path string, volume, rate float64) Command {
	return Command{Kind: KindLoad, Path: path, Volume: volume, Rate: rate}
}

// Seek returns a seek command to a normalized position.
func Seek(pos float64) Command { return Command{Kind: KindSeek, Position: pos} }

// Volume returns a volume command.
func Volume(v float64) Command { return Command{Kind: KindVolume, Value: v} }

// Rate returns a playback-rate command.
func Rate(r float64) Command { return Command{Kind: KindRate, Value: r} }

// Simple returns a command that carries no arguments.
func Simple(k Kind) Command { return Command{Kind: k} }

// Discontinuous reports whether applying the command breaks audio
// continuity, so queued audio should be dropped.
func (c Command) Discontinuous() bool {
	switch c.Kind {
	case KindLoad, KindPause, KindStop, KindSeek, KindRate:
		return true
	}
	return false
}

// Validate checks argument ranges.
func (c Command) Validate() error {
	bad := func(format string, args ...any) error {
		return errors.Newf(format, args...).
			Component("command").
			Category(errors.CategoryValidation).
			Context("kind", string(c.Kind)).
			Build()
	}
	finite := func(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

	switch c.Kind {
	case KindLoad:
		if c.Path == "" {
			return bad("load requires a path")
		}
		if !finite(c.Volume) || c.Volume < 0 {
			return bad("volume must be >= 0")
		}
		if !finite(c.Rate) || c.Rate <= 0 {
			return bad("rate must be > 0")
		}
	case KindSeek:
		if !finite(c.Position) || c.Position < 0 || c.Position > 1 {
			return bad("position must be within 0..1")
		}
	case KindVolume:
		if !finite(c.Value) || c.Value < 0 {
			return bad("volume must be >= 0")
		}
	case KindRate:
		if !finite(c.Value) || c.Value <= 0 {
			return bad("rate must be > 0")
		}
	case KindPlay, KindPause, KindStop, KindShowWindow, KindHeartbeat, KindQuit:
	default:
		return bad("unknown command kind %q", c.Kind)
	}
	return nil
}

type wireCommand struct {
	Type  Kind     `json:"type"`
	Path  *string  `json:"path,omitempty"`
	Vol   *float64 `json:"vol,omitempty"`
	Speed *float64 `json:"speed,omitempty"`
	Pos   *float64 `json:"pos,omitempty"`
	Val   *float64 `json:"val,omitempty"`
}

// Encode renders the wire form. Arguments are emitted only for kinds that
// use them; pointer fields keep zero values such as "pos":0.
func (c Command) Encode() ([]byte, error) {
	w := wireCommand{Type: c.Kind}
	switch c.Kind {
	case KindLoad:
		w.Path, w.Vol, w.Speed = &c.Path, &c.Volume, &c.Rate
	case KindSeek:
		w.Pos = &c.Position
	case KindVolume, KindRate:
		w.Val = &c.Value
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Kind, err)
	}
	return b, nil
}

// Decode parses a wire payload. Unknown kinds decode to KindUnknown without
// error so that newer clients do not break older engines.
func Decode(b []byte) (Command, error) {
	obj, err := jason.NewObjectFromBytes(b)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrMalformedCommand, err)
	}
	t, err := obj.GetString("type")
	if err != nil {
		return Command{}, fmt.Errorf("%w: missing type", ErrMalformedCommand)
	}

	c := Command{Kind: Kind(t)}
	switch c.Kind {
	case KindLoad:
		if c.Path, err = obj.GetString("path"); err != nil || c.Path == "" {
			return Command{}, fmt.Errorf("%w: load without path", ErrMalformedCommand)
		}
		c.Volume = optionalFloat(obj, "vol", 1)
		c.Rate = optionalFloat(obj, "speed", 1)
	case KindSeek:
		if c.Position, err = obj.GetFloat64("pos"); err != nil {
			return Command{}, fmt.Errorf("%w: seek without pos", ErrMalformedCommand)
		}
	case KindVolume, KindRate:
		if c.Value, err = obj.GetFloat64("val"); err != nil {
			return Command{}, fmt.Errorf("%w: %s without val", ErrMalformedCommand, c.Kind)
		}
	case KindPlay, KindPause, KindStop, KindShowWindow, KindHeartbeat, KindQuit:
	default:
		c = Command{Kind: KindUnknown}
	}
	return c, nil
}

func optionalFloat(obj *jason.Object, key string, def float64) float64 {
	if v, err := obj.GetFloat64(key); err == nil {
		return v
	}
	return def
}
