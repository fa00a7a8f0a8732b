// Package console is an interactive prompt for driving the engine from a
// terminal.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tphakala/deckbridge/internal/client"
	"github.com/tphakala/deckbridge/internal/errors"
)

// Player is the control surface the console drives.
type Player interface {
	LoadFile(path string, volume, rate float64) error
	Play() error
	Pause() error
	Stop() error
	ShowWindow() error
	SetVolume(v float64) error
	SetRate(r float64) error
	SetPosition(pos float64) error
	SetPitchSemitones(st float64)
	PitchSemitones() float64
	Reconnect()

	Connected() bool
	IsPlaying() bool
	HasFinished() bool
	Position() float64
	LengthMs() int64
	IsWindowOpen() bool
}

var _ Player = (*client.RemotePlayer)(nil)

// ErrUsage is returned for malformed console input.
var ErrUsage = errors.New(errors.NewStd("usage")).
	Component("console").
	Category(errors.CategoryValidation).
	Build()

const help = `commands:
  load <path> [vol] [rate]   open media (quote paths with spaces)
  play | pause | stop
  seek <0..1>                jump to a position
  vol <v>                    engine gain
  rate <r>                   playback speed
  pitch <semitones>          local pitch shift
  show                       raise the engine window
  status                     print transport state
  reconnect                  retry connecting to the engine
  quit`

// Console executes text commands against a Player.
type Console struct {
	player Player
	out    io.Writer
}

// New returns a console writing responses to out.
func New(player Player, out io.Writer) *Console {
	return &Console{player: player, out: out}
}

// Run reads commands until quit, EOF or ctx cancellation.
func (c *Console) Run(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "deckbridge> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		Stdout:          c.out,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("load", readline.PcItemDynamic(listFiles)),
			readline.PcItem("play"),
			readline.PcItem("pause"),
			readline.PcItem("stop"),
			readline.PcItem("seek"),
			readline.PcItem("vol"),
			readline.PcItem("rate"),
			readline.PcItem("pitch"),
			readline.PcItem("show"),
			readline.PcItem("status"),
			readline.PcItem("reconnect"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	stop := context.AfterFunc(ctx, func() { _ = rl.Close() })
	defer stop()

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case err != nil: // io.EOF or closed
			return nil
		}

		quit, err := c.Execute(line)
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		if quit {
			return nil
		}
	}
}

// Execute runs one command line. quit is true for the quit command.
func (c *Console) Execute(line string) (quit bool, err error) {
	verb, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	args = strings.TrimSpace(args)

	switch verb {
	case "":
		return false, nil
	case "quit", "exit":
		return true, nil
	case "help", "?":
		fmt.Fprintln(c.out, help)
		return false, nil
	case "load":
		return false, c.load(args)
	case "play":
		return false, c.player.Play()
	case "pause":
		return false, c.player.Pause()
	case "stop":
		return false, c.player.Stop()
	case "show":
		return false, c.player.ShowWindow()
	case "seek":
		return false, withFloat(args, "seek <0..1>", c.player.SetPosition)
	case "vol", "volume":
		return false, withFloat(args, "vol <v>", c.player.SetVolume)
	case "rate":
		return false, withFloat(args, "rate <r>", c.player.SetRate)
	case "pitch":
		return false, withFloat(args, "pitch <semitones>", func(v float64) error {
			c.player.SetPitchSemitones(v)
			return nil
		})
	case "status":
		c.printStatus()
		return false, nil
	case "reconnect":
		c.player.Reconnect()
		fmt.Fprintln(c.out, "reconnecting")
		return false, nil
	}
	return false, fmt.Errorf("%w: unknown command %q, try help", ErrUsage, verb)
}

func (c *Console) load(args string) error {
	path, rest, err := splitPath(args)
	if err != nil {
		return err
	}
	nums := strings.Fields(rest)
	if len(nums) > 2 {
		return fmt.Errorf("%w: load <path> [vol] [rate]", ErrUsage)
	}
	vals := []float64{1, 1}
	for i, s := range nums {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("%w: %q is not a number", ErrUsage, s)
		}
		vals[i] = v
	}
	return c.player.LoadFile(path, vals[0], vals[1])
}

// splitPath takes a leading path, optionally double-quoted, off args.
func splitPath(args string) (path, rest string, err error) {
	if args == "" {
		return "", "", fmt.Errorf("%w: load <path> [vol] [rate]", ErrUsage)
	}
	if strings.HasPrefix(args, `"`) {
		end := strings.Index(args[1:], `"`)
		if end < 0 {
			return "", "", fmt.Errorf("%w: unterminated quote", ErrUsage)
		}
		return args[1 : end+1], args[end+2:], nil
	}
	path, rest, _ = strings.Cut(args, " ")
	return path, rest, nil
}

func withFloat(args, usage string, fn func(float64) error) error {
	v, err := strconv.ParseFloat(args, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUsage, usage)
	}
	return fn(v)
}

func (c *Console) printStatus() {
	p := c.player
	if !p.Connected() {
		fmt.Fprintln(c.out, "engine: disconnected")
		return
	}
	state := "stopped"
	switch {
	case p.IsPlaying():
		state = "playing"
	case p.HasFinished():
		state = "finished"
	}
	fmt.Fprintf(c.out, "engine: %s  position: %.1f%% of %s  pitch: %+.1f st  window: %t\n",
		state, p.Position()*100, formatMs(p.LengthMs()), p.PitchSemitones(), p.IsWindowOpen())
}

func formatMs(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func listFiles(line string) []string {
	_, arg, _ := strings.Cut(line, " ")
	dir := filepath.Dir(arg)
	if arg == "" {
		dir = "."
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := filepath.Join(dir, e.Name())
		if e.IsDir() {
			name += string(filepath.Separator)
		}
		out = append(out, name)
	}
	return out
}
