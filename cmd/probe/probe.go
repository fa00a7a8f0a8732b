// Package probe implements `deckbridge probe`, which prints what the
// built-in file backend would see in each media file.
package probe

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/deckbridge/internal/media"
)

// Command creates the probe subcommand.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <file>...",
		Short: "Show format details of WAV and FLAC files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return probeAll(cmd.OutOrStdout(), media.NewProber(time.Minute), args)
		},
	}
}

// probeAll reports every file and returns the first failure.
func probeAll(w io.Writer, pr *media.Prober, paths []string) error {
	var firstErr error
	for _, path := range paths {
		info, err := pr.Probe(path)
		if err != nil {
			fmt.Fprintf(w, "%s: %v\n", path, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		fmt.Fprintf(w, "%s: %s %d Hz %d ch %d bit, %s\n",
			path, info.Format, info.SampleRate, info.Channels, info.BitDepth,
			info.Duration().Round(time.Millisecond))
	}
	return firstErr
}
