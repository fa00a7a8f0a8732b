package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/patrickmn/go-cache"
	"github.com/tphakala/flac"

	"github.com/tphakala/deckbridge/internal/errors"
)

// ErrUnsupportedFormat is returned for files that are neither WAV nor FLAC,
// or that use a sample layout the decoder cannot handle.
var ErrUnsupportedFormat = errors.New(errors.NewStd("unsupported audio format")).
	Component("media").
	Category(errors.CategoryFileParsing).
	Build()

// TrackInfo describes a decodable audio file.
type TrackInfo struct {
	Format     string // "wav" or "flac"
	SampleRate int
	Channels   int
	BitDepth   int
	Frames     int64
}

// Duration returns the track length.
func (ti TrackInfo) Duration() time.Duration {
	if ti.SampleRate <= 0 {
		return 0
	}
	return time.Duration(ti.Frames) * time.Second / time.Duration(ti.SampleRate)
}

// LengthMs returns the track length in milliseconds.
func (ti TrackInfo) LengthMs() int64 {
	return ti.Duration().Milliseconds()
}

// Prober reads and caches file headers. Entries are keyed by path, size
// and modification time so an overwritten file is probed again.
type Prober struct {
	cache *cache.Cache
}

// NewProber returns a prober whose entries live for ttl. No janitor
// goroutine is started; expired entries are dropped on lookup.
func NewProber(ttl time.Duration) *Prober {
	return &Prober{cache: cache.New(ttl, 0)}
}

// Probe returns the header information for path.
func (p *Prober) Probe(path string) (TrackInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return TrackInfo{}, errors.New(err).
			Component("media").
			Category(errors.CategoryFileIO).
			Context("operation", "probe").
			FileContext(path, 0).
			Build()
	}
	key := fmt.Sprintf("%s|%d|%d", path, fi.Size(), fi.ModTime().UnixNano())
	if v, ok := p.cache.Get(key); ok {
		return v.(TrackInfo), nil
	}

	info, err := probeFile(path)
	if err != nil {
		return TrackInfo{}, err
	}
	p.cache.SetDefault(key, info)
	return info, nil
}

// Len reports the number of cached entries.
func (p *Prober) Len() int { return p.cache.ItemCount() }

func formatOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

func probeFile(path string) (TrackInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return TrackInfo{}, errors.FileError(err, path, 0)
	}
	defer f.Close()

	switch formatOf(path) {
	case "wav":
		return wavInfo(f)
	case "flac":
		return flacInfo(f)
	default:
		return TrackInfo{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

func wavInfo(f *os.File) (TrackInfo, error) {
	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return TrackInfo{}, fmt.Errorf("%w: invalid WAV header", ErrUnsupportedFormat)
	}
	if err := checkLayout(int(d.BitDepth), int(d.NumChans)); err != nil {
		return TrackInfo{}, err
	}
	dur, err := d.Duration()
	if err != nil {
		return TrackInfo{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	return TrackInfo{
		Format:     "wav",
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		Frames:     int64(math.Round(dur.Seconds() * float64(d.SampleRate))),
	}, nil
}

func flacInfo(f *os.File) (TrackInfo, error) {
	d, err := flac.NewDecoder(f)
	if err != nil {
		return TrackInfo{}, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	if err := checkLayout(d.BitsPerSample, d.NChannels); err != nil {
		return TrackInfo{}, err
	}
	return TrackInfo{
		Format:     "flac",
		SampleRate: d.SampleRate,
		Channels:   d.NChannels,
		BitDepth:   d.BitsPerSample,
		Frames:     int64(d.TotalSamples), //nolint:gosec // frame counts fit in int64
	}, nil
}

func checkLayout(bitDepth, channels int) error {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrUnsupportedFormat, bitDepth)
	}
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	return nil
}

// pcmTrack is a fully decoded stereo track. Mono sources are duplicated
// onto both channels.
type pcmTrack struct {
	rate  int
	left  []float32
	right []float32
}

func (t *pcmTrack) frames() int { return len(t.left) }

func decodeTrack(path string, info TrackInfo) (*pcmTrack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.FileError(err, path, 0)
	}
	defer f.Close()

	var t *pcmTrack
	switch info.Format {
	case "wav":
		t, err = decodeWAV(f)
	case "flac":
		t, err = decodeFLAC(f)
	default:
		err = ErrUnsupportedFormat
	}
	if err != nil {
		return nil, errors.New(err).
			Component("media").
			Category(errors.CategoryFileParsing).
			Context("format", info.Format).
			FileContext(path, 0).
			Build()
	}
	return t, nil
}

func divisorFor(bitDepth int) float32 {
	return float32(int64(1) << (bitDepth - 1))
}

func decodeWAV(f *os.File) (*pcmTrack, error) {
	d := wav.NewDecoder(f)
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, err
	}
	channels := int(d.NumChans)
	if err := checkLayout(int(d.BitDepth), channels); err != nil {
		return nil, err
	}

	div := divisorFor(int(d.BitDepth))
	frames := len(buf.Data) / channels
	t := &pcmTrack{
		rate:  int(d.SampleRate),
		left:  make([]float32, frames),
		right: make([]float32, frames),
	}
	for i := range frames {
		t.left[i] = float32(buf.Data[i*channels]) / div
		t.right[i] = float32(buf.Data[i*channels+channels-1]) / div
	}
	return t, nil
}

func decodeFLAC(f *os.File) (*pcmTrack, error) {
	d, err := flac.NewDecoder(f)
	if err != nil {
		return nil, err
	}
	channels := d.NChannels
	if err := checkLayout(d.BitsPerSample, channels); err != nil {
		return nil, err
	}

	div := divisorFor(d.BitsPerSample)
	bytesPerSample := d.BitsPerSample / 8
	stride := bytesPerSample * channels
	t := &pcmTrack{
		rate:  d.SampleRate,
		left:  make([]float32, 0, d.TotalSamples),
		right: make([]float32, 0, d.TotalSamples),
	}

	for {
		frame, err := d.Next()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		for i := 0; i+stride <= len(frame); i += stride {
			l := sampleAt(frame[i:], d.BitsPerSample)
			r := sampleAt(frame[i+stride-bytesPerSample:], d.BitsPerSample)
			t.left = append(t.left, float32(l)/div)
			t.right = append(t.right, float32(r)/div)
		}
	}
	return t, nil
}

// sampleAt reads one little-endian signed sample.
func sampleAt(b []byte, bitDepth int) int32 {
	switch bitDepth {
	case 16:
		return int32(int16(binary.LittleEndian.Uint16(b)))
	case 24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		return v << 8 >> 8 // sign-extend
	default:
		return int32(binary.LittleEndian.Uint32(b)) //nolint:gosec // reinterpret as signed
	}
}
