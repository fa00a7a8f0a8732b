// conf/consts.go hard coded transport constants
package conf

// These values are baked into the shared region layout; changing any of
// them requires bumping RegionVersion.
const (
	SampleRate       = 44100 // default media output rate before the host publishes its own
	BlockSize        = 512   // frames moved per pump iteration
	NumChannels      = 2     // interleaved stereo
	RingFrames       = 65536 // audio ring capacity in frames, power of two
	CommandSlots     = 16    // command queue depth
	CommandSlotBytes = 4096  // bytes per command slot including the terminator
	RegionVersion    = 5

	AppName = "deckbridge"
)
