// Package gpio provides digital output and input lines with hardware abstraction.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Channel names a single digital line on the rig.
type Channel string

// Output channels.
const (
	Light          Channel = "light"
	MainPump       Channel = "main_pump"
	FertilizerPump Channel = "fertilizer_pump"
	FlushValve     Channel = "flush_valve"
	MinorLED       Channel = "minor_led"
	MajorLED       Channel = "major_led"
)

// Input channels.
const (
	WaterLevel Channel = "water_level"
)

// Actuators lists the output channels that drive physical equipment,
// i.e. everything the halt protocol must force off.
var Actuators = []Channel{Light, MainPump, FertilizerPump, FlushValve}

// Indicators lists the error indicator outputs.
var Indicators = []Channel{MinorLED, MajorLED}

// Outputs drives output channels.
type Outputs interface {
	// Set drives the channel to the logical level (true = energized).
	Set(ch Channel, on bool) error
}

// Inputs reads input channels.
type Inputs interface {
	// Read returns the logical level of the channel.
	Read(ch Channel) (bool, error)
}

// Board is a set of output and input lines.
type Board interface {
	Outputs
	Inputs

	// Close drives every output off and releases GPIO resources.
	Close() error
}

// Pins maps channels to BCM line offsets.
type Pins map[Channel]int

// Default pin assignments (BCM numbering).
const (
	DefaultPinLight          = 27
	DefaultPinMainPump       = 17
	DefaultPinFertilizerPump = 12
	DefaultPinFlushValve     = 25
	DefaultPinWaterLevel     = 26
	DefaultPinMinorLED       = 5
	DefaultPinMajorLED       = 6
)

// DefaultPins returns the default wiring.
func DefaultPins() Pins {
	return Pins{
		Light:          DefaultPinLight,
		MainPump:       DefaultPinMainPump,
		FertilizerPump: DefaultPinFertilizerPump,
		FlushValve:     DefaultPinFlushValve,
		WaterLevel:     DefaultPinWaterLevel,
		MinorLED:       DefaultPinMinorLED,
		MajorLED:       DefaultPinMajorLED,
	}
}

// IsInput reports whether ch is an input channel.
func IsInput(ch Channel) bool {
	return ch == WaterLevel
}
