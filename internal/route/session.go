package route

import (
	"fmt"
	"strings"
)

// Options are the session category flags the hardware is opened with.
type Options uint8

const (
	// AllowBluetooth permits hands-free Bluetooth devices, microphone included.
	AllowBluetooth Options = 1 << iota
	// AllowBluetoothA2DP permits high-quality Bluetooth output only.
	AllowBluetoothA2DP
	// DefaultToSpeaker prefers the loudspeaker over the receiver.
	DefaultToSpeaker
)

func (o Options) Has(flag Options) bool { return o&flag != 0 }

func (o Options) String() string {
	var parts []string
	if o.Has(AllowBluetooth) {
		parts = append(parts, "allow_bluetooth")
	}
	if o.Has(AllowBluetoothA2DP) {
		parts = append(parts, "allow_bluetooth_a2dp")
	}
	if o.Has(DefaultToSpeaker) {
		parts = append(parts, "default_to_speaker")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// OptionsFor picks the category options for a microphone selection: the headphone mic
// needs the hands-free profile, every other source keeps Bluetooth output at A2DP quality.
func OptionsFor(mic Microphone) Options {
	if mic == Headphones {
		return AllowBluetooth
	}
	return AllowBluetoothA2DP
}

// OutputPort overrides where audio plays.
type OutputPort int

const (
	PortDefault OutputPort = iota
	PortSpeaker
)

func (p OutputPort) String() string {
	if p == PortSpeaker {
		return "speaker"
	}
	return "default"
}

// ParseOutputPort accepts "default" or "speaker".
func ParseOutputPort(s string) (OutputPort, error) {
	switch strings.ToLower(s) {
	case "", "default", "receiver":
		return PortDefault, nil
	case "speaker":
		return PortSpeaker, nil
	}
	return PortDefault, fmt.Errorf("unknown output port %q", s)
}

// Session is what the hardware needs to (re)open: category options, microphone and port.
type Session struct {
	Options    Options
	Microphone Microphone
	Port       OutputPort
}
