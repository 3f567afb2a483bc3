package audio

import "github.com/GriffinCanCode/hearing-assist/internal/route"

// SelectInput picks the capture device for a session. ok is false when the host default
// should be used.
func SelectInput(devices []route.Device, s route.Session, excluded []string) (dev route.Device, ok bool) {
	var fallback *route.Device
	for i := range devices {
		d := devices[i]
		if d.MaxInputChannels < 1 || isExcluded(d.Name, excluded) {
			continue
		}
		// A2DP carries no microphone; a Bluetooth input needs the hands-free profile.
		if route.IsBluetooth(d.Name) && !s.Options.Has(route.AllowBluetooth) {
			continue
		}
		if route.Classify(d.Name) == s.Microphone {
			return d, true
		}
		if fallback == nil || preferDevice(d.Name, fallback.Name) {
			fallback = &devices[i]
		}
	}
	if fallback != nil && s.Microphone == route.Headphones {
		return *fallback, true
	}
	return route.Device{}, false
}

// SelectOutput picks the playback device. The speaker override wins; otherwise connected
// headphones are preferred. ok is false when the host default should be used.
func SelectOutput(devices []route.Device, s route.Session, excluded []string) (dev route.Device, ok bool) {
	for _, d := range devices {
		if d.MaxOutputChannels < 1 || isExcluded(d.Name, excluded) {
			continue
		}
		if s.Port == route.PortSpeaker {
			if route.IsSpeaker(d.Name) {
				return d, true
			}
			continue
		}
		if route.IsHeadphones(d.Name) {
			if route.IsBluetooth(d.Name) && !s.Options.Has(route.AllowBluetooth|route.AllowBluetoothA2DP) {
				continue
			}
			return d, true
		}
	}
	return route.Device{}, false
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if route.ContainsIgnoreCase(name, ex) {
			return true
		}
	}
	return false
}

// preferDevice favours built-in microphones over external or virtual ones.
func preferDevice(name, current string) bool {
	preferred := []string{"macbook", "built-in"}
	for _, p := range preferred {
		nameHas := route.ContainsIgnoreCase(name, p)
		currHas := route.ContainsIgnoreCase(current, p)
		if nameHas && !currHas {
			return true
		}
	}
	return false
}
