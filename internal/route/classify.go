package route

// Device is one hardware endpoint as reported by the audio host.
type Device struct {
	Name              string
	MaxInputChannels  int
	MaxOutputChannels int
}

var (
	headphoneKeywords = []string{"headphone", "headset", "airpods", "earpods", "earbuds", "buds"}
	bluetoothKeywords = []string{"bluetooth", "airpods", "hands-free", "handsfree", "bt "}
	backKeywords      = []string{"back", "rear"}
	frontKeywords     = []string{"front", "facetime", "webcam", "camera"}
	speakerKeywords   = []string{"speaker"}
)

// IsHeadphones reports whether a device name looks like a headphone or headset.
func IsHeadphones(name string) bool { return containsAny(name, headphoneKeywords) }

// IsBluetooth reports whether a device name looks like a Bluetooth endpoint.
func IsBluetooth(name string) bool { return containsAny(name, bluetoothKeywords) }

// IsSpeaker reports whether an output device is a loudspeaker.
func IsSpeaker(name string) bool { return containsAny(name, speakerKeywords) }

// Classify maps an input device to the microphone source it provides.
func Classify(name string) Microphone {
	switch {
	case IsHeadphones(name) || IsBluetooth(name):
		return Headphones
	case containsAny(name, backKeywords):
		return Back
	case containsAny(name, frontKeywords):
		return Front
	default:
		return Bottom
	}
}

// HeadphonesPresent reports whether any device in the list is a headphone.
func HeadphonesPresent(devices []Device) bool {
	for _, d := range devices {
		if IsHeadphones(d.Name) {
			return true
		}
	}
	return false
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if ContainsIgnoreCase(s, kw) {
			return true
		}
	}
	return false
}

// ContainsIgnoreCase is an ASCII case-insensitive substring test.
func ContainsIgnoreCase(s, substr string) bool {
	return len(s) >= len(substr) && (s == substr || containsIgnoreCaseImpl(s, substr))
}

const asciiCaseOffset = 'a' - 'A'

func containsIgnoreCaseImpl(s, substr string) bool {
	for i := 0; i <= len(s)-len(substr); i++ {
		match := true
		for j := 0; j < len(substr); j++ {
			c1, c2 := s[i+j], substr[j]
			if c1 >= 'A' && c1 <= 'Z' {
				c1 += asciiCaseOffset
			}
			if c2 >= 'A' && c2 <= 'Z' {
				c2 += asciiCaseOffset
			}
			if c1 != c2 {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
