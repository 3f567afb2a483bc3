// Package route tracks the audio route: which microphone is selected, whether headphones are
// connected, and which session options the hardware must be opened with. Changes are
// published on a typed Bus.
package route

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Microphone is a selectable input source.
type Microphone int

const (
	Bottom Microphone = iota
	Front
	Back
	Headphones
)

var microphoneNames = [...]string{"bottom", "front", "back", "headphones"}

func (m Microphone) String() string {
	if m < 0 || int(m) >= len(microphoneNames) {
		return fmt.Sprintf("microphone(%d)", int(m))
	}
	return microphoneNames[m]
}

// ParseMicrophone accepts the String form, case-insensitively.
func ParseMicrophone(s string) (Microphone, error) {
	for i, n := range microphoneNames {
		if strings.EqualFold(s, n) {
			return Microphone(i), nil
		}
	}
	return Bottom, fmt.Errorf("unknown microphone %q", s)
}

// State is the route as the mode controller sees it.
type State struct {
	HasConnectedHeadphones bool       `json:"has_connected_headphones"`
	SelectedMicrophone     Microphone `json:"selected_microphone"`
	InputDevice            string     `json:"input_device,omitempty"`
	OutputDevice           string     `json:"output_device,omitempty"`
}

// Reason classifies a route change.
type Reason int

const (
	NewDeviceAvailable Reason = iota
	OldDeviceUnavailable
	CategoryChange
	Override
)

func (r Reason) String() string {
	switch r {
	case NewDeviceAvailable:
		return "new_device_available"
	case OldDeviceUnavailable:
		return "old_device_unavailable"
	case CategoryChange:
		return "category_change"
	case Override:
		return "override"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// RequiresRestart reports whether the engine must be torn down and reconfigured.
func (r Reason) RequiresRestart() bool {
	return r == NewDeviceAvailable || r == OldDeviceUnavailable || r == CategoryChange
}

// Event is one route change.
type Event struct {
	Reason              Reason
	HeadphonesConnected bool
	Added               []string
	Removed             []string
	At                  time.Time
}

// Observer receives route events. OnRouteChange runs on the publisher's goroutine and
// must not block.
type Observer interface {
	OnRouteChange(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnRouteChange(e Event) { f(e) }

// Bus fans route events out to subscribers in subscription order.
type Bus struct {
	mu   sync.RWMutex
	next int
	subs []subscription
}

type subscription struct {
	id  int
	obs Observer
}

// NewBus creates an empty bus.
func NewBus() *Bus { return &Bus{} }

// Subscribe registers o and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	b.subs = append(b.subs, subscription{id: id, obs: o})
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers e to every subscriber.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	subs := make([]Observer, len(b.subs))
	for i, s := range b.subs {
		subs[i] = s.obs
	}
	b.mu.RUnlock()
	for _, o := range subs {
		o.OnRouteChange(e)
	}
}
