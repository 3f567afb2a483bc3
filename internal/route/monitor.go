package route

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/syncx"
)

// DeviceLister enumerates the host's audio devices.
type DeviceLister interface {
	Devices() ([]Device, error)
}

type snapshot struct {
	primed     bool
	devices    map[string]Device
	headphones bool
}

// Monitor polls the device list and publishes NewDeviceAvailable / OldDeviceUnavailable
// events when it changes.
type Monitor struct {
	lister   DeviceLister
	bus      *Bus
	interval time.Duration
	state    *syncx.RWGuard[snapshot]
}

// NewMonitor creates a monitor publishing on bus.
func NewMonitor(lister DeviceLister, bus *Bus, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = time.Second
	}
	return &Monitor{lister: lister, bus: bus, interval: interval, state: syncx.NewGuard(snapshot{})}
}

// Run polls until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	if _, err := m.Poll(); err != nil {
		slog.Warn("route poll failed", "error", err)
	}
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Poll(); err != nil {
				slog.Debug("route poll failed", "error", err)
			}
		}
	}
}

// Poll compares the device list with the last one and publishes at most one event per
// direction. The first poll only primes the snapshot.
func (m *Monitor) Poll() ([]Event, error) {
	devices, err := m.lister.Devices()
	if err != nil {
		return nil, err
	}
	current := make(map[string]Device, len(devices))
	for _, d := range devices {
		current[d.Name] = d
	}
	headphones := HeadphonesPresent(devices)

	events := syncx.Modify(m.state, func(s *snapshot) []Event {
		prev := s.devices
		primed := s.primed
		s.devices, s.headphones, s.primed = current, headphones, true
		if !primed {
			return nil
		}

		var added, removed []string
		for name := range current {
			if _, ok := prev[name]; !ok {
				added = append(added, name)
			}
		}
		for name := range prev {
			if _, ok := current[name]; !ok {
				removed = append(removed, name)
			}
		}
		slices.Sort(added)
		slices.Sort(removed)

		var out []Event
		now := time.Now()
		if len(removed) > 0 {
			out = append(out, Event{Reason: OldDeviceUnavailable, HeadphonesConnected: headphones, Removed: removed, At: now})
		}
		if len(added) > 0 {
			out = append(out, Event{Reason: NewDeviceAvailable, HeadphonesConnected: headphones, Added: added, At: now})
		}
		return out
	})

	for _, e := range events {
		slog.Info("audio route changed", "reason", e.Reason, "added", e.Added, "removed", e.Removed, "headphones", e.HeadphonesConnected)
		m.bus.Publish(e)
	}
	return events, nil
}

// HeadphonesConnected reports the last polled headphone presence.
func (m *Monitor) HeadphonesConnected() bool {
	return syncx.View(m.state, func(s snapshot) bool { return s.headphones })
}

// Devices returns the last polled device list sorted by name.
func (m *Monitor) Devices() []Device {
	return syncx.View(m.state, func(s snapshot) []Device {
		out := make([]Device, 0, len(s.devices))
		for _, d := range s.devices {
			out = append(out, d)
		}
		slices.SortFunc(out, func(a, b Device) int { return strings.Compare(a.Name, b.Name) })
		return out
	})
}
