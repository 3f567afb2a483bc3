package audio

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/graph"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
)

// host is the part of the PortAudio library that device enumeration needs.
type host interface {
	Initialize() error
	Terminate() error
	Devices() ([]*portaudio.DeviceInfo, error)
}

type paHost struct{}

func (paHost) Initialize() error                         { return portaudio.Initialize() }
func (paHost) Terminate() error                          { return portaudio.Terminate() }
func (paHost) Devices() ([]*portaudio.DeviceInfo, error) { return portaudio.Devices() }

// PortAudio is the hardware session: one duplex stream whose callback dispatches captured
// mono input to the tap and renders interleaved stereo output from the graph.
//
// PortAudio snapshots the device list at Initialize, so the host is reinitialized
// whenever devices are listed with no stream open. While a stream is open that is not
// possible; a stream whose callback stops firing is taken as its devices being gone.
type PortAudio struct {
	tap      *Tap
	excluded []string
	host     host

	callbacks atomic.Uint64

	mu          sync.Mutex
	initialized bool
	session     route.Session
	stream      *portaudio.Stream
	started     bool
	lastSeen    uint64 // callbacks at the previous poll of a started stream
	primed      bool
	renderer    graph.Renderer
	input       string
	output      string
}

// NewPortAudio creates an uninitialized session; call Init before use.
func NewPortAudio(tap *Tap, excludedDevices []string) *PortAudio {
	return &PortAudio{
		tap:      tap,
		excluded: excludedDevices,
		host:     paHost{},
		session:  route.Session{Options: route.OptionsFor(route.Bottom), Microphone: route.Bottom},
	}
}

// Init initializes the PortAudio host.
func (p *PortAudio) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}
	if err := p.host.Initialize(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "initialize portaudio")
	}
	p.initialized = true
	return nil
}

// Close stops the stream and releases the host.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeStreamLocked()
	if !p.initialized {
		return nil
	}
	p.initialized = false
	return p.host.Terminate()
}

// Devices implements route.DeviceLister.
func (p *PortAudio) Devices() ([]route.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil, apperrors.New(apperrors.CodeUnavailable, "portaudio not initialized")
	}
	infos, err := p.listLocked()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	devices := toDevices(infos)
	if p.stalledLocked() {
		slog.Warn("audio stream stalled, treating its devices as gone", "input", p.input, "output", p.output)
		devices = slices.DeleteFunc(devices, func(d route.Device) bool {
			return d.Name == p.input || d.Name == p.output
		})
	}
	return devices, nil
}

// listLocked enumerates devices, reinitializing the host first when no stream is open.
func (p *PortAudio) listLocked() ([]*portaudio.DeviceInfo, error) {
	if p.stream == nil {
		if err := p.host.Terminate(); err != nil {
			return nil, err
		}
		if err := p.host.Initialize(); err != nil {
			p.initialized = false
			return nil, apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "reinitialize portaudio")
		}
	}
	return p.host.Devices()
}

func toDevices(infos []*portaudio.DeviceInfo) []route.Device {
	out := make([]route.Device, 0, len(infos))
	for _, d := range infos {
		out = append(out, route.Device{Name: d.Name, MaxInputChannels: d.MaxInputChannels, MaxOutputChannels: d.MaxOutputChannels})
	}
	return out
}

// stalledLocked reports whether a started stream made no callbacks since the last poll.
// The first poll after Start only records the count.
func (p *PortAudio) stalledLocked() bool {
	if p.stream == nil || !p.started {
		return false
	}
	n := p.callbacks.Load()
	stalled := p.primed && n == p.lastSeen
	p.lastSeen, p.primed = n, true
	return stalled
}

// ApplySession records the category, microphone and port for the next Open and closes the
// current stream, which was opened with the old routing.
func (p *PortAudio) ApplySession(s route.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
	p.closeStreamLocked()
	slog.Info("audio session configured", "options", s.Options, "microphone", s.Microphone, "port", s.Port)
}

// Session returns the session options last applied.
func (p *PortAudio) Session() route.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Route describes the devices the open stream uses.
func (p *PortAudio) Route() (input, output string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.input, p.output
}

// Open implements graph.Device.
func (p *PortAudio) Open(sampleRate float64, framesPerBuffer int, r graph.Renderer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return apperrors.New(apperrors.CodeHardwareStartFailure, "portaudio not initialized")
	}
	p.closeStreamLocked()

	infos, err := p.listLocked()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "list devices")
	}
	devices := toDevices(infos)
	byName := make(map[string]*portaudio.DeviceInfo, len(infos))
	for _, d := range infos {
		byName[d.Name] = d
	}

	in, err := portaudio.DefaultInputDevice()
	if sel, ok := SelectInput(devices, p.session, p.excluded); ok {
		in, err = byName[sel.Name], nil
	}
	if err != nil || in == nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "no input device")
	}
	out, err := portaudio.DefaultOutputDevice()
	if sel, ok := SelectOutput(devices, p.session, p.excluded); ok {
		out, err = byName[sel.Name], nil
	}
	if err != nil || out == nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "no output device")
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   in,
			Channels: 1,
			Latency:  in.DefaultLowInputLatency,
		},
		Output: portaudio.StreamDeviceParameters{
			Device:   out,
			Channels: 2,
			Latency:  out.DefaultLowOutputLatency,
		},
		SampleRate:      sampleRate,
		FramesPerBuffer: framesPerBuffer,
	}

	p.renderer = r
	stream, err := portaudio.OpenStream(params, p.process)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "open stream").
			WithMetadata("input", in.Name).
			WithMetadata("output", out.Name)
	}
	p.stream, p.input, p.output = stream, in.Name, out.Name
	slog.Info("audio session opened", "input", in.Name, "output", out.Name, "sample_rate", sampleRate, "frames", framesPerBuffer)
	return nil
}

// Start implements graph.Device.
func (p *PortAudio) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return apperrors.New(apperrors.CodeHardwareStartFailure, "stream not open")
	}
	if err := p.stream.Start(); err != nil {
		return apperrors.Wrap(err, apperrors.CodeHardwareStartFailure, "start stream")
	}
	p.started, p.primed = true, false
	return nil
}

// Stop implements graph.Device.
func (p *PortAudio) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	p.started = false
	return p.stream.Stop()
}

func (p *PortAudio) closeStreamLocked() {
	if p.stream == nil {
		return
	}
	_ = p.stream.Stop()
	_ = p.stream.Close()
	p.stream, p.started = nil, false
	p.input, p.output = "", ""
}

// process is the PortAudio callback. Audio thread.
func (p *PortAudio) process(in, out []float32) {
	p.callbacks.Add(1)
	p.tap.Dispatch(InputBus, in)
	p.renderer.Render(out)
}
