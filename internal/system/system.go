// Package system wires the audio daemon together. AudioSystem is built once in main and owns
// every component; all state changes run on its control loop.
package system

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/audio"
	"github.com/GriffinCanCode/hearing-assist/internal/config"
	"github.com/GriffinCanCode/hearing-assist/internal/dictation"
	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/graph"
	"github.com/GriffinCanCode/hearing-assist/internal/health"
	"github.com/GriffinCanCode/hearing-assist/internal/metrics"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/param"
	"github.com/GriffinCanCode/hearing-assist/internal/permission"
	"github.com/GriffinCanCode/hearing-assist/internal/recognition"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
	"github.com/GriffinCanCode/hearing-assist/internal/scheduler"
	"github.com/GriffinCanCode/hearing-assist/internal/trace"
	"github.com/GriffinCanCode/hearing-assist/internal/transcript"
	"github.com/GriffinCanCode/hearing-assist/internal/translate"
)

// Hardware is the host audio session.
type Hardware interface {
	graph.Device
	route.DeviceLister
	ApplySession(s route.Session)
	Route() (input, output string)
}

// Deps are the collaborators AudioSystem drives. Nil Translator disables translation and
// nil Transcripts selects an in-memory store.
type Deps struct {
	Tap         *audio.Tap
	Hardware    Hardware
	Recognizer  recognition.Engine
	Translator  translate.Engine
	Transcripts transcript.Store
	Authorizer  permission.Authorizer
	Metrics     *metrics.Metrics
}

// Callbacks observe the system. Amplitude runs on the metering goroutine, translations
// on the translation worker, everything else on the control loop.
type Callbacks struct {
	OnVolumeChanged     func(volume float64)
	OnAmplitude         func(peak float32)
	OnEngineInitialized func()
	OnRecognitionText   func(text string)
	OnRecognitionError  func(err error)
	OnRouteChanged      func(state route.State)
	OnTranslation       func(text string)
	OnModeChanged       func(m mode.Mode, running bool)
}

// Event is a notification for remote observers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// AudioSystem owns the audio path and its control state.
type AudioSystem struct {
	cfg config.Config
	cb  Callbacks

	loop        *scheduler.Loop
	params      *param.Store
	graph       *graph.Graph
	tap         *audio.Tap
	hw          Hardware
	queue       *audio.ChunkQueue
	bus         *route.Bus
	monitor     *route.Monitor
	ctrl        *mode.Controller
	dict        *dictation.Accumulator
	translator  translate.Engine
	batcher     *translate.Batcher
	transcripts transcript.Store
	gate        *permission.Gate
	recorder    *audio.Recorder
	metrics     *metrics.Metrics

	// control loop only
	settings config.Settings
	lastMode mode.Mode

	initialized atomic.Bool
	closeOnce   sync.Once

	eventsMu     sync.RWMutex
	events       chan Event
	eventsClosed bool
}

// New builds the system from cfg and the persisted settings. Nothing touches hardware until Run.
func New(cfg config.Config, settings config.Settings, deps Deps, cb Callbacks) (*AudioSystem, error) {
	if deps.Hardware == nil || deps.Recognizer == nil {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "audio system needs hardware and a recognizer")
	}
	if deps.Tap == nil {
		deps.Tap = audio.NewTap()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Transcripts == nil {
		deps.Transcripts = transcript.NewStore(cfg.Transcripts.MaxEntries)
	}
	if deps.Authorizer == nil {
		deps.Authorizer = permission.Static{Microphone: cfg.Permissions.Microphone, Speech: cfg.Permissions.Speech}
	}

	s := &AudioSystem{
		cfg:         cfg,
		cb:          cb,
		loop:        scheduler.NewLoop(),
		params:      param.NewStore(),
		tap:         deps.Tap,
		hw:          deps.Hardware,
		queue:       audio.NewChunkQueue(cfg.Audio.QueueDepth, cfg.Audio.FramesPerBuffer),
		bus:         route.NewBus(),
		translator:  deps.Translator,
		transcripts: deps.Transcripts,
		gate:        permission.NewGate(deps.Authorizer),
		metrics:     deps.Metrics,
		settings:    settings,
		events:      make(chan Event, EventBuffer),
	}

	s.graph = graph.New(graph.Config{
		SampleRate:      float64(cfg.Audio.SampleRate),
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		RampMS:          float64(cfg.Audio.RampMS),
	}, s.params, deps.Hardware)
	s.monitor = route.NewMonitor(deps.Hardware, s.bus, cfg.Audio.RoutePollInterval())

	s.dict = dictation.New(deps.Recognizer, s.loop, dictation.Options{
		Language:           cfg.Recognition.Language,
		SampleRate:         cfg.Audio.SampleRate,
		StripDeletedPrefix: cfg.Recognition.StripDeletedPrefix,
	}, dictation.Callbacks{
		OnText:      s.onRecognitionText,
		OnFinal:     s.onFinal,
		OnError:     s.onRecognitionError,
		OnListening: s.onListening,
	})

	mic, err := route.ParseMicrophone(settings.Microphone)
	if err != nil {
		slog.Warn("ignoring saved microphone", "error", err)
	}
	port, err := route.ParseOutputPort(settings.OutputPort)
	if err != nil {
		slog.Warn("ignoring saved output port", "error", err)
	}
	s.ctrl = mode.NewController((*audioEngine)(s), s.loop, mode.Options{
		SettleDelay:    cfg.Audio.SettleDelay(),
		Microphone:     mic,
		Port:           port,
		Permit:         s.permit,
		OnModeChanged:  s.onModeChanged,
		OnRouteChanged: s.onRouteChanged,
		OnStartFailed:  s.onStartFailed,
		StartRetry:     resilience.HardwareRetry(),
	})

	if cfg.Audio.RecordPath != "" {
		rec, err := audio.NewRecorder(cfg.Audio.RecordPath, cfg.Audio.SampleRate, cfg.Audio.FramesPerBuffer, cfg.Audio.QueueDepth)
		if err != nil {
			return nil, err
		}
		s.recorder = rec
		s.graph.SetSink(rec.Sink())
		s.metrics.WatchDropped("recorder_dropped_blocks_total", "Processed blocks the WAV recorder dropped", rec.Dropped)
	}

	if s.translator != nil {
		target := settings.TranslateTo
		if target == "" {
			target = cfg.Translation.Target
		}
		s.batcher = translate.NewBatcher(s.translator, cfg.Translation.Source, target, 0, 0, s.onTranslated)
	}
	s.metrics.WatchDropped("recognition_dropped_chunks_total", "Captured buffers dropped before recognition", s.queue.Dropped)
	trace.SetRecorder(s.metrics.ObserveOperation)
	s.metrics.TrackBreaker(s.dict.Breaker())
	for _, dep := range []any{deps.Recognizer, s.translator} {
		if b, ok := dep.(interface{ Breaker() *resilience.Breaker }); ok {
			s.metrics.TrackBreaker(b.Breaker())
		}
	}

	s.bus.Subscribe(s.ctrl)
	s.bus.Subscribe(route.ObserverFunc(func(e route.Event) {
		s.metrics.RecordRouteChange(e.Reason.String())
	}))
	return s, nil
}

// Run starts the control loop and the background workers, initializes the engine and
// restores the saved mode. It blocks until ctx is done and then shuts the audio path down.
func (s *AudioSystem) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	spawn(func() { s.loop.Run(ctx) })
	spawn(func() { s.queue.Run(ctx, s.dict.Feed) })
	spawn(func() { s.meter(ctx) })
	if s.recorder != nil {
		spawn(func() {
			if err := s.recorder.Run(ctx); err != nil {
				slog.Warn("recorder stopped", "error", err)
			}
		})
	}

	if _, err := s.monitor.Poll(); err != nil {
		slog.Warn("initial route poll failed", "error", err)
	}
	spawn(func() { s.monitor.Run(ctx) })

	if err := s.loop.Call(ctx, s.initialize); err != nil {
		wg.Wait()
		s.shutdown()
		return err
	}

	mic := <-s.gate.Request(ctx, permission.Microphone)
	speech := <-s.gate.Request(ctx, permission.Speech)
	slog.Info("permissions resolved", "microphone", mic, "speech", speech)
	if err := s.loop.Call(ctx, s.restoreMode); err != nil && ctx.Err() == nil {
		slog.Warn("restore mode failed", "error", err)
	}

	<-ctx.Done()
	wg.Wait()
	s.shutdown()
	return nil
}

// initialize applies the saved settings and opens the hardware session. Control loop.
func (s *AudioSystem) initialize() {
	ctx, span := trace.StartSpan(context.Background(), "system.initialize")
	defer span.End()

	s.applySettings()
	s.graph.Mute(true)
	s.ctrl.SetHeadphonesConnected(s.monitor.HeadphonesConnected())
	if err := (*audioEngine)(s).ApplySession(s.ctrl.Session()); err != nil {
		trace.Logger(ctx).Warn("apply audio session failed", "error", err)
	}
	s.graph.Configure()

	s.initialized.Store(true)
	trace.Logger(ctx).Info("audio engine initialized", "session_ready", s.graph.SessionReady(), "mode", s.settings.Mode)
	if s.cb.OnEngineInitialized != nil {
		s.cb.OnEngineInitialized()
	}
	s.emit(EventEngineInitialized, nil)
}

// restoreMode switches to the saved mode and starts it. Control loop.
func (s *AudioSystem) restoreMode() {
	m, err := mode.Parse(s.settings.Mode)
	if err != nil || m == mode.Idle {
		return
	}
	ctx := context.Background()
	s.ctrl.SwitchMode(ctx, m)
	if err := s.ctrl.SetRunning(ctx, true); err != nil {
		slog.Warn("saved mode did not start", "mode", m, "error", err)
	}
}

func (s *AudioSystem) applySettings() {
	st := s.settings
	s.graph.SetVolume(st.Volume)
	s.graph.SetBalance(st.Balance)
	s.graph.SetNoiseSuppression(st.NoiseSuppression)
	if len(st.EqualizerGains) > 0 {
		for i, g := range st.EqualizerGains {
			if _, err := s.graph.SetBand(i, g); err != nil {
				slog.Warn("ignoring saved equalizer band", "band", i, "error", err)
			}
		}
	} else {
		s.graph.ResetEqualizer()
	}
	for id, v := range st.Parameters {
		if _, err := s.params.Set(param.ID(id), v); err != nil {
			slog.Warn("ignoring saved parameter", "id", id, "error", err)
		}
	}
	for _, id := range st.DisabledNodes {
		if err := s.graph.SetEnabled(graph.NodeID(id), false); err != nil {
			slog.Warn("ignoring saved node state", "node", id, "error", err)
		}
	}
}

// meter reports output amplitude while the engine runs.
func (s *AudioSystem) meter(ctx context.Context) {
	t := time.NewTicker(s.cfg.Audio.AmplitudeInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !s.graph.IsRunning() {
				continue
			}
			peak := s.graph.Peak()
			s.metrics.OutputPeak.Set(float64(peak))
			if s.cb.OnAmplitude != nil {
				s.cb.OnAmplitude(peak)
			}
			s.emit(EventAmplitude, peak)
		}
	}
}

// shutdown runs after the loop has exited, so it may touch loop-owned state directly.
func (s *AudioSystem) shutdown() {
	s.closeOnce.Do(func() {
		(*audioEngine)(s).Stop()
		if s.batcher != nil {
			s.batcher.Stop()
		}
		if s.recorder != nil {
			if err := s.recorder.Close(); err != nil {
				slog.Warn("close recorder", "error", err)
			}
		}
		s.saveSettings()
		s.closeEvents()
		slog.Info("audio system stopped")
	})
}

// Events returns the notification stream. Events are dropped when nobody keeps up. The
// channel is closed when Run returns.
func (s *AudioSystem) Events() <-chan Event { return s.events }

// emit may be called from any goroutine, including request handlers racing shutdown.
func (s *AudioSystem) emit(typ string, data any) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.eventsClosed {
		return
	}
	select {
	case s.events <- Event{Type: typ, Data: data}:
	default:
		if typ != EventAmplitude {
			slog.Debug("event channel full", "type", typ)
		}
	}
}

func (s *AudioSystem) closeEvents() {
	s.eventsMu.Lock()
	defer s.eventsMu.Unlock()
	if !s.eventsClosed {
		s.eventsClosed = true
		close(s.events)
	}
}

// Health reports readiness per health service. Safe from any goroutine.
func (s *AudioSystem) Health() map[string]bool {
	return map[string]bool{
		health.ServiceAudio:       s.initialized.Load() && s.graph.SessionReady(),
		health.ServiceRecognition: s.gate.Granted(permission.Microphone, permission.Speech),
		health.ServiceTranslation: s.translator != nil && s.translator.Ready(),
	}
}

// Metrics exposes the collectors for the HTTP server.
func (s *AudioSystem) Metrics() *metrics.Metrics { return s.metrics }

// RequestMicrophonePermission asks for microphone access. The channel receives one value.
func (s *AudioSystem) RequestMicrophonePermission(ctx context.Context) <-chan bool {
	return s.gate.Request(ctx, permission.Microphone)
}

func (s *AudioSystem) permit(m mode.Mode) bool {
	switch m {
	case mode.Recognize:
		return s.gate.Granted(permission.Microphone, permission.Speech)
	default:
		return s.gate.Granted(permission.Microphone)
	}
}

func (s *AudioSystem) saveSettings() {
	if s.cfg.SettingsPath == "" {
		return
	}
	if err := config.SaveSettings(s.cfg.SettingsPath, s.settings); err != nil {
		slog.Warn("save settings failed", "error", err)
	}
}
