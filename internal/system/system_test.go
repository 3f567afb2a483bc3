package system

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/hearing-assist/internal/audio"
	"github.com/GriffinCanCode/hearing-assist/internal/config"
	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/graph"
	"github.com/GriffinCanCode/hearing-assist/internal/health"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/recognition"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
)

type fakeHardware struct {
	mu       sync.Mutex
	renderer graph.Renderer
	starts   int
	stops    int
	sessions []route.Session
}

func (h *fakeHardware) Open(_ float64, _ int, r graph.Renderer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.renderer = r
	return nil
}

func (h *fakeHardware) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts++
	return nil
}

func (h *fakeHardware) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops++
	return nil
}

// render pulls one buffer through the graph the way the device callback does.
func (h *harness) render(out []float32) {
	h.hw.mu.Lock()
	r := h.hw.renderer
	h.hw.mu.Unlock()
	if r != nil {
		r.Render(out)
	}
}

func (h *fakeHardware) Devices() ([]route.Device, error) {
	return []route.Device{{Name: "Built-in Microphone", MaxInputChannels: 1}, {Name: "Built-in Output", MaxOutputChannels: 2}}, nil
}

func (h *fakeHardware) ApplySession(s route.Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions = append(h.sessions, s)
}

func (h *fakeHardware) Route() (string, string) { return "Built-in Microphone", "Built-in Output" }

func (h *fakeHardware) startCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starts
}

type harness struct {
	sys      *AudioSystem
	hw       *fakeHardware
	rec      *recognition.Fake
	tap      *audio.Tap
	settings string
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.SettingsPath = filepath.Join(t.TempDir(), "settings.yaml")
	cfg.Audio.SettleDelayMS = 10
	cfg.Audio.AmplitudeIntervalMS = 5
	cfg.Audio.RoutePollMS = 1000
	return cfg
}

func start(t *testing.T, cfg config.Config, settings config.Settings, cb Callbacks) *harness {
	t.Helper()
	h := &harness{hw: &fakeHardware{}, rec: recognition.NewFake(), tap: audio.NewTap(), settings: cfg.SettingsPath}
	sys, err := New(cfg, settings, Deps{Tap: h.tap, Hardware: h.hw, Recognizer: h.rec}, cb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.sys = sys

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Run did not return")
		}
	})
	return h
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.sys.State(context.Background())
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return st
}

func TestNewRequiresHardware(t *testing.T) {
	_, err := New(config.Default(), config.DefaultSettings(), Deps{Recognizer: recognition.NewFake()}, Callbacks{})
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("New without hardware = %v, want invalid argument", err)
	}
}

func TestRunRestoresSavedMode(t *testing.T) {
	initialized := make(chan struct{}, 1)
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{
		OnEngineInitialized: func() { initialized <- struct{}{} },
	})

	select {
	case <-initialized:
	case <-time.After(2 * time.Second):
		t.Fatal("engine never initialized")
	}
	eventually(t, "hearing aid running", func() bool {
		st := h.state(t)
		return st.Running && st.Mode == mode.HearingAid.String()
	})
	if !h.tap.Installed(audio.InputBus) {
		t.Error("tap not installed while running")
	}
	if h.hw.startCount() == 0 {
		t.Error("hardware never started")
	}
	st := h.state(t)
	if !st.Initialized || st.InputDevice != "Built-in Microphone" {
		t.Errorf("state = %+v", st)
	}
	if got := h.sys.Health()[health.ServiceAudio]; !got {
		t.Error("audio health = false, want true")
	}
}

func TestRunClosesEventsOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	sys, err := New(cfg, config.DefaultSettings(), Deps{Tap: audio.NewTap(), Hardware: &fakeHardware{}, Recognizer: recognition.NewFake()}, Callbacks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sys.Run(ctx) }()
	eventually(t, "initialized", func() bool { return sys.initialized.Load() })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}

	timeout := time.After(2 * time.Second)
	for closed := false; !closed; {
		select {
		case _, ok := <-sys.Events():
			closed = !ok
		case <-timeout:
			t.Fatal("event channel still open after Run returned")
		}
	}

	e, _ := sys.transcripts.Save(context.Background(), "late")
	if err := sys.DeleteTranscript(context.Background(), e.ID); err != nil {
		t.Errorf("DeleteTranscript after shutdown = %v", err)
	}
}

func TestSetVolume(t *testing.T) {
	var mu sync.Mutex
	var reported []float64
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{
		OnVolumeChanged: func(v float64) {
			mu.Lock()
			reported = append(reported, v)
			mu.Unlock()
		},
	})
	ctx := context.Background()

	tests := []struct {
		in   float64
		want float64
	}{
		{50, 50},
		{150, 100},
		{-5, 0},
	}
	for _, tt := range tests {
		got, err := h.sys.SetVolume(ctx, tt.in)
		if err != nil {
			t.Fatalf("SetVolume(%v): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("SetVolume(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	st := h.state(t)
	if st.Volume != 0 || st.EngineGain != graph.EngineGain(0) {
		t.Errorf("volume = %v gain = %v", st.Volume, st.EngineGain)
	}
	mu.Lock()
	if len(reported) != 3 || reported[1] != 100 {
		t.Errorf("reported = %v", reported)
	}
	mu.Unlock()

	saved, err := config.LoadSettings(h.settings)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if saved.Volume != 0 {
		t.Errorf("saved volume = %v, want 0", saved.Volume)
	}
}

func TestSetVolumeRejectsNaN(t *testing.T) {
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{})
	if _, err := h.sys.SetVolume(context.Background(), math.NaN()); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("SetVolume(NaN) = %v, want invalid argument", err)
	}
}

func TestNodeAndParameterPersist(t *testing.T) {
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{})
	ctx := context.Background()

	if err := h.sys.SetNodeEnabled(ctx, "compressor", false); err != nil {
		t.Fatalf("SetNodeEnabled: %v", err)
	}
	if err := h.sys.SetNodeEnabled(ctx, "mixer", false); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("SetNodeEnabled(mixer) = %v, want invalid argument", err)
	}
	if err := h.sys.SetNodeEnabled(ctx, "nope", false); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("SetNodeEnabled(unknown) = %v, want not found", err)
	}
	if _, err := h.sys.SetBand(ctx, 99, 3); err == nil {
		t.Error("SetBand(99) succeeded")
	}
	if _, err := h.sys.SetBand(ctx, 0, 4); err != nil {
		t.Fatalf("SetBand: %v", err)
	}

	saved, err := config.LoadSettings(h.settings)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if len(saved.DisabledNodes) != 1 || saved.DisabledNodes[0] != "compressor" {
		t.Errorf("disabled nodes = %v", saved.DisabledNodes)
	}
	if len(saved.EqualizerGains) == 0 || saved.EqualizerGains[0] != 4 {
		t.Errorf("equalizer gains = %v", saved.EqualizerGains)
	}
}

func TestRecognizeFeedsDictation(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Mode = mode.Recognize.String()
	var mu sync.Mutex
	var texts []string
	h := start(t, testConfig(t), settings, Callbacks{
		OnRecognitionText: func(s string) {
			mu.Lock()
			texts = append(texts, s)
			mu.Unlock()
		},
	})

	eventually(t, "recognition session", func() bool { return h.rec.Last() != nil })
	sess := h.rec.Last()
	eventually(t, "audio reaching recognizer", func() bool {
		h.tap.Dispatch(audio.InputBus, make([]float32, 256))
		return sess.Fed() > 0
	})

	sess.Partial("hello there")
	eventually(t, "display text", func() bool { return h.state(t).Text == "hello there" })

	st := h.state(t)
	if !st.Listening || st.Mode != mode.Recognize.String() {
		t.Errorf("state = %+v", st)
	}
	mu.Lock()
	if len(texts) == 0 || texts[len(texts)-1] != "hello there" {
		t.Errorf("texts = %q", texts)
	}
	mu.Unlock()

	entry, err := h.sys.SaveTranscript(context.Background())
	if err != nil {
		t.Fatalf("SaveTranscript: %v", err)
	}
	if entry.Title != "hello there" {
		t.Errorf("title = %q", entry.Title)
	}
	list, err := h.sys.ListTranscripts(context.Background(), 0)
	if err != nil || len(list) != 1 {
		t.Errorf("ListTranscripts = %v, %v", list, err)
	}

	if err := h.sys.StopRecognition(context.Background()); err != nil {
		t.Fatalf("StopRecognition: %v", err)
	}
	st = h.state(t)
	if st.Running || st.Listening {
		t.Errorf("after stop: running=%v listening=%v", st.Running, st.Listening)
	}
	if h.tap.Installed(audio.InputBus) {
		t.Error("tap still installed after stop")
	}
}

func TestRecognizeReportsAmplitudeWhileMuted(t *testing.T) {
	settings := config.DefaultSettings()
	settings.Mode = mode.Recognize.String()
	var mu sync.Mutex
	var loudest float32
	h := start(t, testConfig(t), settings, Callbacks{
		OnAmplitude: func(p float32) {
			mu.Lock()
			loudest = max(loudest, p)
			mu.Unlock()
		},
	})
	eventually(t, "recognition session", func() bool { return h.rec.Last() != nil })

	in := make([]float32, 256)
	for i := range in {
		in[i] = 0.5 * float32(math.Sin(2*math.Pi*1000*float64(i)/48000))
	}
	out := make([]float32, 2*len(in))
	eventually(t, "amplitude above zero", func() bool {
		h.tap.Dispatch(audio.InputBus, in)
		h.render(out)
		mu.Lock()
		defer mu.Unlock()
		return loudest > 0
	})
	if !h.sys.graph.Muted() {
		t.Error("output unmuted in recognize mode")
	}
}

func TestDeleteTranscriptEmitsEvent(t *testing.T) {
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{})
	ctx := context.Background()

	e, err := h.sys.transcripts.Save(ctx, "pick up milk")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := h.sys.DeleteTranscript(ctx, "missing"); !apperrors.IsCode(err, apperrors.CodeNotFound) {
		t.Errorf("DeleteTranscript(missing) = %v, want not found", err)
	}
	if err := h.sys.DeleteTranscript(ctx, e.ID); err != nil {
		t.Fatalf("DeleteTranscript: %v", err)
	}

	var deleted []string
	eventually(t, "transcript_deleted event", func() bool {
		for {
			select {
			case evt := <-h.sys.Events():
				if evt.Type == EventTranscriptDeleted {
					deleted = append(deleted, evt.Data.(map[string]string)["id"])
				}
			default:
				return len(deleted) > 0
			}
		}
	})
	if len(deleted) != 1 || deleted[0] != e.ID {
		t.Errorf("deleted events = %v, want [%s]", deleted, e.ID)
	}
}

func TestSpeechDeniedBlocksRecognition(t *testing.T) {
	cfg := testConfig(t)
	cfg.Permissions.Speech = false
	h := start(t, cfg, config.DefaultSettings(), Callbacks{})
	eventually(t, "permissions", func() bool {
		return h.state(t).Permissions["speech"] == "denied"
	})

	err := h.sys.StartRecognition(context.Background(), true)
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Errorf("StartRecognition = %v, want permission denied", err)
	}
	if st := h.state(t); st.Running {
		t.Error("running without speech permission")
	}
	if h.sys.Health()[health.ServiceRecognition] {
		t.Error("recognition health = true, want false")
	}
}

func TestSelectMicrophone(t *testing.T) {
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{})
	ctx := context.Background()

	if err := h.sys.SelectMicrophone(ctx, "sideways"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("SelectMicrophone(bad) = %v, want invalid argument", err)
	}
	if err := h.sys.SelectMicrophone(ctx, "headphones"); !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("SelectMicrophone(headphones) = %v, want unavailable", err)
	}
	if err := h.sys.SelectMicrophone(ctx, "front"); err != nil {
		t.Fatalf("SelectMicrophone(front): %v", err)
	}
	if st := h.state(t); st.Microphone != route.Front.String() {
		t.Errorf("microphone = %q, want front", st.Microphone)
	}
}

func TestTranslationNotConfigured(t *testing.T) {
	h := start(t, testConfig(t), config.DefaultSettings(), Callbacks{})
	ctx := context.Background()
	if err := h.sys.SetTranslationTarget(ctx, "de"); !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("SetTranslationTarget = %v, want unavailable", err)
	}
	if _, err := h.sys.Translate(ctx, "hi", "de"); !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("Translate = %v, want unavailable", err)
	}
	if h.sys.Health()[health.ServiceTranslation] {
		t.Error("translation health = true without a translator")
	}
}
