package system

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/graph"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/param"
	"github.com/GriffinCanCode/hearing-assist/internal/permission"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
	"github.com/GriffinCanCode/hearing-assist/internal/scheduler"
	"github.com/GriffinCanCode/hearing-assist/internal/transcript"
	"github.com/GriffinCanCode/hearing-assist/internal/translate"
)

// State is a snapshot of everything the control API shows.
type State struct {
	Initialized      bool              `json:"initialized"`
	Mode             string            `json:"mode"`
	Running          bool              `json:"running"`
	RestartPending   bool              `json:"restart_pending"`
	Microphone       string            `json:"microphone"`
	OutputPort       string            `json:"output_port"`
	Headphones       bool              `json:"headphones"`
	InputDevice      string            `json:"input_device,omitempty"`
	OutputDevice     string            `json:"output_device,omitempty"`
	Volume           float64           `json:"volume"`
	EngineGain       float64           `json:"engine_gain"`
	Balance          float64           `json:"balance"`
	NoiseSuppression bool              `json:"noise_suppression"`
	Bands            []graph.Band      `json:"bands"`
	Nodes            []graph.NodeInfo  `json:"nodes"`
	Listening        bool              `json:"listening"`
	Continuous       bool              `json:"continuous"`
	Text             string            `json:"text"`
	Transcript       string            `json:"transcript"`
	TranslateTo      string            `json:"translate_to,omitempty"`
	Permissions      map[string]string `json:"permissions"`
}

// call runs fn on the control loop and returns its error.
func (s *AudioSystem) call(ctx context.Context, fn func() error) error {
	var err error
	if cerr := s.loop.Call(ctx, func() { err = fn() }); cerr != nil {
		return loopError(cerr)
	}
	return err
}

func loopError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(err, apperrors.CodeTimeout, "control loop busy")
	}
	return apperrors.Wrap(err, apperrors.CodeCancelled, "control loop stopped")
}

// State returns a consistent snapshot.
func (s *AudioSystem) State(ctx context.Context) (State, error) {
	st, err := scheduler.Do(ctx, s.loop, s.snapshot)
	if err != nil {
		return State{}, loopError(err)
	}
	return st, nil
}

func (s *AudioSystem) snapshot() State {
	status := s.ctrl.Status()
	in, out := s.hw.Route()
	noise, _, _ := s.graph.NoiseSuppression()
	st := State{
		Initialized:      s.initialized.Load(),
		Mode:             status.Mode.String(),
		Running:          status.Running,
		RestartPending:   status.RestartPending,
		Microphone:       status.Microphone.String(),
		OutputPort:       status.Port.String(),
		Headphones:       status.Headphones,
		InputDevice:      in,
		OutputDevice:     out,
		Volume:           s.graph.Volume(),
		EngineGain:       s.graph.EngineGain(),
		Balance:          s.graph.Balance(),
		NoiseSuppression: noise,
		Bands:            s.graph.Bands(),
		Nodes:            s.graph.Nodes(),
		Listening:        s.dict.Listening(),
		Continuous:       s.settings.Continuous,
		Text:             s.dict.Text(),
		Transcript:       s.dict.Transcript(),
		Permissions: map[string]string{
			permission.Microphone.String(): s.gate.Status(permission.Microphone).String(),
			permission.Speech.String():     s.gate.Status(permission.Speech).String(),
		},
	}
	if s.batcher != nil {
		st.TranslateTo = s.batcher.Target()
	}
	return st
}

// SwitchMode moves the audio path to m, keeping it running if it was.
func (s *AudioSystem) SwitchMode(ctx context.Context, m mode.Mode) error {
	return s.call(ctx, func() error {
		s.ctrl.SwitchMode(ctx, m)
		return nil
	})
}

// SetRunning starts or stops the engine in the current mode.
func (s *AudioSystem) SetRunning(ctx context.Context, on bool) error {
	return s.call(ctx, func() error { return s.ctrl.SetRunning(ctx, on) })
}

// SetVolume sets the UI volume percent and returns the stored value.
func (s *AudioSystem) SetVolume(ctx context.Context, volume float64) (float64, error) {
	if math.IsNaN(volume) {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "volume is NaN")
	}
	var applied float64
	err := s.call(ctx, func() error {
		s.graph.SetVolume(volume)
		applied = s.graph.Volume()
		s.settings.Volume = applied
		s.saveSettings()
		if s.cb.OnVolumeChanged != nil {
			s.cb.OnVolumeChanged(applied)
		}
		s.emit(EventVolumeChanged, applied)
		return nil
	})
	return applied, err
}

// SetBalance sets the left/right balance in [-1, 1].
func (s *AudioSystem) SetBalance(ctx context.Context, balance float64) (float64, error) {
	if math.IsNaN(balance) {
		return 0, apperrors.New(apperrors.CodeInvalidArgument, "balance is NaN")
	}
	var applied float64
	err := s.call(ctx, func() error {
		applied = s.graph.SetBalance(balance)
		s.settings.Balance = applied
		s.saveSettings()
		return nil
	})
	return applied, err
}

// SetNoiseSuppression toggles the speech-band filter pair.
func (s *AudioSystem) SetNoiseSuppression(ctx context.Context, on bool) error {
	return s.call(ctx, func() error {
		s.graph.SetNoiseSuppression(on)
		s.settings.NoiseSuppression = on
		s.saveSettings()
		return nil
	})
}

// SetBand sets one equalizer band and returns the stored gain.
func (s *AudioSystem) SetBand(ctx context.Context, index int, gainDB float64) (float64, error) {
	var applied float64
	err := s.call(ctx, func() error {
		v, err := s.graph.SetBand(index, gainDB)
		if err != nil {
			return err
		}
		applied = v
		bands := s.graph.Bands()
		gains := make([]float64, len(bands))
		for i, b := range bands {
			gains[i] = b.GainDB
		}
		s.settings.EqualizerGains = gains
		s.saveSettings()
		return nil
	})
	return applied, err
}

// ResetEqualizer restores the default curve.
func (s *AudioSystem) ResetEqualizer(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.graph.ResetEqualizer()
		s.settings.EqualizerGains = nil
		s.saveSettings()
		return nil
	})
}

// SetNodeEnabled bypasses or reinstates a node.
func (s *AudioSystem) SetNodeEnabled(ctx context.Context, node string, on bool) error {
	return s.call(ctx, func() error {
		if err := s.graph.SetEnabled(graph.NodeID(node), on); err != nil {
			return err
		}
		s.settings.DisabledNodes = s.disabledNodes()
		s.saveSettings()
		return nil
	})
}

// SetParameter writes a node parameter and returns the clamped value.
func (s *AudioSystem) SetParameter(ctx context.Context, node, name string, v float64) (float64, error) {
	var applied float64
	err := s.call(ctx, func() error {
		got, err := s.graph.SetParameter(graph.NodeID(node), name, v)
		if err != nil {
			return err
		}
		applied = got
		if s.settings.Parameters == nil {
			s.settings.Parameters = make(map[string]float64)
		}
		s.settings.Parameters[string(param.NewID(node, name))] = got
		s.saveSettings()
		return nil
	})
	return applied, err
}

// SelectMicrophone switches the input source by name.
func (s *AudioSystem) SelectMicrophone(ctx context.Context, name string) error {
	mic, err := route.ParseMicrophone(name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "select microphone")
	}
	return s.call(ctx, func() error { return s.ctrl.SelectMicrophone(ctx, mic) })
}

// SetOutputPort overrides the output port by name.
func (s *AudioSystem) SetOutputPort(ctx context.Context, name string) error {
	port, err := route.ParseOutputPort(name)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInvalidArgument, "set output port")
	}
	return s.call(ctx, func() error {
		s.ctrl.SetOutputPort(ctx, port)
		return nil
	})
}

// StartRecognition switches to recognition and starts listening.
func (s *AudioSystem) StartRecognition(ctx context.Context, continuous bool) error {
	return s.call(ctx, func() error {
		if s.settings.Continuous != continuous {
			s.settings.Continuous = continuous
			s.saveSettings()
		}
		if s.ctrl.Mode() != mode.Recognize {
			s.ctrl.SwitchMode(ctx, mode.Recognize)
		}
		if !s.ctrl.Running() {
			return s.ctrl.SetRunning(ctx, true)
		}
		return s.dict.Start(ctx, continuous)
	})
}

// StopRecognition stops listening. Finalized text is kept.
func (s *AudioSystem) StopRecognition(ctx context.Context) error {
	return s.call(ctx, func() error {
		if s.ctrl.Mode() == mode.Recognize {
			return s.ctrl.SetRunning(ctx, false)
		}
		s.dict.Stop()
		return nil
	})
}

// ClearRecognition empties the transcript and the display.
func (s *AudioSystem) ClearRecognition(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.dict.Clear()
		return nil
	})
}

// ClearVisible empties the display but keeps the transcript.
func (s *AudioSystem) ClearVisible(ctx context.Context) error {
	return s.call(ctx, func() error {
		s.dict.ClearVisible()
		return nil
	})
}

// SaveTranscript stores the displayed dictation text.
func (s *AudioSystem) SaveTranscript(ctx context.Context) (transcript.Entry, error) {
	title, err := scheduler.Do(ctx, s.loop, s.dict.Text)
	if err != nil {
		return transcript.Entry{}, loopError(err)
	}
	e, err := s.transcripts.Save(ctx, title)
	if err != nil {
		return transcript.Entry{}, err
	}
	s.emit(EventTranscriptSaved, e)
	return e, nil
}

// ListTranscripts returns saved transcripts, newest first.
func (s *AudioSystem) ListTranscripts(ctx context.Context, limit int) ([]transcript.Entry, error) {
	if limit <= 0 {
		limit = DefaultTranscriptLimit
	}
	return s.transcripts.List(ctx, limit)
}

// DeleteTranscript removes a saved transcript.
func (s *AudioSystem) DeleteTranscript(ctx context.Context, id string) error {
	if err := s.transcripts.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(EventTranscriptDeleted, map[string]string{"id": id})
	return nil
}

// SetTranslationTarget sets the locale finalized segments are translated into. An empty
// locale turns translation off.
func (s *AudioSystem) SetTranslationTarget(ctx context.Context, locale string) error {
	if s.batcher == nil {
		return apperrors.New(apperrors.CodeUnavailable, "translation is not configured")
	}
	locale = strings.TrimSpace(locale)
	if locale != "" {
		tag, err := translate.ParseLocale(locale)
		if err != nil {
			return err
		}
		locale = tag.String()
	}
	return s.call(ctx, func() error {
		s.batcher.SetTarget(locale)
		s.settings.TranslateTo = locale
		s.saveSettings()
		return nil
	})
}

// Translate translates text into target, or into the current target when target is empty.
func (s *AudioSystem) Translate(ctx context.Context, text, target string) (string, error) {
	if s.translator == nil || !s.translator.Ready() {
		return "", apperrors.New(apperrors.CodeUnavailable, "translation is not available")
	}
	if target == "" && s.batcher != nil {
		target = s.batcher.Target()
	}
	if target == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "no target locale")
	}
	start := time.Now()
	out, err := s.translator.Translate(ctx, text, s.cfg.Translation.Source, target)
	s.metrics.RecordTranslation(err == nil, time.Since(start))
	return out, err
}
