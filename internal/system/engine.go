package system

import (
	"context"
	"log/slog"
	"slices"

	"github.com/GriffinCanCode/hearing-assist/internal/audio"
	"github.com/GriffinCanCode/hearing-assist/internal/mode"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
	"github.com/GriffinCanCode/hearing-assist/internal/translate"
)

// audioEngine is the mode.Engine view of the system. Control loop only.
type audioEngine AudioSystem

var _ mode.Engine = (*audioEngine)(nil)

// Start installs the tap for m and brings the device up. In Recognize mode output stays
// muted and a dictation session is opened.
func (e *audioEngine) Start(m mode.Mode) error {
	s := (*AudioSystem)(e)
	ctx := context.Background()

	var tap audio.TapFunc
	switch m {
	case mode.HearingAid:
		s.graph.Mute(false)
		tap = s.graph.Feed
	case mode.Recognize:
		s.graph.Mute(true)
		tap = audio.NewFanOut(s.graph.Feed, s.pushRecognition)
	default:
		return nil
	}
	if err := s.tap.InstallTap(audio.InputBus, tap); err != nil {
		return err
	}

	if err := s.graph.Start(); err != nil {
		e.Stop()
		return err
	}
	if m == mode.Recognize {
		if err := s.dict.Start(ctx, s.settings.Continuous); err != nil {
			e.Stop()
			return err
		}
	}
	return nil
}

// Stop force-stops output: mute, remove the tap, halt the device and end dictation.
func (e *audioEngine) Stop() {
	s := (*AudioSystem)(e)
	s.graph.Mute(true)
	s.tap.RemoveTap(audio.InputBus)
	if err := s.graph.Stop(); err != nil {
		slog.Warn("audio engine stop failed", "error", err)
	}
	s.dict.Stop()
	s.queue.Flush()
}

// ApplySession reconfigures the hardware; the next Start reopens the stream.
func (e *audioEngine) ApplySession(sess route.Session) error {
	s := (*AudioSystem)(e)
	s.hw.ApplySession(sess)
	s.graph.Reopen()
	return nil
}

// pushRecognition copies captured audio towards the recognizer. Audio thread.
func (s *AudioSystem) pushRecognition(samples []float32) {
	s.queue.Push(samples)
}

func (s *AudioSystem) onModeChanged(m mode.Mode, running bool) {
	if m != s.lastMode {
		s.metrics.RecordModeSwitch(m.String())
		s.lastMode = m
	}
	s.metrics.SetMode(m.String(), mode.Idle.String(), mode.HearingAid.String(), mode.Recognize.String())
	s.metrics.SetRunning(running)

	if m != mode.Idle && s.settings.Mode != m.String() {
		s.settings.Mode = m.String()
		s.saveSettings()
	}
	if s.cb.OnModeChanged != nil {
		s.cb.OnModeChanged(m, running)
	}
	s.emit(EventModeChanged, s.ctrl.Status())
}

func (s *AudioSystem) onRouteChanged(st route.State) {
	st.InputDevice, st.OutputDevice = s.hw.Route()
	status := s.ctrl.Status()
	if mic, port := status.Microphone.String(), status.Port.String(); mic != s.settings.Microphone || port != s.settings.OutputPort {
		s.settings.Microphone, s.settings.OutputPort = mic, port
		s.saveSettings()
	}
	if s.cb.OnRouteChanged != nil {
		s.cb.OnRouteChanged(st)
	}
	s.emit(EventRouteChanged, st)
}

func (s *AudioSystem) onStartFailed(err error) {
	s.metrics.StartFailures.Inc()
	s.emit(EventEngineError, err.Error())
}

func (s *AudioSystem) onRecognitionText(text string) {
	if s.cb.OnRecognitionText != nil {
		s.cb.OnRecognitionText(text)
	}
	s.emit(EventRecognitionText, text)
}

func (s *AudioSystem) onFinal(segment string) {
	s.metrics.DictationSegments.Inc()
	if s.batcher != nil {
		s.batcher.Add(segment)
	}
}

func (s *AudioSystem) onRecognitionError(err error) {
	s.metrics.RecognitionErrors.Inc()
	if s.cb.OnRecognitionError != nil {
		s.cb.OnRecognitionError(err)
	}
	s.emit(EventRecognitionError, err.Error())
}

func (s *AudioSystem) onListening(on bool) {
	if on {
		s.metrics.RecognitionSessions.Inc()
	}
	s.emit(EventListening, on)
}

// onTranslated runs on the translation worker.
func (s *AudioSystem) onTranslated(r translate.Result) {
	s.metrics.RecordTranslation(r.Err == nil, r.Duration)
	if r.Err != nil {
		s.emit(EventTranslationError, r.Err.Error())
		return
	}
	if s.cb.OnTranslation != nil {
		s.cb.OnTranslation(r.Text)
	}
	s.emit(EventTranslation, map[string]string{
		"source":      r.Source,
		"text":        r.Text,
		"source_lang": r.SourceLang,
		"target_lang": r.TargetLang,
	})
}

// disabledNodes lists bypassed nodes for persistence.
func (s *AudioSystem) disabledNodes() []string {
	var out []string
	for _, n := range s.graph.Nodes() {
		if n.Bypassed {
			out = append(out, string(n.ID))
		}
	}
	slices.Sort(out)
	return out
}
