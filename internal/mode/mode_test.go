package mode

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
	"github.com/GriffinCanCode/hearing-assist/internal/scheduler"
)

type fakeEngine struct {
	calls    []string
	sessions []route.Session
	startErr error
	running  bool
}

func (f *fakeEngine) Start(m Mode) error {
	f.calls = append(f.calls, "start:"+m.String())
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeEngine) Stop() {
	f.calls = append(f.calls, "stop")
	f.running = false
}

func (f *fakeEngine) ApplySession(s route.Session) error {
	f.calls = append(f.calls, "session")
	f.sessions = append(f.sessions, s)
	return nil
}

func (f *fakeEngine) starts() int {
	n := 0
	for _, c := range f.calls {
		if len(c) > 6 && c[:6] == "start:" {
			n++
		}
	}
	return n
}

func newTestController(opts Options) (*Controller, *fakeEngine, *scheduler.Manual) {
	eng := &fakeEngine{}
	sched := scheduler.NewManual()
	return NewController(eng, sched, opts), eng, sched
}

var ctx = context.Background()

func TestParse(t *testing.T) {
	for _, m := range []Mode{Idle, HearingAid, Recognize} {
		got, err := Parse(m.String())
		if err != nil || got != m {
			t.Errorf("Parse(%q) = (%v, %v)", m.String(), got, err)
		}
	}
	if _, err := Parse("karaoke"); !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("Parse(karaoke) = %v, want INVALID_ARGUMENT", err)
	}
}

func TestSwitchModeSameIsNoop(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	c.SwitchMode(ctx, Idle)
	if len(eng.calls) != 0 {
		t.Errorf("calls = %v, want none", eng.calls)
	}
}

func TestSwitchModePreservesRunning(t *testing.T) {
	tests := []struct {
		name    string
		running bool
	}{
		{"running", true},
		{"stopped", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestController(Options{})
			c.SwitchMode(ctx, HearingAid)
			if tt.running {
				if err := c.SetRunning(ctx, true); err != nil {
					t.Fatalf("SetRunning() = %v", err)
				}
			}
			c.SwitchMode(ctx, Recognize)
			if c.Running() != tt.running {
				t.Errorf("after switch to recognize Running() = %v, want %v", c.Running(), tt.running)
			}
			c.SwitchMode(ctx, HearingAid)
			if c.Mode() != HearingAid || c.Running() != tt.running {
				t.Errorf("Status() = %+v, want hearing_aid running=%v", c.Status(), tt.running)
			}
		})
	}
}

func TestSwitchModeStopsBeforeFlip(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	eng.calls = nil

	c.SwitchMode(ctx, Recognize)
	want := []string{"stop", "start:recognize"}
	if len(eng.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", eng.calls, want)
	}
	for i := range want {
		if eng.calls[i] != want[i] {
			t.Errorf("call %d = %q, want %q", i, eng.calls[i], want[i])
		}
	}
}

func TestSetRunningIdleRejected(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	err := c.SetRunning(ctx, true)
	if !apperrors.IsCode(err, apperrors.CodeInvalidArgument) {
		t.Errorf("SetRunning(idle) = %v, want INVALID_ARGUMENT", err)
	}
	if eng.starts() != 0 {
		t.Error("engine started in idle")
	}
}

func TestPermissionDeniedNeverStarts(t *testing.T) {
	c, eng, _ := newTestController(Options{Permit: func(Mode) bool { return false }})
	c.SwitchMode(ctx, HearingAid)
	err := c.SetRunning(ctx, true)
	if !apperrors.IsCode(err, apperrors.CodePermissionDenied) {
		t.Errorf("SetRunning() = %v, want PERMISSION_DENIED", err)
	}
	if eng.starts() != 0 {
		t.Errorf("engine start attempted %d times", eng.starts())
	}
	if c.Running() {
		t.Error("Running() = true")
	}
}

func TestStartFailureAbsorbed(t *testing.T) {
	var failed error
	c, eng, _ := newTestController(Options{OnStartFailed: func(err error) { failed = err }})
	eng.startErr = errors.New("device busy")
	c.SwitchMode(ctx, HearingAid)
	if err := c.SetRunning(ctx, true); err == nil {
		t.Error("SetRunning() = nil on start failure")
	}
	if c.Running() {
		t.Error("Running() = true after failed start")
	}
	if failed == nil {
		t.Error("OnStartFailed not called")
	}

	eng.startErr = nil
	if err := c.SetRunning(ctx, true); err != nil || !c.Running() {
		t.Errorf("retry SetRunning() = %v, Running() = %v", err, c.Running())
	}
}

func TestStartFailureRetriedOnScheduler(t *testing.T) {
	var modes []bool
	c, eng, sched := newTestController(Options{
		StartRetry:    resilience.RetryConfig{MaxRetries: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		OnModeChanged: func(_ Mode, running bool) { modes = append(modes, running) },
	})
	eng.startErr = apperrors.New(apperrors.CodeHardwareStartFailure, "device busy")
	c.SwitchMode(ctx, HearingAid)

	if err := c.SetRunning(ctx, true); err == nil {
		t.Fatal("SetRunning() = nil on start failure")
	}
	if eng.starts() != 1 {
		t.Errorf("engine starts = %d, want 1 before any delay elapses", eng.starts())
	}
	if !c.Status().RestartPending || sched.Pending() != 1 {
		t.Fatalf("RestartPending = %v, pending = %d, want a scheduled retry", c.Status().RestartPending, sched.Pending())
	}

	eng.startErr = nil
	sched.Advance(time.Second)
	if !c.Running() || eng.starts() != 2 {
		t.Errorf("Running() = %v after %d starts, want running after 2", c.Running(), eng.starts())
	}
	if c.Status().RestartPending {
		t.Error("RestartPending still set after the retry ran")
	}
	if len(modes) == 0 || !modes[len(modes)-1] {
		t.Errorf("mode notifications = %v, want a final running=true", modes)
	}
}

func TestStartRetryGivesUp(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantStart int
	}{
		{"exhausted", apperrors.New(apperrors.CodeHardwareStartFailure, "device busy"), 3},
		{"permanent", errors.New("paInvalidDevice"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, eng, sched := newTestController(Options{StartRetry: resilience.HardwareRetry()})
			eng.startErr = tt.err
			c.SwitchMode(ctx, HearingAid)
			c.SetRunning(ctx, true)
			sched.Advance(time.Minute)

			if eng.starts() != tt.wantStart {
				t.Errorf("engine starts = %d, want %d", eng.starts(), tt.wantStart)
			}
			if c.Running() || c.Status().RestartPending || sched.Pending() != 0 {
				t.Errorf("Running() = %v, RestartPending = %v, pending = %d, want all clear",
					c.Running(), c.Status().RestartPending, sched.Pending())
			}
		})
	}
}

func TestStopCancelsStartRetry(t *testing.T) {
	c, eng, sched := newTestController(Options{StartRetry: resilience.HardwareRetry()})
	eng.startErr = apperrors.New(apperrors.CodeHardwareStartFailure, "device busy")
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)

	c.SetRunning(ctx, false)
	eng.startErr = nil
	sched.Advance(time.Minute)
	if c.Running() || eng.starts() != 1 {
		t.Errorf("Running() = %v after %d starts, want stopped after 1", c.Running(), eng.starts())
	}
}

func TestRouteChangeRestartsAfterSettle(t *testing.T) {
	var modes []bool
	c, eng, sched := newTestController(Options{
		SettleDelay:   500 * time.Millisecond,
		OnModeChanged: func(_ Mode, running bool) { modes = append(modes, running) },
	})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	eng.calls = nil

	c.OnRouteChange(route.Event{Reason: route.NewDeviceAvailable, HeadphonesConnected: true})
	sched.Drain()
	if c.Running() || eng.running {
		t.Fatal("engine still running right after route change")
	}
	if len(eng.calls) != 2 || eng.calls[0] != "stop" || eng.calls[1] != "session" {
		t.Fatalf("calls = %v, want [stop session]", eng.calls)
	}
	if !c.Status().RestartPending {
		t.Error("no restart pending")
	}

	sched.Advance(499 * time.Millisecond)
	if c.Running() {
		t.Fatal("restarted before settle delay")
	}
	sched.Advance(time.Millisecond)
	if !c.Running() || !eng.running {
		t.Fatal("not running after settle delay")
	}
	if !c.Status().Headphones {
		t.Error("headphone flag not updated")
	}
	if modes[len(modes)-1] != true {
		t.Error("OnModeChanged not fired for restart")
	}
}

func TestRouteChangeWhileStoppedStaysStopped(t *testing.T) {
	c, eng, sched := newTestController(Options{})
	c.SwitchMode(ctx, HearingAid)
	c.HandleRouteChange(ctx, route.Event{Reason: route.OldDeviceUnavailable})
	sched.Advance(time.Second)
	if c.Running() || eng.starts() != 0 {
		t.Error("stopped engine was restarted by a route change")
	}
	if len(eng.sessions) != 1 {
		t.Errorf("session applied %d times, want 1", len(eng.sessions))
	}
}

func TestOverrideDoesNotRestart(t *testing.T) {
	var routes int
	c, eng, _ := newTestController(Options{OnRouteChanged: func(route.State) { routes++ }})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	eng.calls = nil
	c.HandleRouteChange(ctx, route.Event{Reason: route.Override})
	if len(eng.calls) != 0 {
		t.Errorf("calls = %v, want none", eng.calls)
	}
	if routes != 1 {
		t.Errorf("OnRouteChanged fired %d times, want 1", routes)
	}
}

func TestPendingRestartCountsAsRunning(t *testing.T) {
	c, _, sched := newTestController(Options{})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	c.HandleRouteChange(ctx, route.Event{Reason: route.CategoryChange})

	c.SwitchMode(ctx, Recognize)
	if !c.Running() {
		t.Error("switch during pending restart lost the running state")
	}
	if c.Status().RestartPending {
		t.Error("stale restart still pending")
	}
	sched.Advance(time.Second)
	if c.Mode() != Recognize || !c.Running() {
		t.Errorf("Status() = %+v", c.Status())
	}
}

func TestSecondRouteChangeReplacesRestart(t *testing.T) {
	c, eng, sched := newTestController(Options{SettleDelay: 500 * time.Millisecond})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	before := eng.starts()

	c.HandleRouteChange(ctx, route.Event{Reason: route.NewDeviceAvailable})
	sched.Advance(300 * time.Millisecond)
	c.HandleRouteChange(ctx, route.Event{Reason: route.OldDeviceUnavailable})
	sched.Advance(300 * time.Millisecond)
	if c.Running() {
		t.Fatal("first restart fired after being superseded")
	}
	sched.Advance(200 * time.Millisecond)
	if !c.Running() || eng.starts() != before+1 {
		t.Errorf("Running() = %v, starts = %d, want one restart", c.Running(), eng.starts()-before)
	}
}

func TestSetRunningFalseCancelsRestart(t *testing.T) {
	c, _, sched := newTestController(Options{})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)
	c.HandleRouteChange(ctx, route.Event{Reason: route.NewDeviceAvailable})
	c.SetRunning(ctx, false)
	sched.Advance(time.Second)
	if c.Running() {
		t.Error("canceled restart fired")
	}
}

func TestSelectMicrophone(t *testing.T) {
	c, eng, sched := newTestController(Options{})
	c.SwitchMode(ctx, HearingAid)
	c.SetRunning(ctx, true)

	if err := c.SelectMicrophone(ctx, route.Headphones); !apperrors.IsCode(err, apperrors.CodeUnavailable) {
		t.Errorf("SelectMicrophone(headphones) without headphones = %v", err)
	}

	c.SetHeadphonesConnected(true)
	if err := c.SelectMicrophone(ctx, route.Headphones); err != nil {
		t.Fatalf("SelectMicrophone() = %v", err)
	}
	last := eng.sessions[len(eng.sessions)-1]
	if last.Microphone != route.Headphones || last.Options != route.AllowBluetooth {
		t.Errorf("session = %+v, want headphones + AllowBluetooth", last)
	}
	sched.Advance(DefaultSettleDelay)
	if !c.Running() {
		t.Error("not running after microphone change")
	}

	c.SelectMicrophone(ctx, route.Front)
	last = eng.sessions[len(eng.sessions)-1]
	if last.Options != route.AllowBluetoothA2DP {
		t.Errorf("front mic options = %v, want AllowBluetoothA2DP", last.Options)
	}
}

func TestHeadphonesRemovedFallsBackToBottom(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	c.SetHeadphonesConnected(true)
	c.SelectMicrophone(ctx, route.Headphones)
	c.HandleRouteChange(ctx, route.Event{Reason: route.OldDeviceUnavailable, HeadphonesConnected: false})
	if c.Status().Microphone != route.Bottom {
		t.Errorf("Microphone = %v, want bottom", c.Status().Microphone)
	}
	last := eng.sessions[len(eng.sessions)-1]
	if last.Options != route.AllowBluetoothA2DP {
		t.Errorf("options = %v, want AllowBluetoothA2DP", last.Options)
	}
}

func TestSetOutputPort(t *testing.T) {
	c, eng, _ := newTestController(Options{})
	c.SetOutputPort(ctx, route.PortSpeaker)
	c.SetOutputPort(ctx, route.PortSpeaker)
	if len(eng.sessions) != 1 || eng.sessions[0].Port != route.PortSpeaker {
		t.Errorf("sessions = %+v, want one speaker session", eng.sessions)
	}
}
