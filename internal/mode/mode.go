// Package mode arbitrates the single audio path between hearing-aid amplification and
// speech recognition, and keeps it alive across route changes. Every Controller method
// must run on the control loop.
package mode

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
	"github.com/GriffinCanCode/hearing-assist/internal/resilience"
	"github.com/GriffinCanCode/hearing-assist/internal/route"
	"github.com/GriffinCanCode/hearing-assist/internal/scheduler"
	"github.com/GriffinCanCode/hearing-assist/internal/trace"
)

// Mode is the active use of the audio path.
type Mode int

const (
	Idle Mode = iota
	HearingAid
	Recognize
)

var modeNames = [...]string{"idle", "hearing_aid", "recognize"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// Parse accepts the String form, case-insensitively.
func Parse(s string) (Mode, error) {
	for i, n := range modeNames {
		if strings.EqualFold(s, n) {
			return Mode(i), nil
		}
	}
	return Idle, apperrors.Newf(apperrors.CodeInvalidArgument, "unknown mode %q", s)
}

// DefaultSettleDelay is how long a route needs before the engine can restart on it.
const DefaultSettleDelay = 500 * time.Millisecond

// Engine is the audio path the controller drives.
type Engine interface {
	// Start brings output up for m. A failure leaves the engine stopped.
	Start(m Mode) error
	// Stop force-stops output: mute, remove taps, halt the device.
	Stop()
	// ApplySession reconfigures the hardware category, microphone and port.
	ApplySession(s route.Session) error
}

// Status is a snapshot of the controller.
type Status struct {
	Mode           Mode             `json:"mode"`
	Running        bool             `json:"running"`
	RestartPending bool             `json:"restart_pending"`
	Microphone     route.Microphone `json:"microphone"`
	Port           route.OutputPort `json:"port"`
	Headphones     bool             `json:"headphones"`
}

// Options configure a Controller.
type Options struct {
	SettleDelay time.Duration
	Microphone  route.Microphone
	Port        route.OutputPort
	// Permit reports whether m may start; nil permits everything.
	Permit func(m Mode) bool
	// OnModeChanged fires after every mode or running change.
	OnModeChanged func(m Mode, running bool)
	// OnRouteChanged fires after a route event or microphone/port selection was applied.
	OnRouteChanged func(route.State)
	// OnStartFailed fires when the engine refused to start.
	OnStartFailed func(error)
	// StartRetry schedules further attempts after a retryable start failure.
	// MaxRetries 0 disables them.
	StartRetry resilience.RetryConfig
}

// Controller is the mode state machine.
type Controller struct {
	engine Engine
	sched  scheduler.Scheduler
	opts   Options

	mode       Mode
	running    bool
	mic        route.Microphone
	port       route.OutputPort
	headphones bool
	restart    scheduler.Cancel
}

// NewController creates an idle, stopped controller.
func NewController(engine Engine, sched scheduler.Scheduler, opts Options) *Controller {
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	return &Controller{
		engine: engine,
		sched:  sched,
		opts:   opts,
		mic:    opts.Microphone,
		port:   opts.Port,
	}
}

// Status returns the current state.
func (c *Controller) Status() Status {
	return Status{
		Mode:           c.mode,
		Running:        c.running,
		RestartPending: c.restart != nil,
		Microphone:     c.mic,
		Port:           c.port,
		Headphones:     c.headphones,
	}
}

// Mode returns the active mode.
func (c *Controller) Mode() Mode { return c.mode }

// Running reports whether output is up.
func (c *Controller) Running() bool { return c.running }

// Session is the hardware session the current selection needs.
func (c *Controller) Session() route.Session {
	return route.Session{Options: route.OptionsFor(c.mic), Microphone: c.mic, Port: c.port}
}

// SwitchMode moves to m, restarting output only if it was running (or about to restart).
func (c *Controller) SwitchMode(ctx context.Context, m Mode) {
	if m == c.mode {
		return
	}
	ctx, span := trace.StartSpan(ctx, "mode.switch")
	defer span.End()
	span.SetAttr("from", c.mode.String())
	span.SetAttr("to", m.String())

	wasRunning := c.running || c.cancelRestart()
	c.stop()
	c.mode = m
	if wasRunning {
		span.SetError(c.start(ctx))
	}
	trace.Logger(ctx).Info("mode switched", "mode", m, "running", c.running)
	c.notifyMode()
}

// SetRunning starts or stops output in the current mode. This is an explicit user action,
// so failures are returned.
func (c *Controller) SetRunning(ctx context.Context, on bool) error {
	if !on {
		pending := c.cancelRestart()
		if !c.running && !pending {
			return nil
		}
		c.stop()
		c.notifyMode()
		return nil
	}
	if c.running {
		return nil
	}
	if c.mode == Idle {
		return apperrors.New(apperrors.CodeInvalidArgument, "select a mode before starting")
	}
	c.cancelRestart()
	err := c.start(ctx)
	c.notifyMode()
	return err
}

// SetHeadphonesConnected seeds the headphone flag before the first route event.
func (c *Controller) SetHeadphonesConnected(on bool) { c.headphones = on }

// HandleRouteChange reacts to a hardware route event.
func (c *Controller) HandleRouteChange(ctx context.Context, e route.Event) {
	ctx, span := trace.StartSpan(ctx, "route.change")
	defer span.End()
	span.SetAttr("reason", e.Reason.String())

	c.headphones = e.HeadphonesConnected
	if !e.Reason.RequiresRestart() {
		c.notifyRoute()
		return
	}
	if c.mic == route.Headphones && !c.headphones {
		trace.Logger(ctx).Info("headphone microphone gone, falling back", "microphone", route.Bottom)
		c.mic = route.Bottom
	}
	c.reconfigure(ctx)
}

// OnRouteChange implements route.Observer by handing the event to the control loop.
func (c *Controller) OnRouteChange(e route.Event) {
	c.sched.Post(func() { c.HandleRouteChange(context.Background(), e) })
}

// SelectMicrophone switches the input source with the same stop, reconfigure and delayed
// restart sequence as a route change.
func (c *Controller) SelectMicrophone(ctx context.Context, m route.Microphone) error {
	if m == route.Headphones && !c.headphones {
		return apperrors.New(apperrors.CodeUnavailable, "no headphones connected")
	}
	if m == c.mic {
		return nil
	}
	ctx, span := trace.StartSpan(ctx, "route.select_microphone")
	defer span.End()
	span.SetAttr("microphone", m.String())
	c.mic = m
	c.reconfigure(ctx)
	return nil
}

// SetOutputPort overrides the output port. The stream is reopened on the new device.
func (c *Controller) SetOutputPort(ctx context.Context, p route.OutputPort) {
	if p == c.port {
		return
	}
	ctx, span := trace.StartSpan(ctx, "route.output_port")
	defer span.End()
	span.SetAttr("port", p.String())
	c.port = p
	c.reconfigure(ctx)
}

// reconfigure stops the engine, applies the session and schedules the restart.
func (c *Controller) reconfigure(ctx context.Context) {
	wasRunning := c.running || c.cancelRestart()
	c.stop()
	s := c.Session()
	if err := c.engine.ApplySession(s); err != nil {
		trace.Logger(ctx).Warn("apply audio session failed", "options", s.Options, "microphone", s.Microphone, "error", err)
	}
	if wasRunning {
		c.restart = c.sched.After(c.opts.SettleDelay, func() {
			c.restart = nil
			c.start(context.WithoutCancel(ctx))
			c.notifyMode()
		})
	}
	c.notifyRoute()
}

func (c *Controller) start(ctx context.Context) error {
	return c.startAttempt(ctx, 0)
}

func (c *Controller) startAttempt(ctx context.Context, attempt int) error {
	if c.mode == Idle {
		return nil
	}
	if c.opts.Permit != nil && !c.opts.Permit(c.mode) {
		c.running = false
		trace.Logger(ctx).Warn("permission denied, not starting", "mode", c.mode)
		return apperrors.New(apperrors.CodePermissionDenied, "permission denied").
			WithMetadata("mode", c.mode.String())
	}
	if err := c.engine.Start(c.mode); err != nil {
		c.running = false
		slog.Warn("engine start failed", "mode", c.mode, "attempt", attempt+1, "error", err)
		if c.opts.OnStartFailed != nil {
			c.opts.OnStartFailed(err)
		}
		c.scheduleRetry(ctx, attempt, err)
		return err
	}
	c.running = true
	return nil
}

// scheduleRetry arms the next start attempt on the scheduler. The loop never waits
// out a backoff itself; a pending retry counts as a pending restart.
func (c *Controller) scheduleRetry(ctx context.Context, attempt int, err error) {
	if c.opts.StartRetry.MaxRetries <= 0 {
		return
	}
	delay, ok := resilience.NextDelay(c.opts.StartRetry, attempt, err)
	if !ok {
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.restart = c.sched.After(delay, func() {
		c.restart = nil
		c.startAttempt(ctx, attempt+1)
		c.notifyMode()
	})
}

func (c *Controller) stop() {
	c.engine.Stop()
	c.running = false
}

// cancelRestart drops a pending delayed restart, reporting whether one was pending.
func (c *Controller) cancelRestart() bool {
	if c.restart == nil {
		return false
	}
	c.restart()
	c.restart = nil
	return true
}

func (c *Controller) notifyMode() {
	if c.opts.OnModeChanged != nil {
		c.opts.OnModeChanged(c.mode, c.running)
	}
}

func (c *Controller) notifyRoute() {
	if c.opts.OnRouteChanged != nil {
		c.opts.OnRouteChanged(route.State{
			HasConnectedHeadphones: c.headphones,
			SelectedMicrophone:     c.mic,
		})
	}
}
