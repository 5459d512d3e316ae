// Package panel is the issuing context: it owns the acquisition list, mirrors
// the controller's state from events and turns user actions into commands.
package panel

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

var ErrStopped = errors.New("panel stopped")

// Listener observes every controller event after the panel has handled it.
// Listeners run on the panel goroutine and must not block or call back into
// the panel.
type Listener func(dispatch.Event)

// Status is what a front end shows.
type Status struct {
	State       state.Snapshot      `json:"state"`
	Progress    *dispatch.Progress  `json:"progress,omitempty"`
	LastRun     *dispatch.RunResult `json:"last_run,omitempty"`
	ListLocked  bool                `json:"list_locked"`
	Outstanding int                 `json:"outstanding_commands"`
}

// Summary aggregates the acquisition list.
type Summary struct {
	Entries         int           `json:"entries"`
	TotalImageCount int           `json:"total_image_count"`
	TotalTime       time.Duration `json:"total_time_ns"`
	TotalSeconds    float64       `json:"total_time_s"`
}

type Panel struct {
	logger   *zap.Logger
	commands *dispatch.Mailbox[dispatch.Command]
	events   *dispatch.Mailbox[dispatch.Event]
	scope    config.MicroscopeConfig

	requests chan func()
	quit     chan struct{}
	quitOnce sync.Once

	listeners []Listener

	// owned by the loop goroutine
	list        *acquisition.List
	locked      bool
	runCmd      uuid.UUID
	mirror      state.Snapshot
	progress    *dispatch.Progress
	lastRun     *dispatch.RunResult
	outstanding map[uuid.UUID]dispatch.CommandKind
	controls    []Control

	suspended atomic.Bool
}

// New creates a panel. initial is the state snapshot taken at startup; later
// values arrive through state-changed events.
func New(logger *zap.Logger, ch *dispatch.Channel, scope config.MicroscopeConfig, initial state.Snapshot) *Panel {
	return &Panel{
		logger:      logger,
		commands:    ch.Commands,
		events:      ch.Events,
		scope:       scope,
		requests:    make(chan func()),
		quit:        make(chan struct{}),
		list:        acquisition.NewList(),
		mirror:      initial,
		outstanding: make(map[uuid.UUID]dispatch.CommandKind),
	}
}

// OnEvent registers a listener. Call before Run.
func (p *Panel) OnEvent(l Listener) {
	p.listeners = append(p.listeners, l)
}

// Run is the issuing loop. It serializes API calls and controller events.
func (p *Panel) Run(ctx context.Context) error {
	defer p.quitOnce.Do(func() { close(p.quit) })

	p.logger.Info("Panel started")
	for {
		select {
		case fn := <-p.requests:
			fn()
		case <-p.events.Ready():
			p.drainEvents()
		case <-ctx.Done():
			p.logger.Info("Panel stopped")
			return nil
		}
	}
}

func (p *Panel) drainEvents() {
	for {
		ev, ok := p.events.TryReceive()
		if !ok {
			return
		}
		p.handle(ev)
	}
}

func (p *Panel) handle(ev dispatch.Event) {
	switch ev.Kind {
	case dispatch.EvtStateChanged:
		p.mirror = ev.State
		p.refreshControls()

	case dispatch.EvtRunStarted:
		p.progress = ev.Progress
		p.lastRun = nil

	case dispatch.EvtProgress:
		p.progress = ev.Progress

	case dispatch.EvtRunFinished, dispatch.EvtRunAborted:
		p.lastRun = ev.Run
		p.releaseList(ev.CommandID)
		delete(p.outstanding, ev.CommandID)

	case dispatch.EvtCommandRejected:
		p.logger.Warn("Command rejected",
			zap.String("id", ev.CommandID.String()),
			zap.String("reason", ev.Reason))
		p.releaseList(ev.CommandID)
		delete(p.outstanding, ev.CommandID)

	case dispatch.EvtCommandHandled:
		delete(p.outstanding, ev.CommandID)

	case dispatch.EvtHardwareFault:
		p.logger.Error("Hardware fault reported", zap.String("reason", ev.Reason))
	}

	for _, l := range p.listeners {
		l(ev)
	}
}

func (p *Panel) releaseList(cmdID uuid.UUID) {
	if p.locked && cmdID == p.runCmd {
		p.locked = false
		p.runCmd = uuid.Nil
	}
}

// do runs fn on the loop goroutine and waits for it.
func (p *Panel) do(fn func()) error {
	done := make(chan struct{})
	select {
	case p.requests <- func() { fn(); close(done) }:
	case <-p.quit:
		return ErrStopped
	}
	select {
	case <-done:
		return nil
	case <-p.quit:
		return ErrStopped
	}
}

// submit must run on the loop goroutine.
func (p *Panel) submit(cmd dispatch.Command) error {
	if err := p.commands.Send(cmd); err != nil {
		return err
	}
	p.outstanding[cmd.ID] = cmd.Kind
	return nil
}

func (p *Panel) send(cmd dispatch.Command) (uuid.UUID, error) {
	var err error
	if derr := p.do(func() { err = p.submit(cmd) }); derr != nil {
		return uuid.Nil, derr
	}
	return cmd.ID, err
}

func (p *Panel) GoLive() (uuid.UUID, error) {
	return p.send(dispatch.NewCommand(dispatch.CmdGoLive))
}

func (p *Panel) Stop() (uuid.UUID, error) {
	return p.send(dispatch.NewCommand(dispatch.CmdStop))
}

func (p *Panel) MoveRelative(axis hardware.Axis, delta float64) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdMoveRelative)
	cmd.Axis, cmd.Value = axis, delta
	return p.send(cmd)
}

func (p *Panel) MoveAbsolute(axis hardware.Axis, value float64) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdMoveAbsolute)
	cmd.Axis, cmd.Value = axis, value
	return p.send(cmd)
}

// LoadSample drives the sample holder to the load position. Load and
// unload positions are stage coordinates and ignore a zeroed y axis.
func (p *Panel) LoadSample() (uuid.UUID, error) {
	return p.sampleMove(p.scope.LoadPosition)
}

func (p *Panel) UnloadSample() (uuid.UUID, error) {
	return p.sampleMove(p.scope.UnloadPosition)
}

func (p *Panel) sampleMove(y float64) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdMoveAbsolute)
	cmd.Axis, cmd.Value, cmd.StageFrame = hardware.AxisY, y, true
	return p.send(cmd)
}

// ZeroAxes makes the current position of axes the reported origin.
func (p *Panel) ZeroAxes(axes ...hardware.Axis) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdZeroAxes)
	cmd.Axes = axes
	return p.send(cmd)
}

// UnzeroAxes restores absolute positions for axes.
func (p *Panel) UnzeroAxes(axes ...hardware.Axis) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdUnzeroAxes)
	cmd.Axes = axes
	return p.send(cmd)
}

// RequestChange forwards parameter changes to the controller. The result
// arrives as a state-changed event.
func (p *Panel) RequestChange(changes map[string]any) (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdChangeRequest)
	cmd.Changes = changes
	return p.send(cmd)
}

// StartRun hands a copy of the acquisition list to the controller and locks
// the list until the run ends or is refused.
func (p *Panel) StartRun() (uuid.UUID, error) {
	cmd := dispatch.NewCommand(dispatch.CmdStartRun)
	var err error
	derr := p.do(func() {
		if p.locked {
			err = acquisition.ErrListLocked
			return
		}
		cmd.List = p.list.Entries()
		if err = p.submit(cmd); err != nil {
			return
		}
		p.locked = true
		p.runCmd = cmd.ID
	})
	if derr != nil {
		return uuid.Nil, derr
	}
	return cmd.ID, err
}

// WaitIdle blocks until every submitted command is acknowledged and the
// controller reports idle.
func (p *Panel) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		var idle bool
		if err := p.do(func() {
			idle = len(p.outstanding) == 0 && p.mirror.String(state.KeyState) == "idle"
		}); err != nil {
			return err
		}
		if idle {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Panel) Status() (Status, error) {
	var st Status
	err := p.do(func() {
		st = Status{
			State:       maps.Clone(p.mirror),
			Progress:    p.progress,
			LastRun:     p.lastRun,
			ListLocked:  p.locked,
			Outstanding: len(p.outstanding),
		}
	})
	return st, err
}
