// Package machine is the control context: a single loop that owns the
// hardware and executes commands from the dispatch channel.
package machine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/imaging"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

type displaySlot struct {
	d hardware.Display
}

type Controller struct {
	logger   *zap.Logger
	model    *state.Model
	commands *dispatch.Mailbox[dispatch.Command]
	events   *dispatch.Mailbox[dispatch.Event]
	rig      *hardware.Rig
	writer   *imaging.Writer
	limiter  *rate.Limiter
	display  atomic.Pointer[displaySlot]

	// offsets of zeroed axes, owned by the control loop
	offsets map[hardware.Axis]float64

	mu              sync.RWMutex
	currentState    State
	currentRunID    uuid.UUID
	lastStateChange time.Time
}

// NewController wires the controller to the model and the channel. writer
// may be nil, in which case no images are stored.
func NewController(
	logger *zap.Logger,
	model *state.Model,
	ch *dispatch.Channel,
	rig *hardware.Rig,
	writer *imaging.Writer,
	maxFPS float64,
) *Controller {
	limit := rate.Inf
	if maxFPS > 0 {
		limit = rate.Limit(maxFPS)
	}

	c := &Controller{
		logger:          logger,
		model:           model,
		commands:        ch.Commands,
		events:          ch.Events,
		rig:             rig,
		writer:          writer,
		limiter:         rate.NewLimiter(limit, 1),
		offsets:         make(map[hardware.Axis]float64),
		currentState:    StateIdle,
		lastStateChange: time.Now(),
	}

	model.OnChange(func(s state.Snapshot) {
		ev := dispatch.NewEvent(dispatch.EvtStateChanged)
		ev.State = s
		c.emit(ev)
	})

	return c
}

// AttachDisplay sets the live frame consumer; nil detaches it. Safe to call
// at any time.
func (c *Controller) AttachDisplay(d hardware.Display) {
	if d == nil {
		c.display.Store(nil)
		return
	}
	c.display.Store(&displaySlot{d: d})
}

func (c *Controller) GetStatus() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		State:           c.currentState,
		RunID:           c.currentRunID,
		LastStateChange: c.lastStateChange,
	}
}

// Run processes commands until ctx ends or the command mailbox is closed.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("Controller started")
	defer c.logger.Info("Controller stopped")

	for {
		cmd, err := c.commands.Receive(ctx)
		if err != nil {
			if errors.Is(err, dispatch.ErrClosed) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		c.handleIdle(ctx, cmd)
	}
}

func (c *Controller) handleIdle(ctx context.Context, cmd dispatch.Command) {
	c.logger.Debug("Command received",
		zap.String("command", string(cmd.Kind)),
		zap.String("id", cmd.ID.String()))

	switch cmd.Kind {
	case dispatch.CmdGoLive:
		c.live(ctx, cmd)
	case dispatch.CmdStop:
		c.ack(cmd, "")
	case dispatch.CmdStartRun:
		c.run(ctx, cmd)
	case dispatch.CmdMoveRelative, dispatch.CmdMoveAbsolute:
		c.move(ctx, cmd)
	case dispatch.CmdZeroAxes, dispatch.CmdUnzeroAxes:
		c.zeroAxes(cmd)
	case dispatch.CmdChangeRequest:
		next, err := c.applyChanges(ctx, cmd)
		if err != nil {
			c.fault(cmd, err)
		}
		switch next {
		case StateLive:
			c.live(ctx, cmd)
		default:
			c.ack(cmd, "")
		}
	default:
		c.reject(cmd, fmt.Sprintf("unknown command %q", cmd.Kind))
	}
}

// applyChanges writes a change request into the model and pushes accepted
// keys to the hardware. A state key is a mode request and is returned
// instead of stored. The error is the first failed hardware write.
func (c *Controller) applyChanges(ctx context.Context, cmd dispatch.Command) (State, error) {
	changes := maps.Clone(cmd.Changes)

	var requested State
	if raw, ok := changes[state.KeyState]; ok {
		delete(changes, state.KeyState)
		switch s, _ := raw.(string); State(s) {
		case StateLive, StateIdle:
			requested = State(s)
		default:
			c.logger.Warn("State change rejected",
				zap.String("key", state.KeyState),
				zap.Any("value", raw))
		}
	}

	if len(changes) == 0 {
		return requested, nil
	}

	res := c.model.RequestChange(changes)
	return requested, c.pushParameters(ctx, res.Accepted)
}

// pushParameters writes params to the rig in key order and stops at the
// first failure.
func (c *Controller) pushParameters(ctx context.Context, params map[string]any) error {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := c.rig.SetParameter(ctx, k, params[k]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	previous := c.currentState
	c.currentState = s
	c.lastStateChange = time.Now()
	c.mu.Unlock()

	if previous == s {
		return
	}

	c.model.Assign(map[string]any{state.KeyState: string(s)})
	c.logger.Info("Controller state changed",
		zap.String("state", string(s)),
		zap.String("previous", string(previous)))
}

func (c *Controller) setRunID(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.currentRunID = id
}

// syncPosition mirrors the stage position of axis into the model, relative
// to its zero if the axis is zeroed.
func (c *Controller) syncPosition(axis hardware.Axis) {
	pos, err := c.rig.Stage.Position(axis)
	if err != nil {
		c.logger.Warn("Position readback failed", zap.String("axis", string(axis)), zap.Error(err))
		return
	}
	c.model.Assign(map[string]any{axis.StateKey(): pos - c.offsets[axis]})
}

// zeroAxes makes the current position of each axis its reported origin, or
// drops the origin again for unzero.
func (c *Controller) zeroAxes(cmd dispatch.Command) {
	if len(cmd.Axes) == 0 {
		c.reject(cmd, "no axes given")
		return
	}

	for _, axis := range cmd.Axes {
		if cmd.Kind == dispatch.CmdUnzeroAxes {
			delete(c.offsets, axis)
		} else {
			raw, err := c.rig.Stage.Position(axis)
			if err != nil {
				c.fault(cmd, err)
				c.ack(cmd, "failed")
				return
			}
			c.offsets[axis] = raw
		}
		c.syncPosition(axis)
	}

	c.logger.Info("Axes zero changed",
		zap.String("command", string(cmd.Kind)),
		zap.Any("axes", cmd.Axes),
		zap.Any("offsets", c.offsets))
	c.ack(cmd, "")
}

// show hands a frame to the display if one is attached and the frame rate
// allows it.
func (c *Controller) show(f hardware.Frame) {
	slot := c.display.Load()
	if slot == nil || !c.limiter.Allow() {
		return
	}
	slot.d.ShowFrame(f)
}

func (c *Controller) emit(ev dispatch.Event) {
	if err := c.events.Send(ev); err != nil {
		c.logger.Debug("Event dropped", zap.String("kind", string(ev.Kind)), zap.Error(err))
	}
}

func (c *Controller) ack(cmd dispatch.Command, note string) {
	ev := dispatch.NewEvent(dispatch.EvtCommandHandled)
	ev.CommandID = cmd.ID
	ev.Reason = note
	c.emit(ev)
}

func (c *Controller) reject(cmd dispatch.Command, reason string) {
	c.logger.Warn("Command rejected",
		zap.String("command", string(cmd.Kind)),
		zap.String("reason", reason))

	ev := dispatch.NewEvent(dispatch.EvtCommandRejected)
	ev.CommandID = cmd.ID
	ev.Reason = reason
	c.emit(ev)
}

func (c *Controller) fault(cmd dispatch.Command, err error) {
	c.logger.Error("Hardware fault",
		zap.String("command", string(cmd.Kind)),
		zap.Error(err))

	ev := dispatch.NewEvent(dispatch.EvtHardwareFault)
	ev.CommandID = cmd.ID
	ev.Reason = err.Error()
	c.emit(ev)
}
