package machine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware/sim"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

type harness struct {
	t     *testing.T
	ctrl  *Controller
	model *state.Model
	ch    *dispatch.Channel
	scope *sim.Microscope
}

func newHarness(t *testing.T, simCfg config.SimConfig) *harness {
	t.Helper()

	schema, initial, err := state.SchemaFromConfig(config.Default().Microscope)
	require.NoError(t, err)
	model, err := state.NewModel(schema, initial, zap.NewNop())
	require.NoError(t, err)

	scope := sim.New(simCfg)
	rig := hardware.NewRig(scope, scope, zap.NewNop(), scope)
	ch := dispatch.NewChannel()
	ctrl := NewController(zap.NewNop(), model, ch, rig, nil, 1000)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &harness{t: t, ctrl: ctrl, model: model, ch: ch, scope: scope}
}

func (h *harness) send(cmd dispatch.Command) dispatch.Command {
	require.NoError(h.t, h.ch.Commands.Send(cmd))
	return cmd
}

// collect reads events until until returns true for one of them.
func (h *harness) collect(until func(dispatch.Event) bool) []dispatch.Event {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []dispatch.Event
	for {
		ev, err := h.ch.Events.Receive(ctx)
		require.NoError(h.t, err, "timed out waiting for event")
		events = append(events, ev)
		if until(ev) {
			return events
		}
	}
}

func terminal(cmd dispatch.Command) func(dispatch.Event) bool {
	return func(ev dispatch.Event) bool {
		if ev.CommandID != cmd.ID {
			return false
		}
		switch ev.Kind {
		case dispatch.EvtCommandHandled, dispatch.EvtCommandRejected, dispatch.EvtRunFinished, dispatch.EvtRunAborted:
			return true
		}
		return false
	}
}

func ofKind(events []dispatch.Event, kind dispatch.EventKind) []dispatch.Event {
	var out []dispatch.Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func entry(zStart, zEnd, zStep float64) acquisition.Entry {
	e := acquisition.NewEntry()
	e.ZStart, e.ZEnd, e.ZStep = zStart, zEnd, zStep
	return e
}

func startRun(entries ...acquisition.Entry) dispatch.Command {
	cmd := dispatch.NewCommand(dispatch.CmdStartRun)
	cmd.List = entries
	return cmd
}

func TestRunProgressSequence(t *testing.T) {
	h := newHarness(t, config.SimConfig{FrameWidth: 4, FrameHeight: 4})

	cmd := h.send(startRun(entry(0, 30, 10), entry(0, 20, 5)))
	events := h.collect(terminal(cmd))

	started := ofKind(events, dispatch.EvtRunStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 7, started[0].Progress.TotalImageCount)

	progress := ofKind(events, dispatch.EvtProgress)
	require.Len(t, progress, 7)

	var counters, acqs, inAcq []int
	for _, ev := range progress {
		counters = append(counters, ev.Progress.ImageCounter)
		acqs = append(acqs, ev.Progress.CurrentAcq)
		inAcq = append(inAcq, ev.Progress.CurrentImageInAcq)
		assert.Equal(t, 7, ev.Progress.TotalImageCount)
		assert.Equal(t, 2, ev.Progress.TotalAcqs)
	}
	if diff := cmp.Diff([]int{0, 1, 2, 3, 4, 5, 6}, counters); diff != "" {
		t.Errorf("image_counter mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{0, 0, 0, 1, 1, 1, 1}, acqs); diff != "" {
		t.Errorf("current_acq mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []int{0, 1, 2, 0, 1, 2, 3}, inAcq)

	last := events[len(events)-1]
	assert.Equal(t, dispatch.EvtRunFinished, last.Kind)
	assert.Equal(t, dispatch.RunCompleted, last.Run.Reason)
	assert.Equal(t, 7, last.Run.ImagesAcquired)

	assert.Equal(t, StateIdle, h.ctrl.GetStatus().State)
	v, _ := h.model.Get(state.KeyState)
	assert.Equal(t, "idle", v)

	// the second entry ended at z_start + 4 * 5
	z, _ := h.model.Get(state.KeyZPos)
	assert.Equal(t, 20.0, z)
}

func TestRunConfiguresOptics(t *testing.T) {
	h := newHarness(t, config.SimConfig{})

	e := entry(0, 2, 1)
	e.Filter = "561LP"
	e.Zoom = "2x"
	e.Shutter = "Right"
	e.Intensity = 80
	e.XPos = 150

	cmd := h.send(startRun(e))
	h.collect(terminal(cmd))

	snap := h.model.Snapshot()
	assert.Equal(t, "561LP", snap["filter"])
	assert.Equal(t, "2x", snap["zoom"])
	assert.Equal(t, "Right", snap["shutterconfig"])
	assert.Equal(t, 80, snap["intensity"])
	assert.Equal(t, 150.0, snap[state.KeyXPos])

	params := h.scope.Parameters()
	assert.Equal(t, "561LP", params["filter"])
	assert.Equal(t, "Right", params["shutterconfig"])

	// optics are configured before the first move to the start point
	var ops []string
	for _, c := range h.scope.Calls() {
		ops = append(ops, c.Op)
	}
	require.GreaterOrEqual(t, len(ops), 6)
	assert.Equal(t, sim.OpSetParameter, ops[0])
	assert.Equal(t, sim.OpMoveAbsolute, ops[5])
}

func TestStopMidRun(t *testing.T) {
	h := newHarness(t, config.SimConfig{CaptureTime: 5 * time.Millisecond})

	cmd := h.send(startRun(entry(0, 200, 1), entry(0, 10, 1)))
	h.collect(func(ev dispatch.Event) bool {
		return ev.Kind == dispatch.EvtProgress && ev.Progress.ImageCounter == 2
	})

	stop := h.send(dispatch.NewCommand(dispatch.CmdStop))
	events := h.collect(terminal(cmd))

	var afterStop []dispatch.Event
	seenStop := false
	for _, ev := range events {
		if ev.Kind == dispatch.EvtCommandHandled && ev.CommandID == stop.ID {
			seenStop = true
			continue
		}
		if seenStop && ev.Kind == dispatch.EvtProgress {
			afterStop = append(afterStop, ev)
		}
	}
	assert.True(t, seenStop)
	assert.Empty(t, afterStop, "progress emitted after the stop checkpoint")

	last := events[len(events)-1]
	require.Equal(t, dispatch.EvtRunFinished, last.Kind)
	assert.Equal(t, dispatch.RunCancelled, last.Run.Reason)
	assert.Less(t, last.Run.ImagesAcquired, 210)
	assert.Equal(t, StateIdle, h.ctrl.GetStatus().State)
}

func TestHardwareFaultAbortsRun(t *testing.T) {
	h := newHarness(t, config.SimConfig{})
	h.scope.InjectFault(sim.OpCapture, 2, nil)

	cmd := h.send(startRun(entry(0, 5, 1), entry(0, 5, 1)))
	events := h.collect(terminal(cmd))

	assert.Len(t, ofKind(events, dispatch.EvtProgress), 2)
	last := events[len(events)-1]
	require.Equal(t, dispatch.EvtRunAborted, last.Kind)
	assert.Equal(t, dispatch.RunAborted, last.Run.Reason)
	assert.Equal(t, 2, last.Run.ImagesAcquired)
	assert.Contains(t, last.Run.Error, "injected fault")
	assert.Equal(t, StateIdle, h.ctrl.GetStatus().State)
}

func TestFailedChangeAbortsRun(t *testing.T) {
	h := newHarness(t, config.SimConfig{CaptureTime: 5 * time.Millisecond})
	// the entry's five optics writes succeed, the change request's fails
	h.scope.InjectFault(sim.OpSetParameter, 5, nil)

	cmd := h.send(startRun(entry(0, 200, 1)))
	h.collect(func(ev dispatch.Event) bool {
		return ev.Kind == dispatch.EvtProgress && ev.Progress.ImageCounter == 2
	})

	change := dispatch.NewCommand(dispatch.CmdChangeRequest)
	change.Changes = map[string]any{"laser": "561 nm"}
	h.send(change)
	events := h.collect(terminal(cmd))

	var handled bool
	for _, ev := range events {
		if ev.CommandID == change.ID && ev.Kind == dispatch.EvtCommandHandled {
			handled = true
		}
	}
	assert.True(t, handled)

	last := events[len(events)-1]
	require.Equal(t, dispatch.EvtRunAborted, last.Kind)
	assert.Equal(t, dispatch.RunAborted, last.Run.Reason)
	assert.Contains(t, last.Run.Error, "injected fault")
	assert.Less(t, last.Run.ImagesAcquired, 200)
	assert.Equal(t, StateIdle, h.ctrl.GetStatus().State)
}

func TestStartRunRejectsInvalidOptics(t *testing.T) {
	h := newHarness(t, config.SimConfig{})

	e := entry(0, 5, 1)
	e.Filter = "not-a-real-filter"
	cmd := h.send(startRun(e))
	events := h.collect(terminal(cmd))

	last := events[len(events)-1]
	assert.Equal(t, dispatch.EvtCommandRejected, last.Kind)
	assert.Contains(t, last.Reason, "entry 0")
	assert.Empty(t, ofKind(events, dispatch.EvtRunStarted))

	cmd = h.send(startRun())
	events = h.collect(terminal(cmd))
	assert.Equal(t, dispatch.EvtCommandRejected, events[len(events)-1].Kind)
}

func TestMoveRejectedWhileMoving(t *testing.T) {
	// 100 units per second, the first move would take 10s
	h := newHarness(t, config.SimConfig{StageSpeed: 100})

	first := dispatch.NewCommand(dispatch.CmdMoveAbsolute)
	first.Axis, first.Value = hardware.AxisX, 1000
	h.send(first)
	h.collect(func(ev dispatch.Event) bool {
		return ev.Kind == dispatch.EvtStateChanged && ev.State.String(state.KeyState) == "moving"
	})
	require.Eventually(t, func() bool { return len(h.scope.Calls()) == 1 }, time.Second, time.Millisecond)

	second := dispatch.NewCommand(dispatch.CmdMoveRelative)
	second.Axis, second.Value = hardware.AxisY, 5
	h.send(second)
	events := h.collect(terminal(second))
	assert.Equal(t, dispatch.EvtCommandRejected, events[len(events)-1].Kind)

	h.send(dispatch.NewCommand(dispatch.CmdStop))
	events = h.collect(terminal(first))
	last := events[len(events)-1]
	assert.Equal(t, dispatch.EvtCommandHandled, last.Kind)
	assert.Equal(t, "halted", last.Reason)

	x, _ := h.model.Get(state.KeyXPos)
	assert.Less(t, x.(float64), 1000.0)
	y, _ := h.model.Get(state.KeyYPos)
	assert.Equal(t, 0.0, y)
	assert.Eventually(t, func() bool { return h.ctrl.GetStatus().State == StateIdle }, time.Second, time.Millisecond)
}

func TestMoveUpdatesPose(t *testing.T) {
	h := newHarness(t, config.SimConfig{})

	cmd := dispatch.NewCommand(dispatch.CmdMoveRelative)
	cmd.Axis, cmd.Value = hardware.AxisTheta, 90
	h.send(cmd)
	h.collect(terminal(cmd))

	theta, _ := h.model.Get(state.KeyThetaPos)
	assert.Equal(t, 90.0, theta)
}

func TestChangeRequestPerKey(t *testing.T) {
	h := newHarness(t, config.SimConfig{})

	cmd := dispatch.NewCommand(dispatch.CmdChangeRequest)
	cmd.Changes = map[string]any{"filter": "not-a-real-filter", "zoom": "2x"}
	h.send(cmd)
	events := h.collect(terminal(cmd))

	changed := ofKind(events, dispatch.EvtStateChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, "2x", changed[0].State["zoom"])
	assert.Equal(t, "515LP", changed[0].State["filter"])

	assert.Equal(t, "2x", h.scope.Parameters()["zoom"])
	_, pushed := h.scope.Parameters()["filter"]
	assert.False(t, pushed)
}

func TestChangeRequestHardwareFault(t *testing.T) {
	h := newHarness(t, config.SimConfig{})
	h.scope.InjectFault(sim.OpSetParameter, 0, nil)

	cmd := dispatch.NewCommand(dispatch.CmdChangeRequest)
	cmd.Changes = map[string]any{"laser": "561 nm"}
	h.send(cmd)
	events := h.collect(terminal(cmd))

	require.Len(t, ofKind(events, dispatch.EvtHardwareFault), 1)
	assert.Equal(t, dispatch.EvtCommandHandled, events[len(events)-1].Kind)
}

type countingDisplay struct {
	frames atomic.Int64
}

func (d *countingDisplay) ShowFrame(hardware.Frame) { d.frames.Add(1) }

func TestLiveMode(t *testing.T) {
	h := newHarness(t, config.SimConfig{FrameWidth: 2, FrameHeight: 2})
	display := &countingDisplay{}
	h.ctrl.AttachDisplay(display)

	live := h.send(dispatch.NewCommand(dispatch.CmdGoLive))
	h.collect(terminal(live))
	assert.Equal(t, StateLive, h.ctrl.GetStatus().State)

	require.Eventually(t, func() bool { return display.frames.Load() > 3 }, 2*time.Second, time.Millisecond)

	// runs are refused while live
	run := h.send(startRun(entry(0, 2, 1)))
	events := h.collect(terminal(run))
	assert.Equal(t, dispatch.EvtCommandRejected, events[len(events)-1].Kind)

	stop := h.send(dispatch.NewCommand(dispatch.CmdStop))
	h.collect(terminal(stop))
	assert.Eventually(t, func() bool { return h.ctrl.GetStatus().State == StateIdle }, time.Second, time.Millisecond)
}

func TestLiveWithoutDisplay(t *testing.T) {
	h := newHarness(t, config.SimConfig{FrameWidth: 2, FrameHeight: 2})

	cmd := dispatch.NewCommand(dispatch.CmdChangeRequest)
	cmd.Changes = map[string]any{state.KeyState: "live"}
	h.send(cmd)
	h.collect(terminal(cmd))
	assert.Equal(t, StateLive, h.ctrl.GetStatus().State)

	idle := dispatch.NewCommand(dispatch.CmdChangeRequest)
	idle.Changes = map[string]any{state.KeyState: "idle"}
	h.send(idle)
	h.collect(terminal(idle))
	assert.Eventually(t, func() bool { return h.ctrl.GetStatus().State == StateIdle }, time.Second, time.Millisecond)
}

func TestZeroAndUnzeroAxes(t *testing.T) {
	h := newHarness(t, config.SimConfig{})
	move := func(kind dispatch.CommandKind, axis hardware.Axis, v float64, stageFrame bool) {
		cmd := dispatch.NewCommand(kind)
		cmd.Axis, cmd.Value, cmd.StageFrame = axis, v, stageFrame
		h.send(cmd)
		events := h.collect(terminal(cmd))
		require.Equal(t, dispatch.EvtCommandHandled, events[len(events)-1].Kind)
	}
	zero := func(kind dispatch.CommandKind, axes ...hardware.Axis) dispatch.Event {
		cmd := dispatch.NewCommand(kind)
		cmd.Axes = axes
		h.send(cmd)
		events := h.collect(terminal(cmd))
		return events[len(events)-1]
	}
	pose := func(key string) float64 {
		v, err := h.model.Get(key)
		require.NoError(t, err)
		return v.(float64)
	}

	move(dispatch.CmdMoveAbsolute, hardware.AxisX, 100, false)
	move(dispatch.CmdMoveAbsolute, hardware.AxisY, 40, false)

	require.Equal(t, dispatch.EvtCommandHandled, zero(dispatch.CmdZeroAxes, hardware.AxisX, hardware.AxisY).Kind)
	assert.Equal(t, 0.0, pose(state.KeyXPos))
	assert.Equal(t, 0.0, pose(state.KeyYPos))

	// targets are relative to the zero
	move(dispatch.CmdMoveAbsolute, hardware.AxisX, 10, false)
	move(dispatch.CmdMoveRelative, hardware.AxisY, -5, false)
	assert.Equal(t, 10.0, pose(state.KeyXPos))
	assert.Equal(t, -5.0, pose(state.KeyYPos))
	raw, _ := h.scope.Position(hardware.AxisX)
	assert.Equal(t, 110.0, raw)

	// stage-frame moves ignore it
	move(dispatch.CmdMoveAbsolute, hardware.AxisY, 60, true)
	assert.Equal(t, 20.0, pose(state.KeyYPos))

	require.Equal(t, dispatch.EvtCommandHandled, zero(dispatch.CmdUnzeroAxes, hardware.AxisX, hardware.AxisY).Kind)
	assert.Equal(t, 110.0, pose(state.KeyXPos))
	assert.Equal(t, 60.0, pose(state.KeyYPos))

	assert.Equal(t, dispatch.EvtCommandRejected, zero(dispatch.CmdZeroAxes).Kind)
}

func TestRunHonoursZeroedAxes(t *testing.T) {
	h := newHarness(t, config.SimConfig{})

	cmd := dispatch.NewCommand(dispatch.CmdMoveAbsolute)
	cmd.Axis, cmd.Value = hardware.AxisZ, 500
	h.send(cmd)
	h.collect(terminal(cmd))

	zero := dispatch.NewCommand(dispatch.CmdZeroAxes)
	zero.Axes = []hardware.Axis{hardware.AxisZ}
	h.send(zero)
	h.collect(terminal(zero))

	run := h.send(startRun(entry(0, 3, 1)))
	events := h.collect(terminal(run))
	require.Equal(t, dispatch.EvtRunFinished, events[len(events)-1].Kind)

	z, _ := h.model.Get(state.KeyZPos)
	assert.Equal(t, 3.0, z)
	raw, _ := h.scope.Position(hardware.AxisZ)
	assert.Equal(t, 503.0, raw)
}
