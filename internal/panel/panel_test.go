package panel

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware/sim"
	"github.com/KevinKickass/OpenSPIMCore/internal/machine"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

type fixture struct {
	panel *Panel
	scope *sim.Microscope
	runs  chan dispatch.Event
}

func newFixture(t *testing.T, simCfg config.SimConfig) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Microscope.UnloadPosition = 500

	schema, initial, err := state.SchemaFromConfig(cfg.Microscope)
	require.NoError(t, err)
	model, err := state.NewModel(schema, initial, zap.NewNop())
	require.NoError(t, err)

	scope := sim.New(simCfg)
	ch := dispatch.NewChannel()
	ctrl := machine.NewController(zap.NewNop(), model, ch, hardware.NewRig(scope, scope, zap.NewNop(), scope), nil, 1000)
	p := New(zap.NewNop(), ch, cfg.Microscope, model.Snapshot())

	f := &fixture{panel: p, scope: scope, runs: make(chan dispatch.Event, 16)}
	p.OnEvent(func(ev dispatch.Event) {
		if ev.Kind == dispatch.EvtRunFinished || ev.Kind == dispatch.EvtRunAborted {
			f.runs <- ev
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); ctrl.Run(ctx) }()
	go func() { defer wg.Done(); p.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return f
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, f.panel.WaitIdle(ctx))
}

func (f *fixture) nextRun(t *testing.T) dispatch.Event {
	t.Helper()
	select {
	case ev := <-f.runs:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("run did not finish")
	}
	return dispatch.Event{}
}

func stack(zStart, zEnd, zStep float64) acquisition.Entry {
	e := acquisition.NewEntry()
	e.ZStart, e.ZEnd, e.ZStep = zStart, zEnd, zStep
	return e
}

func TestRunLocksList(t *testing.T) {
	f := newFixture(t, config.SimConfig{CaptureTime: 10 * time.Millisecond})
	require.NoError(t, f.panel.ReplaceList([]acquisition.Entry{stack(0, 30, 10), stack(0, 20, 5)}))

	_, err := f.panel.StartRun()
	require.NoError(t, err)

	assert.ErrorIs(t, f.panel.AddEntry(acquisition.NewEntry()), acquisition.ErrListLocked)
	_, err = f.panel.StartRun()
	assert.ErrorIs(t, err, acquisition.ErrListLocked)

	ev := f.nextRun(t)
	assert.Equal(t, dispatch.RunCompleted, ev.Run.Reason)
	f.waitIdle(t)

	st, err := f.panel.Status()
	require.NoError(t, err)
	assert.False(t, st.ListLocked)
	require.NotNil(t, st.Progress)
	assert.Equal(t, 6, st.Progress.ImageCounter)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 7, st.LastRun.ImagesAcquired)
	assert.Equal(t, "idle", st.State.String(state.KeyState))

	require.NoError(t, f.panel.AddEntry(acquisition.NewEntry()))
}

func TestStopMakesListMutable(t *testing.T) {
	f := newFixture(t, config.SimConfig{CaptureTime: 5 * time.Millisecond})
	require.NoError(t, f.panel.ReplaceList([]acquisition.Entry{stack(0, 500, 1)}))

	_, err := f.panel.StartRun()
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		st, _ := f.panel.Status()
		return st.Progress != nil && st.Progress.ImageCounter >= 1
	}, 5*time.Second, time.Millisecond)

	_, err = f.panel.Stop()
	require.NoError(t, err)

	ev := f.nextRun(t)
	assert.Equal(t, dispatch.RunCancelled, ev.Run.Reason)

	// the run-finished event has been handled before listeners see it
	require.NoError(t, f.panel.UpdateEntry(0, map[string]any{"z_end": 10}))
	entries, locked, err := f.panel.List()
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 10, entries[0].ImageCount())
}

func TestRejectedRunUnlocksList(t *testing.T) {
	f := newFixture(t, config.SimConfig{})
	require.NoError(t, f.panel.UpdateEntry(0, map[string]any{"filter": "not-a-real-filter"}))

	_, err := f.panel.StartRun()
	require.NoError(t, err)
	f.waitIdle(t)

	_, locked, err := f.panel.List()
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestSummary(t *testing.T) {
	f := newFixture(t, config.SimConfig{})
	require.NoError(t, f.panel.ReplaceList([]acquisition.Entry{stack(0, 30, 10), stack(0, 20, 5)}))

	s, err := f.panel.Summary()
	require.NoError(t, err)
	assert.Equal(t, 2, s.Entries)
	assert.Equal(t, 7, s.TotalImageCount)
	assert.InDelta(t, 1.4, s.TotalSeconds, 1e-9)

	_, err = f.panel.RequestChange(map[string]any{"sweeptime": 1.0})
	require.NoError(t, err)
	f.waitIdle(t)

	s, err = f.panel.Summary()
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, s.TotalTime)
}

func TestSampleLoading(t *testing.T) {
	f := newFixture(t, config.SimConfig{})

	_, err := f.panel.UnloadSample()
	require.NoError(t, err)
	f.waitIdle(t)

	st, _ := f.panel.Status()
	assert.Equal(t, 500.0, st.State.Float(state.KeyYPos))

	_, err = f.panel.LoadSample()
	require.NoError(t, err)
	f.waitIdle(t)

	st, _ = f.panel.Status()
	assert.Equal(t, 0.0, st.State.Float(state.KeyYPos))
}

func TestZeroedAxesAndSampleLoading(t *testing.T) {
	f := newFixture(t, config.SimConfig{})

	_, err := f.panel.MoveAbsolute(hardware.AxisY, 100)
	require.NoError(t, err)
	_, err = f.panel.ZeroAxes(hardware.AxisY)
	require.NoError(t, err)
	f.waitIdle(t)

	st, _ := f.panel.Status()
	assert.Equal(t, 0.0, st.State.Float(state.KeyYPos))

	// the unload position is a stage coordinate
	_, err = f.panel.UnloadSample()
	require.NoError(t, err)
	f.waitIdle(t)
	st, _ = f.panel.Status()
	assert.Equal(t, 400.0, st.State.Float(state.KeyYPos))

	_, err = f.panel.UnzeroAxes(hardware.AxisY)
	require.NoError(t, err)
	f.waitIdle(t)
	st, _ = f.panel.Status()
	assert.Equal(t, 500.0, st.State.Float(state.KeyYPos))
}

func TestSaveAndLoadList(t *testing.T) {
	f := newFixture(t, config.SimConfig{})
	path := filepath.Join(t.TempDir(), "list.yaml")

	require.NoError(t, f.panel.ReplaceList([]acquisition.Entry{stack(0, 30, 10), stack(5, 5, 1)}))
	require.NoError(t, f.panel.SaveList(path))
	require.NoError(t, f.panel.ReplaceList([]acquisition.Entry{stack(0, 1, 1)}))
	require.NoError(t, f.panel.LoadList(path))

	entries, _, err := f.panel.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 3, entries[0].ImageCount())
	assert.Equal(t, 0, entries[1].ImageCount())
}

// echoControl reports every programmatic update back as an edit, like a
// widget whose change signal is not blocked.
type echoControl struct {
	key  string
	mu   sync.Mutex
	last any
	edit func(any)
}

func (c *echoControl) Key() string { return c.key }

func (c *echoControl) SetValue(v any) {
	c.mu.Lock()
	c.last = v
	edit := c.edit
	c.mu.Unlock()
	if edit != nil {
		edit(v)
	}
}

func (c *echoControl) value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func TestControlsRefreshWithoutEcho(t *testing.T) {
	f := newFixture(t, config.SimConfig{})

	ctl := &echoControl{key: "zoom"}
	edit, err := f.panel.Bind(ctl)
	require.NoError(t, err)
	assert.Equal(t, "1x", ctl.value())

	ctl.mu.Lock()
	ctl.edit = edit
	ctl.mu.Unlock()

	// a user edit turns into a change request and comes back as a refresh
	edit("2x")
	f.waitIdle(t)
	assert.Equal(t, "2x", ctl.value())

	// the refresh echo was dropped, so no command is left in flight
	st, err := f.panel.Status()
	require.NoError(t, err)
	assert.Zero(t, st.Outstanding)
	assert.False(t, f.panel.suspended.Load())
}

func TestSuspendReenablesAfterPanic(t *testing.T) {
	p := New(zap.NewNop(), dispatch.NewChannel(), config.MicroscopeConfig{}, state.Snapshot{})

	assert.Panics(t, func() {
		p.withSuspended(func() { panic("widget failure") })
	})
	assert.False(t, p.suspended.Load())
}

func TestProgressView(t *testing.T) {
	v := NewProgressView(dispatch.Progress{
		CurrentAcq:        1,
		TotalAcqs:         2,
		CurrentImageInAcq: 1,
		ImagesInAcq:       4,
		TotalImageCount:   7,
		ImageCounter:      4,
	})

	assert.Equal(t, 50, v.AcquisitionPercent)
	assert.Equal(t, "50% (Image 2/4)", v.AcquisitionLabel)
	assert.Equal(t, 71, v.TotalPercent)
	assert.Equal(t, "71% (Acquisition 2/2) (Image 4/7)", v.TotalLabel)
}

func TestPanelStopped(t *testing.T) {
	p := New(zap.NewNop(), dispatch.NewChannel(), config.MicroscopeConfig{}, state.Snapshot{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.Run(ctx))

	_, err := p.GoLive()
	assert.ErrorIs(t, err, ErrStopped)
}
