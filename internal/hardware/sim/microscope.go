// Package sim is a simulated microscope: a five-axis stage, a parameter
// register bank and a camera producing deterministic frames.
package sim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

// Operation names used for the call log and fault injection.
const (
	OpMoveAbsolute = "move_absolute"
	OpMoveRelative = "move_relative"
	OpCapture      = "capture"
	OpSetParameter = "set_parameter"
	OpHalt         = "halt"
)

var ErrInjected = errors.New("injected fault")

// Call is one recorded driver invocation.
type Call struct {
	Op    string
	Axis  hardware.Axis
	Value float64
	Name  string
	Param any
}

type fault struct {
	after int
	err   error
}

type Microscope struct {
	mu     sync.Mutex
	pos    map[hardware.Axis]float64
	params map[string]any
	calls  []Call
	counts map[string]int
	faults map[string]fault
	frames int
	halt   chan struct{}

	speed       float64
	width       int
	height      int
	captureTime time.Duration
}

func New(cfg config.SimConfig) *Microscope {
	w, h := cfg.FrameWidth, cfg.FrameHeight
	if w <= 0 {
		w = 64
	}
	if h <= 0 {
		h = 64
	}
	return &Microscope{
		pos:         make(map[hardware.Axis]float64),
		params:      make(map[string]any),
		counts:      make(map[string]int),
		faults:      make(map[string]fault),
		halt:        make(chan struct{}),
		speed:       cfg.StageSpeed,
		width:       w,
		height:      h,
		captureTime: cfg.CaptureTime,
	}
}

// InjectFault makes op fail with err once it has succeeded after times.
// A nil err injects ErrInjected.
func (m *Microscope) InjectFault(op string, after int, err error) {
	if err == nil {
		err = ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = fault{after: after, err: err}
}

func (m *Microscope) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.faults)
}

// Calls returns the call log.
func (m *Microscope) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

func (m *Microscope) Parameters() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.params)
}

// record logs the call and returns the injected fault, if any. Callers hold mu.
func (m *Microscope) record(c Call) error {
	m.calls = append(m.calls, c)
	if f, ok := m.faults[c.Op]; ok && m.counts[c.Op] >= f.after {
		delete(m.faults, c.Op)
		return hardware.Fault("sim", c.Op, f.err)
	}
	m.counts[c.Op]++
	return nil
}

func (m *Microscope) MoveAbsolute(ctx context.Context, axis hardware.Axis, value float64) error {
	m.mu.Lock()
	if err := m.record(Call{Op: OpMoveAbsolute, Axis: axis, Value: value}); err != nil {
		m.mu.Unlock()
		return err
	}
	from, halt := m.pos[axis], m.halt
	m.mu.Unlock()

	return m.travel(ctx, halt, axis, from, value)
}

func (m *Microscope) MoveRelative(ctx context.Context, axis hardware.Axis, delta float64) error {
	m.mu.Lock()
	if err := m.record(Call{Op: OpMoveRelative, Axis: axis, Value: delta}); err != nil {
		m.mu.Unlock()
		return err
	}
	from, halt := m.pos[axis], m.halt
	m.mu.Unlock()

	return m.travel(ctx, halt, axis, from, from+delta)
}

// travel waits out the motion. halt is the channel current when the move was
// accepted, so a Halt issued any time after that stops it.
func (m *Microscope) travel(ctx context.Context, halt <-chan struct{}, axis hardware.Axis, from, to float64) error {
	if math.IsNaN(to) || math.IsInf(to, 0) {
		return hardware.Fault("sim", "move", fmt.Errorf("invalid target %v", to))
	}

	if m.speed > 0 && from != to {
		d := time.Duration(math.Abs(to-from) / m.speed * float64(time.Second))
		start := time.Now()
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-halt:
			m.stopAt(axis, from, to, time.Since(start), d)
			return hardware.ErrHalted
		case <-ctx.Done():
			m.stopAt(axis, from, to, time.Since(start), d)
			return ctx.Err()
		}
	}

	m.mu.Lock()
	m.pos[axis] = to
	m.mu.Unlock()
	return nil
}

func (m *Microscope) stopAt(axis hardware.Axis, from, to float64, elapsed, total time.Duration) {
	frac := math.Min(1, float64(elapsed)/float64(total))
	m.mu.Lock()
	m.pos[axis] = from + (to-from)*frac
	m.mu.Unlock()
}

func (m *Microscope) Position(axis hardware.Axis) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos[axis], nil
}

func (m *Microscope) Halt() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpHalt}); err != nil {
		return err
	}
	close(m.halt)
	m.halt = make(chan struct{})
	return nil
}

func (m *Microscope) SetParameter(ctx context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(Call{Op: OpSetParameter, Name: name, Param: value}); err != nil {
		return err
	}
	m.params[name] = value
	return nil
}

// CapturePlane returns a gradient frame whose offset encodes the z position
// and the frame number.
func (m *Microscope) CapturePlane(ctx context.Context) (hardware.Frame, error) {
	m.mu.Lock()
	if err := m.record(Call{Op: OpCapture}); err != nil {
		m.mu.Unlock()
		return hardware.Frame{}, err
	}
	m.frames++
	seq := m.frames
	z := m.pos[hardware.AxisZ]
	m.mu.Unlock()

	if m.captureTime > 0 {
		t := time.NewTimer(m.captureTime)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return hardware.Frame{}, ctx.Err()
		}
	}

	base := uint16(int(z)*7 + seq)
	pixels := make([]uint16, m.width*m.height)
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			pixels[y*m.width+x] = base + uint16(x+y)
		}
	}

	return hardware.Frame{
		Width:     m.width,
		Height:    m.height,
		Pixels:    pixels,
		Timestamp: time.Now(),
	}, nil
}
