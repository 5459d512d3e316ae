// Package hardware defines the driver interfaces the controller sequences.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

type Axis string

const (
	AxisX     Axis = "x"
	AxisY     Axis = "y"
	AxisZ     Axis = "z"
	AxisF     Axis = "f"
	AxisTheta Axis = "theta"
)

// Axes in the order a waypoint move visits them.
var Axes = []Axis{AxisX, AxisY, AxisZ, AxisTheta, AxisF}

// StateKey is the read-only state parameter mirroring the axis position.
func (a Axis) StateKey() string {
	return string(a) + "_pos"
}

func ParseAxis(s string) (Axis, error) {
	switch a := Axis(strings.ToLower(strings.TrimSuffix(s, "_pos"))); a {
	case AxisX, AxisY, AxisZ, AxisF, AxisTheta:
		return a, nil
	}
	return "", fmt.Errorf("unknown axis %q", s)
}

// ParseAxes reads a list of axis names. "xy" names both lateral axes.
func ParseAxes(names []string) ([]Axis, error) {
	var out []Axis
	add := func(a Axis) {
		if !slices.Contains(out, a) {
			out = append(out, a)
		}
	}
	for _, name := range names {
		if strings.EqualFold(name, "xy") {
			add(AxisX)
			add(AxisY)
			continue
		}
		a, err := ParseAxis(name)
		if err != nil {
			return nil, err
		}
		add(a)
	}
	if len(out) == 0 {
		return nil, errors.New("no axes given")
	}
	return out, nil
}

// Frame is one 16-bit camera image.
type Frame struct {
	Width     int
	Height    int
	Pixels    []uint16
	Timestamp time.Time
}

// Stage moves the sample. Move calls block until the motion is complete,
// halted or failed.
type Stage interface {
	MoveAbsolute(ctx context.Context, axis Axis, value float64) error
	MoveRelative(ctx context.Context, axis Axis, delta float64) error
	Position(axis Axis) (float64, error)
	// Halt stops all motion; pending moves return ErrHalted.
	Halt() error
}

// ParameterSink receives optical and waveform parameters. Sinks ignore
// parameters they do not handle.
type ParameterSink interface {
	SetParameter(ctx context.Context, name string, value any) error
}

type Camera interface {
	CapturePlane(ctx context.Context) (Frame, error)
}

// Display consumes frames for live preview. It must not block.
type Display interface {
	ShowFrame(f Frame)
}

var ErrHalted = errors.New("motion halted")

// FaultError is a failure reported by a device driver.
type FaultError struct {
	Device string
	Op     string
	Err    error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Device, e.Op, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// Fault wraps err as a FaultError unless it already is one.
func Fault(device, op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *FaultError
	if errors.As(err, &fe) {
		return err
	}
	return &FaultError{Device: device, Op: op, Err: err}
}
