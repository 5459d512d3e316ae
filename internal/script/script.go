// Package script runs acquisition scripts against the same command surface as
// the manual controls.
//
// A script is one command per line; blank lines and lines starting with # are
// skipped:
//
//	live | stop | run | wait | load_sample | unload_sample
//	move_rel <axis> <delta>
//	move_abs <axis> <value>
//	set <parameter> <value>
//	zero <axis>... | unzero <axis>...
//	sleep <duration>
package script

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

// Surface is the command set a script drives.
type Surface interface {
	GoLive() (uuid.UUID, error)
	Stop() (uuid.UUID, error)
	StartRun() (uuid.UUID, error)
	MoveRelative(axis hardware.Axis, delta float64) (uuid.UUID, error)
	MoveAbsolute(axis hardware.Axis, value float64) (uuid.UUID, error)
	RequestChange(changes map[string]any) (uuid.UUID, error)
	LoadSample() (uuid.UUID, error)
	UnloadSample() (uuid.UUID, error)
	ZeroAxes(axes ...hardware.Axis) (uuid.UUID, error)
	UnzeroAxes(axes ...hardware.Axis) (uuid.UUID, error)
	WaitIdle(ctx context.Context) error
}

var ErrSyntax = errors.New("syntax error")

// LineError locates a failure in a script.
type LineError struct {
	Line int
	Text string
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d (%q): %v", e.Line, e.Text, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

type step struct {
	line int
	text string
	run  func(ctx context.Context, s Surface) error
}

// Parse checks the whole script before anything is sent.
func Parse(text string) ([]step, error) {
	var steps []step
	for i, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		run, err := parseLine(line)
		if err != nil {
			return nil, &LineError{Line: i + 1, Text: line, Err: err}
		}
		steps = append(steps, step{line: i + 1, text: line, run: run})
	}
	return steps, nil
}

func ignoreID(_ uuid.UUID, err error) error { return err }

func parseLine(line string) (func(context.Context, Surface) error, error) {
	fields := strings.Fields(line)
	verb, args := strings.ToLower(fields[0]), fields[1:]

	noArgs := func(fn func(Surface) error) (func(context.Context, Surface) error, error) {
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: %s takes no arguments", ErrSyntax, verb)
		}
		return func(_ context.Context, s Surface) error { return fn(s) }, nil
	}

	switch verb {
	case "live":
		return noArgs(func(s Surface) error { return ignoreID(s.GoLive()) })
	case "stop":
		return noArgs(func(s Surface) error { return ignoreID(s.Stop()) })
	case "run":
		return noArgs(func(s Surface) error { return ignoreID(s.StartRun()) })
	case "load_sample":
		return noArgs(func(s Surface) error { return ignoreID(s.LoadSample()) })
	case "unload_sample":
		return noArgs(func(s Surface) error { return ignoreID(s.UnloadSample()) })

	case "wait":
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: wait takes no arguments", ErrSyntax)
		}
		return func(ctx context.Context, s Surface) error { return s.WaitIdle(ctx) }, nil

	case "move_rel", "move_abs":
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: %s <axis> <value>", ErrSyntax, verb)
		}
		axis, err := hardware.ParseAxis(args[0])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		if verb == "move_rel" {
			return func(_ context.Context, s Surface) error { return ignoreID(s.MoveRelative(axis, v)) }, nil
		}
		return func(_ context.Context, s Surface) error { return ignoreID(s.MoveAbsolute(axis, v)) }, nil

	case "zero", "unzero":
		axes, err := hardware.ParseAxes(args)
		if err != nil {
			return nil, fmt.Errorf("%w: %s <axis>...: %v", ErrSyntax, verb, err)
		}
		if verb == "unzero" {
			return func(_ context.Context, s Surface) error { return ignoreID(s.UnzeroAxes(axes...)) }, nil
		}
		return func(_ context.Context, s Surface) error { return ignoreID(s.ZeroAxes(axes...)) }, nil

	case "set":
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: set <parameter> <value>", ErrSyntax)
		}
		key := args[0]
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[len(fields[0]):]), key))
		v, err := parseValue(rest)
		if err != nil {
			return nil, err
		}
		return func(_ context.Context, s Surface) error {
			return ignoreID(s.RequestChange(map[string]any{key: v}))
		}, nil

	case "sleep":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: sleep <duration>", ErrSyntax)
		}
		d, err := time.ParseDuration(args[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return func(ctx context.Context, _ Surface) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}, nil
	}

	return nil, fmt.Errorf("%w: unknown command %q", ErrSyntax, verb)
}

// parseValue reads numbers, booleans and quoted strings; anything else is
// taken verbatim, so option names with spaces need no quotes.
func parseValue(s string) (any, error) {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f, nil
	}
	switch s {
	case "true":
		return true, nil
	case "false":
		return false, nil
	}
	if strings.HasPrefix(s, `"`) {
		u, err := strconv.Unquote(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return u, nil
	}
	return s, nil
}

// Execute parses and runs a script, stopping at the first failing line.
func Execute(ctx context.Context, s Surface, text string) (int, error) {
	steps, err := Parse(text)
	if err != nil {
		return 0, err
	}
	for i, st := range steps {
		if err := st.run(ctx, s); err != nil {
			return i, &LineError{Line: st.line, Text: st.text, Err: err}
		}
	}
	return len(steps), nil
}
