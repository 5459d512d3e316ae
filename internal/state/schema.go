package state

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
)

type Kind string

const (
	KindFloat  Kind = "float"
	KindInt    Kind = "int"
	KindString Kind = "string"
	KindEnum   Kind = "enum"
	KindBool   Kind = "bool"
)

// Keys written only by the controller.
const (
	KeyState    = "state"
	KeyXPos     = "x_pos"
	KeyYPos     = "y_pos"
	KeyZPos     = "z_pos"
	KeyFPos     = "f_pos"
	KeyThetaPos = "theta_pos"
)

// Modes of the controller, the values of KeyState.
var Modes = []string{"idle", "live", "moving", "running"}

var (
	ErrUnknownKey   = errors.New("unknown parameter")
	ErrTypeMismatch = errors.New("type mismatch")
	ErrNotAnOption  = errors.New("value not in option set")
	ErrOutOfRange   = errors.New("value out of range")
	ErrNotFinite    = errors.New("value not finite")
	ErrReadOnly     = errors.New("parameter is read-only")
)

// Param describes the type and the permitted values of one parameter.
type Param struct {
	Name     string
	Kind     Kind
	Options  []string
	Min      *float64
	Max      *float64
	ReadOnly bool
}

type Schema map[string]Param

// Coerce checks v against the parameter and returns it in its canonical Go
// type: float64, int, string or bool.
func (p Param) Coerce(v any) (any, error) {
	switch p.Kind {
	case KindFloat:
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a number, got %T", ErrTypeMismatch, p.Name, v)
		}
		if err := p.checkRange(f); err != nil {
			return nil, err
		}
		return f, nil

	case KindInt:
		f, ok := ToFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects an integer, got %T", ErrTypeMismatch, p.Name, v)
		}
		if err := p.checkRange(f); err != nil {
			return nil, err
		}
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s expects an integer, got %v", ErrTypeMismatch, p.Name, v)
		}
		// float64(math.MaxInt) rounds up to a value int cannot hold
		if f < math.MinInt || f >= math.MaxInt {
			return nil, fmt.Errorf("%w: %s=%v exceeds the integer range", ErrOutOfRange, p.Name, v)
		}
		return int(f), nil

	case KindString, KindEnum:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a string, got %T", ErrTypeMismatch, p.Name, v)
		}
		if p.Kind == KindEnum && !slices.Contains(p.Options, s) {
			return nil, fmt.Errorf("%w: %s=%q (allowed: %v)", ErrNotAnOption, p.Name, s, p.Options)
		}
		return s, nil

	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a bool, got %T", ErrTypeMismatch, p.Name, v)
		}
		return b, nil
	}

	return nil, fmt.Errorf("%s: unsupported kind %q", p.Name, p.Kind)
}

func (p Param) checkRange(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%w: %s=%v", ErrNotFinite, p.Name, f)
	}
	if p.Min != nil && f < *p.Min {
		return fmt.Errorf("%w: %s=%v below %v", ErrOutOfRange, p.Name, f, *p.Min)
	}
	if p.Max != nil && f > *p.Max {
		return fmt.Errorf("%w: %s=%v above %v", ErrOutOfRange, p.Name, f, *p.Max)
	}
	return nil
}

// ToFloat widens any Go numeric type to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// SchemaFromConfig builds the schema and the startup values from the
// microscope configuration. The controller keys (state and the stage pose)
// are always present.
func SchemaFromConfig(cfg config.MicroscopeConfig) (Schema, map[string]any, error) {
	schema := Schema{
		KeyState: {Name: KeyState, Kind: KindEnum, Options: Modes, ReadOnly: true},
	}
	initial := map[string]any{KeyState: "idle"}

	for _, key := range []string{KeyXPos, KeyYPos, KeyZPos, KeyFPos, KeyThetaPos} {
		schema[key] = Param{Name: key, Kind: KindFloat, ReadOnly: true}
		initial[key] = 0.0
	}

	for name, pc := range cfg.Parameters {
		if _, reserved := schema[name]; reserved {
			return nil, nil, fmt.Errorf("parameter %q is reserved", name)
		}

		kind := Kind(pc.Type)
		switch kind {
		case KindFloat, KindInt, KindString, KindBool:
		case KindEnum:
			if len(pc.Options) == 0 {
				return nil, nil, fmt.Errorf("parameter %q: enum without options", name)
			}
		default:
			return nil, nil, fmt.Errorf("parameter %q: unknown type %q", name, pc.Type)
		}

		schema[name] = Param{
			Name:    name,
			Kind:    kind,
			Options: pc.Options,
			Min:     pc.Min,
			Max:     pc.Max,
		}
		initial[name] = pc.Default
	}

	return schema, initial, nil
}
