// Package acquisition describes imaging tasks: single z-stack entries and the
// ordered list a run executes.
package acquisition

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

var (
	ErrZeroStep     = errors.New("z_step must not be zero")
	ErrUnknownField = errors.New("unknown entry field")
	ErrFieldType    = errors.New("invalid field value")
	ErrFilename     = errors.New("filename must be a plain file name")
)

// Entry is one z-stack capture at a fixed x/y/rotation/focus position with a
// fixed optical configuration.
type Entry struct {
	XPos      float64 `json:"x_pos" yaml:"x_pos"`
	YPos      float64 `json:"y_pos" yaml:"y_pos"`
	ZStart    float64 `json:"z_start" yaml:"z_start"`
	ZEnd      float64 `json:"z_end" yaml:"z_end"`
	ZStep     float64 `json:"z_step" yaml:"z_step"`
	Rot       float64 `json:"rot" yaml:"rot"`
	FPos      float64 `json:"f_pos" yaml:"f_pos"`
	Laser     string  `json:"laser" yaml:"laser"`
	Intensity int     `json:"intensity" yaml:"intensity"`
	Filter    string  `json:"filter" yaml:"filter"`
	Zoom      string  `json:"zoom" yaml:"zoom"`
	Shutter   string  `json:"shutter" yaml:"shutter"`
	Filename  string  `json:"filename" yaml:"filename"`
}

// Point is a spatial target for all five stage axes.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Theta float64 `json:"theta"`
	F     float64 `json:"f"`
}

// fieldNames in table order.
var fieldNames = []string{
	"x_pos", "y_pos", "z_start", "z_end", "z_step", "rot", "f_pos",
	"laser", "intensity", "filter", "zoom", "shutter", "filename",
}

func NewEntry() Entry {
	return Entry{
		ZEnd:    100,
		ZStep:   1,
		Laser:   "488 nm",
		Filter:  "515LP",
		Zoom:    "1x",
		Shutter: "Left",
	}
}

// ImageCount is the number of planes, |z_end - z_start| / |z_step| truncated
// toward zero.
func (e Entry) ImageCount() int {
	if e.ZStep == 0 {
		return 0
	}
	return int(math.Abs(math.Trunc((e.ZEnd - e.ZStart) / e.ZStep)))
}

// Duration is the acquisition time given the per-plane sweep time.
func (e Entry) Duration(sweep time.Duration) time.Duration {
	return sweep * time.Duration(e.ImageCount())
}

// ZIncrement is the signed per-plane z move.
func (e Entry) ZIncrement() float64 {
	if e.ZEnd > e.ZStart {
		return math.Abs(e.ZStep)
	}
	return -math.Abs(e.ZStep)
}

func (e Entry) StartPoint() Point {
	return Point{X: e.XPos, Y: e.YPos, Z: e.ZStart, Theta: e.Rot, F: e.FPos}
}

func (e Entry) EndPoint() Point {
	return Point{X: e.XPos, Y: e.YPos, Z: e.ZEnd, Theta: e.Rot, F: e.FPos}
}

func (e Entry) MidPoint() Point {
	return Point{X: e.XPos, Y: e.YPos, Z: e.ZStart + (e.ZEnd-e.ZStart)/2, Theta: e.Rot, F: e.FPos}
}

// Optics returns the state parameters an entry configures before its first
// plane. The entry's shutter maps onto the shutterconfig parameter.
func (e Entry) Optics() map[string]any {
	return map[string]any{
		"filter":        e.Filter,
		"zoom":          e.Zoom,
		"laser":         e.Laser,
		"intensity":     e.Intensity,
		"shutterconfig": e.Shutter,
	}
}

func (e Entry) Validate() error {
	if e.ZStep == 0 {
		return ErrZeroStep
	}
	for _, f := range []float64{e.XPos, e.YPos, e.ZStart, e.ZEnd, e.ZStep, e.Rot, e.FPos} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite coordinate", ErrFieldType)
		}
	}
	if e.Intensity < 0 || e.Intensity > 100 {
		return fmt.Errorf("%w: intensity %d outside 0-100", ErrFieldType, e.Intensity)
	}
	return CheckFilename(e.Filename)
}

// CheckFilename accepts an empty name or a single path element that stays
// inside the output directory.
func CheckFilename(name string) error {
	if name == "" {
		return nil
	}
	if strings.ContainsAny(name, `/\`) || name == "." || !filepath.IsLocal(name) {
		return fmt.Errorf("%w: %q", ErrFilename, name)
	}
	return nil
}

// Fields lists the editable field names in table order.
func Fields() []string {
	return append([]string(nil), fieldNames...)
}

// Header returns the capitalized field names for use as a table header.
func Header() []string {
	h := make([]string, len(fieldNames))
	for i, name := range fieldNames {
		h[i] = strings.ToUpper(name[:1]) + name[1:]
	}
	return h
}

// Get returns a field value by name.
func (e Entry) Get(field string) (any, error) {
	switch field {
	case "x_pos":
		return e.XPos, nil
	case "y_pos":
		return e.YPos, nil
	case "z_start":
		return e.ZStart, nil
	case "z_end":
		return e.ZEnd, nil
	case "z_step":
		return e.ZStep, nil
	case "rot":
		return e.Rot, nil
	case "f_pos":
		return e.FPos, nil
	case "laser":
		return e.Laser, nil
	case "intensity":
		return e.Intensity, nil
	case "filter":
		return e.Filter, nil
	case "zoom":
		return e.Zoom, nil
	case "shutter":
		return e.Shutter, nil
	case "filename":
		return e.Filename, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
}

// Set edits one field by name. Numbers may arrive as any numeric type.
func (e *Entry) Set(field string, value any) error {
	switch field {
	case "x_pos", "y_pos", "z_start", "z_end", "z_step", "rot", "f_pos":
		f, ok := state.ToFloat(value)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %s=%v", ErrFieldType, field, value)
		}
		if field == "z_step" && f == 0 {
			return ErrZeroStep
		}
		*e.floatField(field) = f
		return nil

	case "intensity":
		f, ok := state.ToFloat(value)
		if !ok || f != math.Trunc(f) || f < 0 || f > 100 {
			return fmt.Errorf("%w: intensity=%v", ErrFieldType, value)
		}
		e.Intensity = int(f)
		return nil

	case "laser", "filter", "zoom", "shutter", "filename":
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s=%v", ErrFieldType, field, value)
		}
		if field == "filename" {
			if err := CheckFilename(s); err != nil {
				return err
			}
		}
		*e.stringField(field) = s
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, field)
}

func (e *Entry) floatField(field string) *float64 {
	switch field {
	case "x_pos":
		return &e.XPos
	case "y_pos":
		return &e.YPos
	case "z_start":
		return &e.ZStart
	case "z_end":
		return &e.ZEnd
	case "z_step":
		return &e.ZStep
	case "rot":
		return &e.Rot
	}
	return &e.FPos
}

func (e *Entry) stringField(field string) *string {
	switch field {
	case "laser":
		return &e.Laser
	case "filter":
		return &e.Filter
	case "zoom":
		return &e.Zoom
	case "shutter":
		return &e.Shutter
	}
	return &e.Filename
}
