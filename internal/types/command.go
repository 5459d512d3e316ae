package types

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

var ErrUnknownCommand = errors.New("unknown command")

// Commander is the issuing surface external front ends drive.
type Commander interface {
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
}

// CommandRequest is the wire form of a command shared by REST, websocket and
// gRPC clients.
type CommandRequest struct {
	Command string         `json:"command"`
	Axis    string         `json:"axis,omitempty"`
	Axes    []string       `json:"axes,omitempty"`
	Value   float64        `json:"value,omitempty"`
	Changes map[string]any `json:"changes,omitempty"`
}

type CommandResponse struct {
	CommandID uuid.UUID `json:"command_id"`
	Command   string    `json:"command"`
}

// Issue submits the request and returns the command id.
func (r CommandRequest) Issue(c Commander) (uuid.UUID, error) {
	switch r.Command {
	case "go_live", "live":
		return c.GoLive()
	case "stop":
		return c.Stop()
	case "start_run", "run":
		return c.StartRun()
	case "load_sample":
		return c.LoadSample()
	case "unload_sample":
		return c.UnloadSample()
	case "change_request", "set":
		if len(r.Changes) == 0 {
			return uuid.Nil, fmt.Errorf("%s: no changes given", r.Command)
		}
		return c.RequestChange(r.Changes)
	case "move_relative", "move_absolute":
		axis, err := hardware.ParseAxis(r.Axis)
		if err != nil {
			return uuid.Nil, err
		}
		if r.Command == "move_relative" {
			return c.MoveRelative(axis, r.Value)
		}
		return c.MoveAbsolute(axis, r.Value)
	case "zero_axes", "zero", "unzero_axes", "unzero":
		names := r.Axes
		if len(names) == 0 && r.Axis != "" {
			names = []string{r.Axis}
		}
		axes, err := hardware.ParseAxes(names)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%s: %w", r.Command, err)
		}
		if strings.HasPrefix(r.Command, "unzero") {
			return c.UnzeroAxes(axes...)
		}
		return c.ZeroAxes(axes...)
	}
	return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownCommand, r.Command)
}
