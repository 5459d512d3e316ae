package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
)

type CommandKind string

const (
	CmdGoLive        CommandKind = "go_live"
	CmdStop          CommandKind = "stop"
	CmdStartRun      CommandKind = "start_run"
	CmdMoveRelative  CommandKind = "move_relative"
	CmdMoveAbsolute  CommandKind = "move_absolute"
	CmdChangeRequest CommandKind = "change_request"
	CmdZeroAxes      CommandKind = "zero_axes"
	CmdUnzeroAxes    CommandKind = "unzero_axes"
)

// Command is one message from the issuing side. Only the fields of its Kind
// are set.
type Command struct {
	ID      uuid.UUID           `json:"id"`
	Kind    CommandKind         `json:"kind"`
	Axis    hardware.Axis       `json:"axis,omitempty"`
	Axes    []hardware.Axis     `json:"axes,omitempty"`
	Value   float64             `json:"value,omitempty"`
	Changes map[string]any      `json:"changes,omitempty"`
	List    []acquisition.Entry `json:"list,omitempty"`
	// StageFrame moves in raw stage coordinates, ignoring zeroed axes.
	StageFrame bool `json:"stage_frame,omitempty"`
}

func NewCommand(kind CommandKind) Command {
	return Command{ID: uuid.New(), Kind: kind}
}

type EventKind string

const (
	EvtStateChanged    EventKind = "state_changed"
	EvtProgress        EventKind = "progress"
	EvtRunStarted      EventKind = "run_started"
	EvtRunFinished     EventKind = "run_finished"
	EvtRunAborted      EventKind = "run_aborted"
	EvtCommandRejected EventKind = "command_rejected"
	EvtCommandHandled  EventKind = "command_handled"
	EvtHardwareFault   EventKind = "hardware_fault"
)

// Progress counters of a running acquisition.
type Progress struct {
	CurrentAcq        int `json:"current_acq"`
	TotalAcqs         int `json:"total_acqs"`
	CurrentImageInAcq int `json:"current_image_in_acq"`
	ImagesInAcq       int `json:"images_in_acq"`
	TotalImageCount   int `json:"total_image_count"`
	ImageCounter      int `json:"image_counter"`
}

type RunReason string

const (
	RunCompleted RunReason = "completed"
	RunCancelled RunReason = "cancelled"
	RunAborted   RunReason = "aborted"
)

type RunResult struct {
	RunID          uuid.UUID `json:"run_id"`
	CommandID      uuid.UUID `json:"command_id"`
	Reason         RunReason `json:"reason"`
	ImagesAcquired int       `json:"images_acquired"`
	Error          string    `json:"error,omitempty"`
}

// Event is one message from the controller.
type Event struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	RunID     uuid.UUID      `json:"run_id,omitempty"`
	CommandID uuid.UUID      `json:"command_id,omitempty"`
	State     state.Snapshot `json:"state,omitempty"`
	Progress  *Progress      `json:"progress,omitempty"`
	Run       *RunResult     `json:"run,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

func NewEvent(kind EventKind) Event {
	return Event{Kind: kind, Timestamp: time.Now()}
}

// Channel is the pair of mailboxes between the two sides.
type Channel struct {
	Commands *Mailbox[Command]
	Events   *Mailbox[Event]
}

func NewChannel() *Channel {
	return &Channel{
		Commands: NewMailbox[Command](),
		Events:   NewMailbox[Event](),
	}
}

func (c *Channel) Close() {
	c.Commands.Close()
	c.Events.Close()
}
