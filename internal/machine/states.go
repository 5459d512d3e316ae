package machine

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateIdle    State = "idle"
	StateLive    State = "live"
	StateMoving  State = "moving"
	StateRunning State = "running"
)

type Status struct {
	State           State     `json:"state"`
	RunID           uuid.UUID `json:"run_id,omitempty"`
	LastStateChange time.Time `json:"last_state_change"`
}
