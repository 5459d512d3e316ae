package storage

import (
	"time"

	"github.com/google/uuid"
)

const RunStatusRunning = "running"

// RunRecord is one row of the acquisition run history. Status is running
// until the run ends, then the run's end reason.
type RunRecord struct {
	ID             uuid.UUID  `json:"id"`
	CommandID      uuid.UUID  `json:"command_id"`
	Status         string     `json:"status"`
	TotalAcqs      int        `json:"total_acqs"`
	TotalImages    int        `json:"total_images"`
	ImagesAcquired int        `json:"images_acquired"`
	Error          string     `json:"error,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}
