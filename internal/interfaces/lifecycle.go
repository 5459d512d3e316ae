package interfaces

import (
	"context"

	"github.com/google/uuid"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/script"
	"github.com/KevinKickass/OpenSPIMCore/internal/storage"
)

// SystemStatus represents the current system state
type SystemStatus struct {
	State            string `json:"state"`
	Microscope       string `json:"microscope"`
	ConnectedClients int    `json:"connected_clients"`
	RunHistory       bool   `json:"run_history"`
}

// RunHistory is the read side of the stored run log.
type RunHistory interface {
	ListRuns(ctx context.Context, limit int) ([]storage.RunRecord, error)
	GetRun(ctx context.Context, id uuid.UUID) (*storage.RunRecord, error)
}

type LifecycleManager interface {
	Config() *config.Config
	Panel() *panel.Panel
	Scripts() *script.Registry
	// RunHistory is nil when no database is configured.
	RunHistory() RunHistory
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
