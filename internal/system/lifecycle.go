package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/KevinKickass/OpenSPIMCore/internal/api/rest"
	"github.com/KevinKickass/OpenSPIMCore/internal/api/websocket"
	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/dispatch"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware/modbus"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware/sim"
	"github.com/KevinKickass/OpenSPIMCore/internal/imaging"
	"github.com/KevinKickass/OpenSPIMCore/internal/interfaces"
	"github.com/KevinKickass/OpenSPIMCore/internal/machine"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/script"
	"github.com/KevinKickass/OpenSPIMCore/internal/state"
	"github.com/KevinKickass/OpenSPIMCore/internal/storage"
	"github.com/KevinKickass/OpenSPIMCore/internal/streaming"
)

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	channel     *dispatch.Channel
	scope       *sim.Microscope
	shutters    *modbus.ShutterBank
	controller  *machine.Controller
	panel       *panel.Panel
	scripts     *script.Registry
	streamer    *streaming.EventStreamer
	wsHub       *websocket.Hub
	authService *auth.AuthService
	storage     *storage.PostgresClient

	restServer *rest.Server
	grpcServer *grpc.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    error

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds the microscope and its surfaces. db may be nil,
// in which case no run history is kept.
func NewLifecycleManager(cfg *config.Config, db *storage.PostgresClient, logger *zap.Logger) (*LifecycleManager, error) {
	schema, initial, err := state.SchemaFromConfig(cfg.Microscope)
	if err != nil {
		return nil, fmt.Errorf("invalid microscope parameters: %w", err)
	}
	model, err := state.NewModel(schema, initial, logger.Named("state"))
	if err != nil {
		return nil, fmt.Errorf("failed to create state model: %w", err)
	}

	authService, err := auth.NewAuthService(cfg.Auth, logger.Named("auth"))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth service: %w", err)
	}

	scope := sim.New(cfg.Hardware.Sim)
	rig := hardware.NewRig(scope, scope, logger.Named("hardware"), scope)

	var shutters *modbus.ShutterBank
	if cfg.Hardware.Shutters.Enabled {
		shutters = modbus.NewShutterBank(cfg.Hardware.Shutters, logger.Named("shutters"))
		rig.AddSink(shutters)
	}

	var writer *imaging.Writer
	if cfg.Acquisition.OutputDir != "" {
		writer = imaging.NewWriter(cfg.Acquisition.OutputDir, logger.Named("imaging"))
	}

	ch := dispatch.NewChannel()
	controller := machine.NewController(logger.Named("controller"), model, ch, rig, writer, cfg.Display.MaxFPS)
	p := panel.New(logger.Named("panel"), ch, cfg.Microscope, model.Snapshot())

	streamer := streaming.NewEventStreamer()
	hub := websocket.NewHub(logger.Named("websocket"), authService, p)
	hub.SetStatusProvider(p)
	controller.AttachDisplay(hub)

	p.OnEvent(streamer.Broadcast)
	p.OnEvent(hub.Publish)

	return &LifecycleManager{
		config:       cfg,
		logger:       logger,
		channel:      ch,
		scope:        scope,
		shutters:     shutters,
		controller:   controller,
		panel:        p,
		scripts:      script.NewRegistry(p, logger.Named("script")),
		streamer:     streamer,
		wsHub:        hub,
		authService:  authService,
		storage:      db,
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}, nil
}

// Start connects the hardware, starts the control and issuing loops and
// opens the gRPC and REST listeners.
func (lm *LifecycleManager) Start(ctx context.Context) error {
	lm.logger.Info("Starting OpenSPIMCore")

	if lm.shutters != nil {
		if err := lm.shutters.Connect(ctx); err != nil {
			lm.setError(fmt.Errorf("failed to connect shutters: %w", err))
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lm.cancel = cancel

	lm.spawn(func() {
		if err := lm.controller.Run(runCtx); err != nil {
			lm.logger.Error("Controller stopped with error", zap.Error(err))
		}
	})
	lm.spawn(func() {
		if err := lm.panel.Run(runCtx); err != nil {
			lm.logger.Error("Panel stopped with error", zap.Error(err))
		}
	})
	lm.spawn(func() { lm.wsHub.Run(runCtx) })

	if lm.storage != nil {
		recorder := storage.NewRunRecorder(lm.storage, lm.streamer, lm.logger.Named("runs"))
		lm.spawn(func() { recorder.Run(runCtx) })
	}

	lm.loadDefaultList()

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	if err := lm.transition(StateRunning); err != nil {
		return err
	}

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Bool("auth_enabled", lm.authService.Enabled()),
		zap.Bool("run_history", lm.storage != nil),
		zap.Bool("shutters", lm.shutters != nil))

	return nil
}

func (lm *LifecycleManager) spawn(fn func()) {
	lm.wg.Add(1)
	go func() {
		defer lm.wg.Done()
		fn()
	}()
}

func (lm *LifecycleManager) loadDefaultList() {
	path := lm.config.Acquisition.ListPath
	if path == "" {
		return
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		lm.logger.Info("No acquisition list at default path", zap.String("path", path))
		return
	}
	if err := lm.panel.LoadList(path); err != nil {
		lm.logger.Warn("Failed to load acquisition list", zap.String("path", path), zap.Error(err))
		return
	}
	lm.logger.Info("Acquisition list loaded", zap.String("path", path))
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	streaming.RegisterMicroscopeServer(lm.grpcServer,
		streaming.NewMicroscopeService(lm.panel, lm.streamer, lm.logger.Named("grpc")))

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "spim.v1.Microscope"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authService)
	return lm.restServer.Start()
}

// Shutdown stops the microscope, closes the surfaces and waits for the
// loops to end. Later calls return nil.
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")
		if err := lm.transition(StateStopping); err != nil {
			lm.logger.Warn("Shutdown from unexpected state", zap.Error(err))
		}

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.stateMu.Lock()
		lm.currentState = StateStopped
		lm.stateMu.Unlock()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// Halt whatever the microscope is doing before the loops go away.
	if lm.cancel != nil {
		if _, err := lm.panel.Stop(); err == nil {
			waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := lm.panel.WaitIdle(waitCtx); err != nil {
				lm.logger.Warn("Microscope did not settle before shutdown", zap.Error(err))
			}
			cancel()
		}
	}

	// Event streams end here so that GracefulStop does not wait on them.
	lm.streamer.Close()

	var wg sync.WaitGroup
	var mu sync.Mutex
	collect := func(err error) {
		mu.Lock()
		errs = append(errs, err)
		mu.Unlock()
	}

	if lm.restServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
				collect(fmt.Errorf("rest api shutdown failed: %w", err))
			}
		}()
	}

	if lm.grpcServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lm.logger.Info("Stopping gRPC server")
			lm.grpcServer.GracefulStop()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		if lm.cancel != nil {
			lm.cancel()
		}
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		lm.logger.Warn("Shutdown timeout, forcing stop")
		if lm.grpcServer != nil {
			lm.grpcServer.Stop()
		}
		if lm.cancel != nil {
			lm.cancel()
		}
		collect(fmt.Errorf("shutdown timeout exceeded: %w", ctx.Err()))
	}

	lm.channel.Close()

	if lm.shutters != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := lm.shutters.Close(closeCtx); err != nil {
			collect(fmt.Errorf("shutter close failed: %w", err))
		}
		cancel()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		lm.logger.Info("Graceful shutdown completed")
	}
	return errors.Join(errs...)
}

func (lm *LifecycleManager) transition(to SystemState) error {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()

	if err := ValidateTransition(lm.currentState, to); err != nil {
		return err
	}
	lm.logger.Info("System state changed",
		zap.String("from", lm.currentState.String()),
		zap.String("to", to.String()))
	lm.currentState = to
	return nil
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))

	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.currentState = StateError
	lm.lastError = err
}

// State returns the lifecycle state and the error that caused StateError.
func (lm *LifecycleManager) State() (SystemState, error) {
	lm.stateMu.RLock()
	defer lm.stateMu.RUnlock()
	return lm.currentState, lm.lastError
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	current, _ := lm.State()

	microscope := "unavailable"
	if st, err := lm.panel.Status(); err == nil {
		microscope = st.State.String(state.KeyState)
	}

	return interfaces.SystemStatus{
		State:            current.String(),
		Microscope:       microscope,
		ConnectedClients: lm.wsHub.GetClientCount(),
		RunHistory:       lm.storage != nil,
	}
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Panel() *panel.Panel {
	return lm.panel
}

func (lm *LifecycleManager) Scripts() *script.Registry {
	return lm.scripts
}

func (lm *LifecycleManager) RunHistory() interfaces.RunHistory {
	if lm.storage == nil {
		return nil
	}
	return lm.storage
}

// Simulator exposes the simulated hardware, for fault injection in tests
// and bench setups.
func (lm *LifecycleManager) Simulator() *sim.Microscope {
	return lm.scope
}
