package modbus

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/config"
	"github.com/KevinKickass/OpenSPIMCore/internal/hardware"
)

const shutterParameter = "shutterconfig"

// ShutterBank maps the shutterconfig parameter onto coupler coils. "Both"
// opens every configured side.
type ShutterBank struct {
	client         *Client
	unitID         uint8
	coils          map[string]uint16 // lower-case side name -> coil address
	connectTimeout time.Duration
	logger         *zap.Logger

	mu   sync.Mutex
	open map[string]bool
}

func NewShutterBank(cfg config.ShutterConfig, logger *zap.Logger) *ShutterBank {
	coils := make(map[string]uint16, len(cfg.Coils))
	for side, addr := range cfg.Coils {
		coils[strings.ToLower(side)] = addr
	}
	return &ShutterBank{
		client:         NewClient(cfg.Address, cfg.Timeout),
		unitID:         uint8(cfg.UnitID),
		coils:          coils,
		connectTimeout: cfg.ConnectTimeout,
		logger:         logger,
		open:           make(map[string]bool),
	}
}

// Connect dials the coupler with exponential backoff and closes all
// shutters.
func (s *ShutterBank) Connect(ctx context.Context) error {
	op := func() error {
		return s.client.Connect(ctx)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     50 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         time.Second,
		MaxElapsedTime:      s.connectTimeout,
		Clock:               backoff.SystemClock,
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return hardware.Fault("shutters", "connect", err)
	}

	s.logger.Info("Shutter coupler connected", zap.String("address", s.client.address))
	return s.apply(ctx, nil)
}

func (s *ShutterBank) Close(ctx context.Context) error {
	err := s.apply(ctx, nil)
	if cerr := s.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// SetParameter implements hardware.ParameterSink.
func (s *ShutterBank) SetParameter(ctx context.Context, name string, value any) error {
	if name != shutterParameter {
		return nil
	}

	side, ok := value.(string)
	if !ok {
		return hardware.Fault("shutters", "set", fmt.Errorf("shutterconfig must be a string, got %T", value))
	}

	var sides []string
	if strings.EqualFold(side, "both") {
		for k := range s.coils {
			sides = append(sides, k)
		}
	} else {
		key := strings.ToLower(side)
		if _, ok := s.coils[key]; !ok {
			return hardware.Fault("shutters", "set", fmt.Errorf("no coil configured for %q", side))
		}
		sides = []string{key}
	}

	return s.apply(ctx, sides)
}

// Open reports which sides are currently open.
func (s *ShutterBank) Open() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sides []string
	for side, open := range s.open {
		if open {
			sides = append(sides, side)
		}
	}
	sort.Strings(sides)
	return sides
}

// apply opens the listed sides and closes all others.
func (s *ShutterBank) apply(ctx context.Context, sides []string) error {
	want := make(map[string]bool, len(sides))
	for _, side := range sides {
		want[side] = true
	}

	names := make([]string, 0, len(s.coils))
	for name := range s.coils {
		names = append(names, name)
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range names {
		if err := s.client.WriteSingleCoil(ctx, s.unitID, s.coils[name], want[name]); err != nil {
			return hardware.Fault("shutters", "write coil", err)
		}
		s.open[name] = want[name]
	}

	s.logger.Debug("Shutters set", zap.Strings("open", sides))
	return nil
}
