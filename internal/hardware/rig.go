package hardware

import (
	"context"

	"go.uber.org/zap"
)

// Rig bundles the devices of one microscope. Parameter writes fan out to all
// sinks in registration order and stop at the first failure.
type Rig struct {
	Stage  Stage
	Camera Camera
	sinks  []ParameterSink
	logger *zap.Logger
}

func NewRig(stage Stage, camera Camera, logger *zap.Logger, sinks ...ParameterSink) *Rig {
	return &Rig{
		Stage:  stage,
		Camera: camera,
		sinks:  sinks,
		logger: logger,
	}
}

// AddSink registers an optional peripheral. Call before the controller runs.
func (r *Rig) AddSink(s ParameterSink) {
	r.sinks = append(r.sinks, s)
}

func (r *Rig) SetParameter(ctx context.Context, name string, value any) error {
	for _, s := range r.sinks {
		if err := s.SetParameter(ctx, name, value); err != nil {
			r.logger.Error("Parameter write failed",
				zap.String("parameter", name),
				zap.Any("value", value),
				zap.Error(err))
			return err
		}
	}
	return nil
}
