package streaming

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
	"github.com/KevinKickass/OpenSPIMCore/internal/panel"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

// Microscope is what the service drives.
type Microscope interface {
	types.Commander
	Status() (panel.Status, error)
}

// MicroscopeService serves spim.v1.Microscope. Messages travel as
// google.protobuf.Struct so clients need no generated stubs.
type MicroscopeService struct {
	scope    Microscope
	streamer *EventStreamer
	logger   *zap.Logger
}

func NewMicroscopeService(scope Microscope, streamer *EventStreamer, logger *zap.Logger) *MicroscopeService {
	return &MicroscopeService{
		scope:    scope,
		streamer: streamer,
		logger:   logger,
	}
}

// SendCommand accepts {"command": ..., "axis": ..., "axes": [...], "value": ..., "changes": {...}}
// and answers with the command id.
func (s *MicroscopeService) SendCommand(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var cmd types.CommandRequest
	if err := fromStruct(req, &cmd); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	id, err := cmd.Issue(s.scope)
	if err != nil {
		return nil, commandStatus(err)
	}

	s.logger.Debug("Command received over gRPC",
		zap.String("command", cmd.Command),
		zap.String("command_id", id.String()))

	return toStruct(types.CommandResponse{CommandID: id, Command: cmd.Command})
}

func (s *MicroscopeService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st, err := s.scope.Status()
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return toStruct(st)
}

// StreamEvents sends events until the client goes away. {"run_id": "..."}
// limits the stream to one run.
func (s *MicroscopeService) StreamEvents(req *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	runID := uuid.Nil
	if v, ok := req.GetFields()["run_id"]; ok && v.GetStringValue() != "" {
		id, err := uuid.Parse(v.GetStringValue())
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}
		runID = id
	}

	eventCh := s.streamer.Subscribe(runID)
	defer s.streamer.Unsubscribe(runID, eventCh)

	for {
		select {
		case ev, ok := <-eventCh:
			if !ok {
				return nil
			}
			msg, err := toStruct(ev)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}

		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

func commandStatus(err error) error {
	switch {
	case errors.Is(err, panel.ErrStopped):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, acquisition.ErrListLocked):
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.InvalidArgument, err.Error())
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := json.Marshal(in.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}
