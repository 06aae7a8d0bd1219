package grpc_control

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tickfeed/src/helpers"
	"tickfeed/src/interfaces"
	"tickfeed/src/logger"
	"tickfeed/src/utils"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const reportsListed = 100

// ControlService implements ControlServer on top of the update engine.
type ControlService struct {
	Controller interfaces.IController
	Reports    *utils.ReportBook
	Logger     *logger.Logger
}

var _ ControlServer = (*ControlService)(nil)

// NewControlService creates a new instance of ControlService
func NewControlService(ctrl interfaces.IController, reports *utils.ReportBook, log *logger.Logger) *ControlService {
	return &ControlService{
		Controller: ctrl,
		Reports:    reports,
		Logger:     log,
	}
}

// -----------------------------------------------------------------------------

// NewServer returns a grpc server carrying the control service and the
// standard health service.
func NewServer(svc *ControlService) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: 5 * time.Minute,
			Time:              30 * time.Second,
			Timeout:           10 * time.Second,
		}),
	)
	RegisterControlServer(srv, svc)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return srv, hs
}

// -----------------------------------------------------------------------------

func (s *ControlService) TriggerUpdate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name := field(req, "dataset")
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "dataset is required")
	}

	runID, err := s.Controller.Trigger(name)
	if err != nil {
		return nil, toStatus(err)
	}
	s.Logger.Info("gRPC: triggered update of %s (run %s)", name, runID)

	return structpb.NewStruct(map[string]interface{}{
		"dataset": name,
		"run_id":  runID,
	})
}

// -----------------------------------------------------------------------------

func (s *ControlService) GetCursor(ctx context.Context, req *structpb.Struct) (*timestamppb.Timestamp, error) {
	name, asset := field(req, "dataset"), strings.ToLower(field(req, "asset"))
	if name == "" || asset == "" {
		return nil, status.Error(codes.InvalidArgument, "dataset and asset are required")
	}

	cursor, err := s.Controller.Cursor(ctx, name, asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return timestamppb.New(cursor), nil
}

// -----------------------------------------------------------------------------

func (s *ControlService) ListReports(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	reports := s.Reports.Latest("", reportsListed)

	items := make([]interface{}, 0, len(reports))
	for _, r := range reports {
		raw, err := json.Marshal(r)
		if err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, status.Error(codes.Internal, err.Error())
		}
		items = append(items, m)
	}

	list, err := structpb.NewList(items)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return list, nil
}

// -----------------------------------------------------------------------------

func field(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	if v, ok := req.GetFields()[name]; ok {
		return v.GetStringValue()
	}
	return ""
}

// -----------------------------------------------------------------------------

func toStatus(err error) error {
	var conflict *helpers.MergeKeyConflict
	switch {
	case errors.Is(err, helpers.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.As(err, &conflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
