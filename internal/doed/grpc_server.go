package doed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// DesignServiceName is the fully qualified gRPC service name
const DesignServiceName = "doe.v1.DesignService"

const (
	getCampaignMethod       = "/doe.v1.DesignService/GetCampaign"
	submitObservationMethod = "/doe.v1.DesignService/SubmitObservation"
)

// DesignServiceServer serves campaigns over gRPC. Requests and responses are
// google.protobuf.Struct messages carrying the same fields as the HTTP API.
type DesignServiceServer interface {
	GetCampaign(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitObservation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// DesignServiceDesc describes doe.v1.DesignService for grpc.Server.RegisterService
var DesignServiceDesc = grpc.ServiceDesc{
	ServiceName: DesignServiceName,
	HandlerType: (*DesignServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCampaign", Handler: getCampaignHandler},
		{MethodName: "SubmitObservation", Handler: submitObservationHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "doe/v1/design.proto",
}

// RegisterDesignServiceServer registers srv and a health service reporting it as serving
func RegisterDesignServiceServer(s *grpc.Server, srv DesignServiceServer) *health.Server {
	s.RegisterService(&DesignServiceDesc, srv)
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(DesignServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
	return hs
}

func getCampaignHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DesignServiceServer).GetCampaign(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getCampaignMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DesignServiceServer).GetCampaign(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func submitObservationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DesignServiceServer).SubmitObservation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: submitObservationMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DesignServiceServer).SubmitObservation(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// DesignServiceClient calls doe.v1.DesignService
type DesignServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewDesignServiceClient(cc grpc.ClientConnInterface) *DesignServiceClient {
	return &DesignServiceClient{cc: cc}
}

func (c *DesignServiceClient) GetCampaign(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, getCampaignMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *DesignServiceClient) SubmitObservation(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, submitObservationMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DesignGRPCServer implements DesignServiceServer on a Manager
type DesignGRPCServer struct {
	manager *Manager
}

func NewDesignGRPCServer(manager *Manager) *DesignGRPCServer {
	return &DesignGRPCServer{manager: manager}
}

func (s *DesignGRPCServer) GetCampaign(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := req.GetFields()["campaign_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "campaign_id is required")
	}
	view, err := s.manager.Get(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	out := map[string]any{"campaign": view}
	if p, ok, err := s.manager.Pending(id); err == nil && ok {
		out["pending"] = p
	}
	return toStruct(out)
}

func (s *DesignGRPCServer) SubmitObservation(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	id := fields["campaign_id"].GetStringValue()
	if id == "" {
		return nil, status.Error(codes.InvalidArgument, "campaign_id is required")
	}

	var err error
	if reason := fields["error"].GetStringValue(); reason != "" {
		err = s.manager.Fail(id, reason)
	} else {
		values := fields["output"].GetListValue().GetValues()
		if len(values) == 0 {
			return nil, status.Error(codes.InvalidArgument, "output or error is required")
		}
		output := make([]float64, len(values))
		for i, v := range values {
			if _, ok := v.GetKind().(*structpb.Value_NumberValue); !ok {
				return nil, status.Errorf(codes.InvalidArgument, "output[%d] is not a number", i)
			}
			output[i] = v.GetNumberValue()
		}
		err = s.manager.Submit(id, output)
	}
	if err != nil {
		return nil, grpcError(err)
	}
	logger.Debug("observation submitted over gRPC", "campaign_id", id)
	return toStruct(map[string]any{"campaign_id": id, "accepted": true})
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, ErrCampaignNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrCampaignInactive), errors.Is(err, campaign.ErrNoPendingExperiment):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// toStruct converts v through its JSON form so the Struct matches the HTTP API
func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
