package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ReportServiceName is the fully qualified gRPC service name.
const ReportServiceName = "mirador.affect.v1.ReportService"

const (
	correlateMethod    = "/" + ReportServiceName + "/Correlate"
	getReportMethod    = "/" + ReportServiceName + "/GetReport"
	listReportsMethod  = "/" + ReportServiceName + "/ListReports"
	deleteReportMethod = "/" + ReportServiceName + "/DeleteReport"
)

// ReportServiceServer is implemented by the report service. Messages are
// google.protobuf.Struct so clients can send session logs verbatim.
type ReportServiceServer interface {
	Correlate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListReports(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	DeleteReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ReportServiceDesc describes ReportServiceServer to grpc.Server.
var ReportServiceDesc = grpc.ServiceDesc{
	ServiceName: ReportServiceName,
	HandlerType: (*ReportServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Correlate", Handler: unaryHandler(correlateMethod, ReportServiceServer.Correlate)},
		{MethodName: "GetReport", Handler: unaryHandler(getReportMethod, ReportServiceServer.GetReport)},
		{MethodName: "ListReports", Handler: unaryHandler(listReportsMethod, ReportServiceServer.ListReports)},
		{MethodName: "DeleteReport", Handler: unaryHandler(deleteReportMethod, ReportServiceServer.DeleteReport)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mirador/affect/v1/report.proto",
}

// RegisterReportServiceServer attaches srv to s.
func RegisterReportServiceServer(s grpc.ServiceRegistrar, srv ReportServiceServer) {
	s.RegisterService(&ReportServiceDesc, srv)
}

type unaryMethod func(ReportServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ReportServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ReportServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ReportClient calls a remote ReportService.
type ReportClient struct {
	cc grpc.ClientConnInterface
}

// NewReportClient wraps an established connection.
func NewReportClient(cc grpc.ClientConnInterface) *ReportClient {
	return &ReportClient{cc: cc}
}

// Correlate sends both session logs and returns the report.
func (c *ReportClient) Correlate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, correlateMethod, in, opts...)
}

// GetReport fetches an archived report by id.
func (c *ReportClient) GetReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, getReportMethod, in, opts...)
}

// ListReports lists archived reports.
func (c *ReportClient) ListReports(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, listReportsMethod, in, opts...)
}

// DeleteReport removes an archived report.
func (c *ReportClient) DeleteReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, deleteReportMethod, in, opts...)
}

func (c *ReportClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
