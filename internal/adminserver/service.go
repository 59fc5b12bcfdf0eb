package adminserver

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lockd/nlmd/internal/nlmcore"
)

// adminService exposes read-only inspection and the simulate-crash test
// hook over the zone's registry and status monitor client. It has no
// generated protobuf stub and no .proto source in the repository; the
// service is wired into grpc.Server by hand in serviceDesc below.
type adminService struct {
	zone *nlmcore.Zone
}

func (s *adminService) ListHosts(_ context.Context, _ *ListHostsRequest) (*ListHostsResponse, error) {
	hosts := s.zone.Registry.AllHosts()
	resp := &ListHostsResponse{Hosts: make([]HostInfo, 0, len(hosts))}
	for _, h := range hosts {
		id := h.Identity()
		resp.Hosts = append(resp.Hosts, HostInfo{
			Sysid:      int32(h.Sysid()),
			Name:       id.Name,
			Netid:      id.Netid,
			Address:    id.IP.String(),
			Port:       uint32(id.Port),
			Monitored:  h.IsMonitored(),
			Reclaiming: h.IsReclaiming(),
			Refs:       int32(h.Refs()),
			VholdCount: int32(h.VholdCount()),
		})
	}
	return resp, nil
}

func (s *adminService) ListVholds(_ context.Context, req *ListVholdsRequest) (*ListVholdsResponse, error) {
	host, ok := s.zone.Registry.FindBySysid(int(req.Sysid))
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no host with sysid %d", req.Sysid)
	}
	vholds := host.Vholds()
	resp := &ListVholdsResponse{Vholds: make([]VholdInfo, 0, len(vholds))}
	for _, v := range vholds {
		resp.Vholds = append(resp.Vholds, VholdInfo{
			Path:          fmt.Sprintf("%v", v.VP()),
			SleepRequests: int32(v.SleepRequestCount()),
		})
	}
	return resp, nil
}

func (s *adminService) SimulateCrash(ctx context.Context, _ *SimulateCrashRequest) (*SimulateCrashResponse, error) {
	if s.zone.SM == nil {
		return nil, status.Error(codes.FailedPrecondition, "status monitor client not configured")
	}
	if err := s.zone.SM.SimuCrash(ctx); err != nil {
		return nil, status.Errorf(codes.Internal, "simulate crash: %v", err)
	}
	return &SimulateCrashResponse{}, nil
}

func listHostsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListHostsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*adminService).ListHosts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nlmd.admin.Admin/ListHosts"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*adminService).ListHosts(ctx, req.(*ListHostsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func listVholdsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListVholdsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*adminService).ListVholds(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nlmd.admin.Admin/ListVholds"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*adminService).ListVholds(ctx, req.(*ListVholdsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func simulateCrashHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SimulateCrashRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*adminService).SimulateCrash(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/nlmd.admin.Admin/SimulateCrash"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*adminService).SimulateCrash(ctx, req.(*SimulateCrashRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "nlmd.admin.Admin",
	HandlerType: (*interface{})(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListHosts", Handler: listHostsHandler},
		{MethodName: "ListVholds", Handler: listVholdsHandler},
		{MethodName: "SimulateCrash", Handler: simulateCrashHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "admin.proto",
}
