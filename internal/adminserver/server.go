// Package adminserver exposes a small internal gRPC surface for operational
// tooling: listing registered hosts and their vholds, and triggering a
// simulated crash notification for exercising the recovery path without
// killing the real status monitor.
package adminserver

import (
	"fmt"
	"net"

	"google.golang.org/grpc"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
)

// Server wraps a grpc.Server bound to a single zone.
type Server struct {
	grpcServer *grpc.Server
}

// New builds an admin server over zone. zone must already be running.
func New(zone *nlmcore.Zone) *Server {
	gs := grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	gs.RegisterService(&serviceDesc, &adminService{zone: zone})
	return &Server{grpcServer: gs}
}

// ListenAndServe binds addr and blocks serving admin RPCs until the server
// is stopped or the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("adminserver: listen %s: %w", addr, err)
	}
	logger.Info("adminserver: listening", "addr", addr)
	return s.grpcServer.Serve(ln)
}

// Stop gracefully drains in-flight RPCs and shuts the server down.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
