// Package server accepts NLM and NSM RPC traffic over TCP and dispatches
// each call to the appropriate procedure table, record-marking replies the
// same way the outbound callback clients in internal/protocol/.../callback
// expect their peers to.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
	nlmdispatch "github.com/lockd/nlmd/internal/protocol/nlm"
	nlmhandlers "github.com/lockd/nlmd/internal/protocol/nlm/handlers"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nsmdispatch "github.com/lockd/nlmd/internal/protocol/nsm"
	nsmhandlers "github.com/lockd/nlmd/internal/protocol/nsm/handlers"
	nsmtypes "github.com/lockd/nlmd/internal/protocol/nsm/types"
	"github.com/lockd/nlmd/internal/rpc"
	"github.com/lockd/nlmd/internal/telemetry"
)

// maxRecordLen bounds a single RPC record. NLM/NSM arguments are small
// fixed structures; this is generous headroom over the largest of them.
const maxRecordLen = 64 * 1024

// Server listens for NLM and NSM RPC calls and dispatches them into zone.
type Server struct {
	zone *nlmcore.Zone

	nlmHandler *nlmhandlers.Handler
	nsmHandler *nsmhandlers.Handler

	listener net.Listener

	wg sync.WaitGroup
}

// New builds a Server bound to zone. zone must already be started.
func New(zone *nlmcore.Zone) *Server {
	return &Server{
		zone:       zone,
		nlmHandler: nlmhandlers.NewHandler(zone),
		nsmHandler: nsmhandlers.NewHandler(zone),
	}
}

// Serve accepts connections on addr and blocks until ctx is cancelled or
// accepting fails. It closes the listener on return.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", addr, err)
	}
	s.listener = ln
	logger.Info("server: listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the listener's bound address. Only valid after Serve has
// started listening.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	clientAddr := conn.RemoteAddr().String()

	for {
		record, err := rpc.ReadRecord(conn, maxRecordLen)
		if err != nil {
			return
		}

		reply, err := s.dispatch(ctx, clientAddr, record)
		if err != nil {
			logger.Warn("server: dispatch failed", "client", clientAddr, "error", err)
			continue
		}
		if reply == nil {
			continue
		}
		if _, err := conn.Write(reply); err != nil {
			logger.Warn("server: write reply failed", "client", clientAddr, "error", err)
			return
		}
	}
}

// dispatch decodes one RPC call and routes it by program number, returning
// a complete record-marked reply ready to write to the connection.
func (s *Server) dispatch(ctx context.Context, clientAddr string, record []byte) ([]byte, error) {
	call, err := rpc.ParseCall(record)
	if err != nil {
		return nil, fmt.Errorf("parse call: %w", err)
	}

	switch call.Program {
	case types.ProgramNLM:
		return s.dispatchNLM(ctx, clientAddr, call)
	case nsmtypes.ProgramNSM:
		return s.dispatchNSM(ctx, clientAddr, call)
	default:
		return rpc.MakeErrorReply(call.XID, rpc.RPCProgUnavail)
	}
}

func (s *Server) dispatchNLM(ctx context.Context, clientAddr string, call *rpc.Call) ([]byte, error) {
	if call.Version != types.NLMVersion4 {
		return rpc.MakeProgMismatchReply(call.XID, types.NLMVersion4, types.NLMVersion4)
	}
	proc, ok := nlmdispatch.DispatchTable[call.Proc]
	if !ok {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	ctx, span := telemetry.StartProcedureSpan(ctx, "nlm."+proc.Name, clientAddr, call.XID)
	defer span.End()

	hctx := &nlmhandlers.NLMHandlerContext{
		Context:    ctx,
		ClientAddr: clientAddr,
		Netid:      "tcp",
		AuthFlavor: call.AuthFlavor,
	}
	if call.AuthFlavor == rpc.AuthUnix {
		if auth, err := rpc.ParseUnixAuth(call.AuthBody); err == nil {
			uid, gid := auth.UID, auth.GID
			hctx.UID, hctx.GID, hctx.GIDs = &uid, &gid, auth.GIDs
		}
	}

	results, err := proc.Handler(hctx, s.nlmHandler, call.Args)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Warn("server: nlm procedure failed", "proc", proc.Name, "client", clientAddr, "error", err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}
	return rpc.MakeAcceptedReply(call.XID, results)
}

func (s *Server) dispatchNSM(ctx context.Context, clientAddr string, call *rpc.Call) ([]byte, error) {
	if call.Version != nsmtypes.SMVersion1 {
		return rpc.MakeProgMismatchReply(call.XID, nsmtypes.SMVersion1, nsmtypes.SMVersion1)
	}
	proc, ok := nsmdispatch.DispatchTable[call.Proc]
	if !ok {
		return rpc.MakeErrorReply(call.XID, rpc.RPCProcUnavail)
	}

	ctx, span := telemetry.StartProcedureSpan(ctx, "nsm."+proc.Name, clientAddr, call.XID)
	defer span.End()

	hctx := &nsmhandlers.NSMHandlerContext{
		Context:    ctx,
		ClientAddr: clientAddr,
	}

	results, err := proc.Handler(hctx, s.nsmHandler, call.Args)
	if err != nil {
		telemetry.RecordError(ctx, err)
		logger.Warn("server: nsm procedure failed", "proc", proc.Name, "client", clientAddr, "error", err)
		return rpc.MakeErrorReply(call.XID, rpc.RPCGarbageArgs)
	}
	return rpc.MakeAcceptedReply(call.XID, results)
}
