// Package portmap implements a minimal rpcbind/portmapper (RFC 1833,
// program 100000 version 2) client, used by the SM client to resolve the
// local status monitor's bound port before sending SM_MON/SM_UNMON.
package portmap

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lockd/nlmd/internal/rpc"
	"github.com/lockd/nlmd/internal/xdr"
)

// Program, Version and the single procedure this client needs.
const (
	Program        = uint32(100000)
	Version        = uint32(2)
	ProcNull       = uint32(0)
	ProcGetPort    = uint32(3)
	defaultRPCPort = "111"
	defaultDialTO  = 5 * time.Second
	maxReplyRecord = 64 * 1024
)

// Mapping is the portmapper's (program, version, protocol) -> port record,
// the wire structure carried by GETPORT requests and DUMP responses.
type Mapping struct {
	Prog uint32
	Vers uint32
	Prot uint32
	Port uint32
}

// MappingSize is the encoded size in bytes of a Mapping: four uint32 fields,
// no padding (XDR fixed-size structs need none).
const MappingSize = 16

// EncodeMapping writes m in the GETPORT/SET/UNSET request wire format.
func EncodeMapping(w *bytes.Buffer, m *Mapping) error {
	for _, v := range []uint32{m.Prog, m.Vers, m.Prot, m.Port} {
		if err := xdr.EncodeUint32(w, v); err != nil {
			return err
		}
	}
	return nil
}

// DecodeMapping reads a Mapping from its 16-byte wire representation.
func DecodeMapping(data []byte) (*Mapping, error) {
	if len(data) < MappingSize {
		return nil, fmt.Errorf("portmap: mapping too short: %d < %d", len(data), MappingSize)
	}
	r := bytes.NewReader(data)
	m := &Mapping{}
	var err error
	if m.Prog, err = xdr.DecodeUint32(r); err != nil {
		return nil, err
	}
	if m.Vers, err = xdr.DecodeUint32(r); err != nil {
		return nil, err
	}
	if m.Prot, err = xdr.DecodeUint32(r); err != nil {
		return nil, err
	}
	if m.Port, err = xdr.DecodeUint32(r); err != nil {
		return nil, err
	}
	return m, nil
}

// Protocol numbers, per /etc/protocols, as carried in a Mapping.Prot field.
const (
	ProtoTCP = uint32(6)
	ProtoUDP = uint32(17)
)

// GetPort asks the rpcbind service on host for the port bound to
// (prog, vers, prot). Returns 0 with no error if the program is not
// currently registered (rpcbind answers GETPORT with port 0 in that case,
// it does not fail the RPC).
func GetPort(ctx context.Context, host string, prog, vers, prot uint32) (uint32, error) {
	addr := net.JoinHostPort(host, defaultRPCPort)

	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTO)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("portmap: dial %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var argsBuf bytes.Buffer
	if err := EncodeMapping(&argsBuf, &Mapping{Prog: prog, Vers: vers, Prot: prot}); err != nil {
		return 0, fmt.Errorf("portmap: encode request: %w", err)
	}

	xid := uint32(time.Now().UnixNano() & 0xFFFFFFFF)
	callMsg, err := rpc.BuildCallMessage(xid, Program, Version, ProcGetPort, argsBuf.Bytes())
	if err != nil {
		return 0, fmt.Errorf("portmap: build call: %w", err)
	}
	if _, err := conn.Write(rpc.AddRecordMark(callMsg, true)); err != nil {
		return 0, fmt.Errorf("portmap: write call: %w", err)
	}

	reply, err := rpc.ReadRecord(conn, maxReplyRecord)
	if err != nil {
		return 0, fmt.Errorf("portmap: read reply: %w", err)
	}

	// Reply layout: xid(4) msgtype(4) replystat(4) verf-flavor(4) verf-len(4)
	// accept-stat(4) port(4) = 28 bytes minimum for a successful GETPORT reply.
	const replyHeaderLen = 24
	if len(reply) < replyHeaderLen+4 {
		return 0, fmt.Errorf("portmap: reply too short: %d bytes", len(reply))
	}
	r := bytes.NewReader(reply[replyHeaderLen:])
	port, err := xdr.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("portmap: decode port: %w", err)
	}
	return port, nil
}
