// Package rpc implements the wire framing for ONC RPC version 2 (RFC 5531):
// message types, auth flavors, record marking, and the small set of
// reply-building helpers the NLM/NSM dispatchers and back-call clients need.
package rpc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MsgType distinguishes an RPC CALL from an RPC REPLY (RFC 5531 §9).
const (
	RPCCall  = uint32(0)
	RPCReply = uint32(1)
)

// ReplyStat (RFC 5531 §9): whether a reply carries results or a rejection.
const (
	RPCMsgAccepted = uint32(0)
	RPCMsgDenied   = uint32(1)
)

// AcceptStat, valid when ReplyStat == RPCMsgAccepted.
const (
	RPCSuccess      = uint32(0)
	RPCProgUnavail  = uint32(1)
	RPCProgMismatch = uint32(2)
	RPCProcUnavail  = uint32(3)
	RPCGarbageArgs  = uint32(4)
	RPCSystemErr    = uint32(5)
)

// Auth flavors (RFC 5531 §8.2).
const (
	AuthNull  = uint32(0)
	AuthUnix  = uint32(1)
	AuthShort = uint32(2)
	AuthDES   = uint32(3)
)

// Version is the ONC RPC protocol version this package speaks.
const Version = 2

// maxGIDs bounds a AUTH_UNIX credential's supplementary group list, per the
// historical NFS/NLM wire limit (RFC 5531 does not bound it, implementations
// do).
const maxGIDs = 16

// maxMachineName bounds AUTH_UNIX's machine name field.
const maxMachineName = 255

// UnixAuth is a decoded AUTH_UNIX (AUTH_SYS) credential.
type UnixAuth struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

// String renders the credential for logging.
func (a *UnixAuth) String() string {
	return fmt.Sprintf("UnixAuth{machine=%s uid=%d gid=%d gids=%v}", a.MachineName, a.UID, a.GID, a.GIDs)
}

// ParseUnixAuth decodes an AUTH_UNIX credential body (the opaque bytes
// following the AUTH_UNIX flavor/length in an RPC CALL's credential field).
func ParseUnixAuth(body []byte) (*UnixAuth, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("rpc: empty AUTH_UNIX body")
	}

	r := bytes.NewReader(body)

	var stamp uint32
	if err := binary.Read(r, binary.BigEndian, &stamp); err != nil {
		return nil, fmt.Errorf("rpc: read stamp: %w", err)
	}

	var nameLen uint32
	if err := binary.Read(r, binary.BigEndian, &nameLen); err != nil {
		return nil, fmt.Errorf("rpc: read machine name length: %w", err)
	}
	if nameLen > maxMachineName {
		return nil, fmt.Errorf("rpc: machine name too long: %d > %d", nameLen, maxMachineName)
	}

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil, fmt.Errorf("rpc: read machine name: %w", err)
	}
	if pad := (4 - (nameLen % 4)) % 4; pad > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return nil, fmt.Errorf("rpc: read machine name padding: %w", err)
		}
	}

	var uid, gid uint32
	if err := binary.Read(r, binary.BigEndian, &uid); err != nil {
		return nil, fmt.Errorf("rpc: read uid: %w", err)
	}
	if err := binary.Read(r, binary.BigEndian, &gid); err != nil {
		return nil, fmt.Errorf("rpc: read gid: %w", err)
	}

	var gidCount uint32
	if err := binary.Read(r, binary.BigEndian, &gidCount); err != nil {
		return nil, fmt.Errorf("rpc: read gid count: %w", err)
	}
	if gidCount > maxGIDs {
		return nil, fmt.Errorf("rpc: too many gids: %d > %d", gidCount, maxGIDs)
	}

	gids := make([]uint32, gidCount)
	for i := range gids {
		if err := binary.Read(r, binary.BigEndian, &gids[i]); err != nil {
			return nil, fmt.Errorf("rpc: read gid[%d]: %w", i, err)
		}
	}

	return &UnixAuth{
		Stamp:       stamp,
		MachineName: string(nameBuf),
		UID:         uid,
		GID:         gid,
		GIDs:        gids,
	}, nil
}

// AddRecordMark prefixes msg with the 4-byte TCP record-marking fragment
// header described in RFC 5531 §11: the high bit marks the last fragment of
// a record, the low 31 bits carry the fragment's length.
func AddRecordMark(msg []byte, lastFragment bool) []byte {
	header := uint32(len(msg))
	if lastFragment {
		header |= 0x80000000
	}
	out := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(out[0:4], header)
	copy(out[4:], msg)
	return out
}

// ReadRecord reads one complete RPC record (all its fragments concatenated)
// from r, enforcing maxLen on the accumulated size.
func ReadRecord(r io.Reader, maxLen int) ([]byte, error) {
	var out bytes.Buffer
	for {
		var headerBuf [4]byte
		if _, err := io.ReadFull(r, headerBuf[:]); err != nil {
			return nil, fmt.Errorf("rpc: read fragment header: %w", err)
		}
		header := binary.BigEndian.Uint32(headerBuf[:])
		fragLen := header & 0x7FFFFFFF
		last := header&0x80000000 != 0

		if out.Len()+int(fragLen) > maxLen {
			return nil, fmt.Errorf("rpc: record exceeds max length %d", maxLen)
		}
		if _, err := io.CopyN(&out, r, int64(fragLen)); err != nil {
			return nil, fmt.Errorf("rpc: read fragment body: %w", err)
		}
		if last {
			return out.Bytes(), nil
		}
	}
}

// BuildCallMessage builds an RPC CALL message with AUTH_NULL credentials and
// verifier, the minimum auth needed for the loopback callbacks this daemon
// makes (NLM_GRANTED, SM_MON/SM_UNMON).
//
// Wire format per RFC 5531 §9:
//
//	XID:        [uint32]
//	MsgType:    [uint32] = 0 (CALL)
//	RPCVersion: [uint32] = 2
//	Program:    [uint32]
//	Version:    [uint32]
//	Procedure:  [uint32]
//	Cred:       AUTH_NULL (flavor=0, length=0)
//	Verf:       AUTH_NULL (flavor=0, length=0)
//	Args:       [procedure args]
func BuildCallMessage(xid, prog, vers, proc uint32, args []byte) ([]byte, error) {
	var buf bytes.Buffer

	for _, v := range []uint32{xid, RPCCall, Version, prog, vers, proc, AuthNull, 0, AuthNull, 0} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, fmt.Errorf("rpc: write call header: %w", err)
		}
	}
	if _, err := buf.Write(args); err != nil {
		return nil, fmt.Errorf("rpc: write args: %w", err)
	}

	return buf.Bytes(), nil
}

// MakeProgMismatchReply builds a complete, record-marked RPC REPLY message
// rejecting a call with PROG_MISMATCH, carrying the [low, high] supported
// version range (RFC 5531 §9, accepted_reply with PROG_MISMATCH).
func MakeProgMismatchReply(xid, low, high uint32) ([]byte, error) {
	if low > high {
		return nil, fmt.Errorf("rpc: invalid version range: low (%d) > high (%d)", low, high)
	}

	var buf bytes.Buffer
	for _, v := range []uint32{
		xid, RPCReply, RPCMsgAccepted,
		AuthNull, 0, // verifier: AUTH_NULL, length 0
		RPCProgMismatch,
		low, high,
	} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, fmt.Errorf("rpc: write prog mismatch reply: %w", err)
		}
	}

	return AddRecordMark(buf.Bytes(), true), nil
}

// ParseReply decodes a complete RPC REPLY message (as returned by
// ReadRecord) down to its XID, accept status and trailing procedure
// results. Only the AUTH_NULL/AUTH_SHORT verifier shapes used by this
// daemon's own callers are supported; a non-empty verifier body is skipped
// by length rather than interpreted.
func ParseReply(data []byte) (xid uint32, acceptStat uint32, results []byte, err error) {
	r := bytes.NewReader(data)

	var hdr [3]uint32
	for i := range hdr {
		if err = binary.Read(r, binary.BigEndian, &hdr[i]); err != nil {
			return 0, 0, nil, fmt.Errorf("rpc: read reply header: %w", err)
		}
	}
	xid, msgType, replyStat := hdr[0], hdr[1], hdr[2]
	if msgType != RPCReply {
		return xid, 0, nil, fmt.Errorf("rpc: not a reply message (type=%d)", msgType)
	}
	if replyStat != RPCMsgAccepted {
		return xid, 0, nil, fmt.Errorf("rpc: call rejected")
	}

	var verfFlavor, verfLen uint32
	if err = binary.Read(r, binary.BigEndian, &verfFlavor); err != nil {
		return xid, 0, nil, fmt.Errorf("rpc: read verifier flavor: %w", err)
	}
	if err = binary.Read(r, binary.BigEndian, &verfLen); err != nil {
		return xid, 0, nil, fmt.Errorf("rpc: read verifier length: %w", err)
	}
	if verfLen > 0 {
		if _, err = io.CopyN(io.Discard, r, int64(verfLen)); err != nil {
			return xid, 0, nil, fmt.Errorf("rpc: skip verifier body: %w", err)
		}
	}

	if err = binary.Read(r, binary.BigEndian, &acceptStat); err != nil {
		return xid, 0, nil, fmt.Errorf("rpc: read accept status: %w", err)
	}
	if acceptStat != RPCSuccess {
		return xid, acceptStat, nil, nil
	}

	remaining := make([]byte, r.Len())
	if _, err = io.ReadFull(r, remaining); err != nil {
		return xid, acceptStat, nil, fmt.Errorf("rpc: read results: %w", err)
	}
	return xid, acceptStat, remaining, nil
}

// Call is a decoded RPC CALL message header plus its still-XDR-encoded
// procedure arguments.
type Call struct {
	XID     uint32
	Program uint32
	Version uint32
	Proc    uint32

	AuthFlavor uint32
	AuthBody   []byte

	Args []byte
}

// ParseCall decodes a complete RPC CALL message (as returned by ReadRecord)
// down to its program/version/procedure and credential, leaving the
// procedure-specific arguments for the caller's own XDR decoder.
func ParseCall(data []byte) (*Call, error) {
	r := bytes.NewReader(data)

	var hdr [6]uint32
	for i := range hdr {
		if err := binary.Read(r, binary.BigEndian, &hdr[i]); err != nil {
			return nil, fmt.Errorf("rpc: read call header: %w", err)
		}
	}
	xid, msgType, rpcvers, prog, vers, proc := hdr[0], hdr[1], hdr[2], hdr[3], hdr[4], hdr[5]
	if msgType != RPCCall {
		return nil, fmt.Errorf("rpc: not a call message (type=%d)", msgType)
	}
	if rpcvers != Version {
		return nil, fmt.Errorf("rpc: unsupported RPC version %d", rpcvers)
	}

	authFlavor, authBody, err := readAuth(r)
	if err != nil {
		return nil, fmt.Errorf("rpc: read credential: %w", err)
	}
	// Verifier: flavor and body follow the same shape, always discarded here.
	if _, _, err := readAuth(r); err != nil {
		return nil, fmt.Errorf("rpc: read verifier: %w", err)
	}

	args := make([]byte, r.Len())
	if _, err := io.ReadFull(r, args); err != nil {
		return nil, fmt.Errorf("rpc: read args: %w", err)
	}

	return &Call{
		XID:        xid,
		Program:    prog,
		Version:    vers,
		Proc:       proc,
		AuthFlavor: authFlavor,
		AuthBody:   authBody,
		Args:       args,
	}, nil
}

// readAuth decodes one opaque_auth structure: a flavor followed by a
// length-prefixed, 4-byte-padded opaque body.
func readAuth(r *bytes.Reader) (flavor uint32, body []byte, err error) {
	if err = binary.Read(r, binary.BigEndian, &flavor); err != nil {
		return 0, nil, fmt.Errorf("read flavor: %w", err)
	}
	var length uint32
	if err = binary.Read(r, binary.BigEndian, &length); err != nil {
		return 0, nil, fmt.Errorf("read length: %w", err)
	}
	body = make([]byte, length)
	if _, err = io.ReadFull(r, body); err != nil {
		return 0, nil, fmt.Errorf("read body: %w", err)
	}
	if pad := (4 - (length % 4)) % 4; pad > 0 {
		if _, err = io.CopyN(io.Discard, r, int64(pad)); err != nil {
			return 0, nil, fmt.Errorf("read padding: %w", err)
		}
	}
	return flavor, body, nil
}

// MakeErrorReply builds a record-marked RPC REPLY with the given AcceptStat,
// used for PROC_UNAVAIL and GARBAGE_ARGS responses that carry no results.
func MakeErrorReply(xid uint32, acceptStat uint32) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range []uint32{xid, RPCReply, RPCMsgAccepted, AuthNull, 0, acceptStat} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, fmt.Errorf("rpc: write error reply: %w", err)
		}
	}
	return AddRecordMark(buf.Bytes(), true), nil
}

// MakeAcceptedReply builds a record-marked RPC REPLY with AcceptStat =
// SUCCESS, followed by the already-XDR-encoded procedure results.
func MakeAcceptedReply(xid uint32, results []byte) ([]byte, error) {
	var buf bytes.Buffer
	for _, v := range []uint32{xid, RPCReply, RPCMsgAccepted, AuthNull, 0, RPCSuccess} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, fmt.Errorf("rpc: write accepted reply header: %w", err)
		}
	}
	if _, err := buf.Write(results); err != nil {
		return nil, fmt.Errorf("rpc: write results: %w", err)
	}
	return AddRecordMark(buf.Bytes(), true), nil
}
