package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for NLM/NSM request spans.
const (
	AttrClientAddr = "client.address"
	AttrRPCXID     = "rpc.xid"
	AttrRPCProgram = "rpc.program"
	AttrRPCVersion = "rpc.version"
	AttrProcedure  = "nlm.procedure"
	AttrSysid      = "nlm.sysid"
	AttrHostName   = "nlm.host_name"
	AttrStatus     = "nlm.status"
	AttrExclusive  = "nlm.exclusive"
)

// Span names for the procedures a daemon run can receive.
const (
	SpanNLMTest     = "nlm.TEST"
	SpanNLMLock     = "nlm.LOCK"
	SpanNLMCancel   = "nlm.CANCEL"
	SpanNLMUnlock   = "nlm.UNLOCK"
	SpanNLMGranted  = "nlm.GRANTED"
	SpanNLMShare    = "nlm.SHARE"
	SpanNLMUnshare  = "nlm.UNSHARE"
	SpanNLMFreeAll  = "nlm.FREE_ALL"
	SpanNSMNotify   = "nsm.NOTIFY"
	SpanSMMon       = "sm.MON"
	SpanSMUnmon     = "sm.UNMON"
	SpanGrantCall   = "grant.callback"
	SpanGraceWait   = "grace.wait"
	SpanReclaimWalk = "reclaim.walk"
)

// ClientAddr returns an attribute for the peer address a request arrived from.
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// RPCXID returns an attribute for the RPC transaction ID of the call.
func RPCXID(xid uint32) attribute.KeyValue {
	return attribute.Int64(AttrRPCXID, int64(xid))
}

// Procedure returns an attribute naming the NLM/NSM procedure being handled.
func Procedure(name string) attribute.KeyValue {
	return attribute.String(AttrProcedure, name)
}

// Sysid returns an attribute for the peer's allocated sysid.
func Sysid(sysid int) attribute.KeyValue {
	return attribute.Int(AttrSysid, sysid)
}

// HostName returns an attribute for the peer's caller_name.
func HostName(name string) attribute.KeyValue {
	return attribute.String(AttrHostName, name)
}

// Status returns an attribute for the wire status code a procedure returned.
func Status(status int32) attribute.KeyValue {
	return attribute.Int64(AttrStatus, int64(status))
}

// Exclusive returns an attribute marking a lock request as read or write.
func Exclusive(excl bool) attribute.KeyValue {
	return attribute.Bool(AttrExclusive, excl)
}

// StartProcedureSpan starts a span for one NLM or NSM procedure call.
func StartProcedureSpan(ctx context.Context, spanName, clientAddr string, xid uint32) (context.Context, trace.Span) {
	return StartSpan(ctx, spanName, trace.WithAttributes(
		ClientAddr(clientAddr),
		RPCXID(xid),
	))
}
