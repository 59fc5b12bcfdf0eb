package logger

import (
	"fmt"
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so aggregation and
// querying stays sane across nlmd, the SM client, and the admin surface.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// RPC & Procedure
	// ========================================================================
	KeyProgram   = "rpc_program"  // ONC RPC program number (100021 NLM, 100024 NSM)
	KeyVersion   = "rpc_version"  // ONC RPC program version
	KeyProcedure = "procedure"    // Procedure name: LOCK, UNLOCK, GRANTED, NOTIFY, etc.
	KeyXID       = "xid"          // RPC transaction ID
	KeyHandle    = "handle"       // NFS file handle (opaque identifier) a lock targets
	KeyShare     = "share"        // Exported share path a request targets
	KeyStatus    = "status"       // nlm_stat / sm_stat code
	KeyStatusMsg = "status_msg"   // Human-readable status message

	// ========================================================================
	// Lock & Share State
	// ========================================================================
	KeySysid       = "sysid"        // Caller system ID assigned to a remote host
	KeyHostName    = "host_name"    // Remote host's caller_name
	KeyOwner       = "owner"        // Lock/share owner opaque bytes (hex)
	KeyExclusive   = "exclusive"    // Exclusive vs shared lock request
	KeyReclaim     = "reclaim"      // Whether this is a grace-period reclaim
	KeyOffset      = "offset"       // Byte-range lock start offset
	KeyLength      = "length"       // Byte-range lock length (0 == to EOF)
	KeyShareMode   = "share_mode"   // DOS share deny mode (fsm_mode)
	KeyShareAccess = "share_access" // DOS share access mode (fsm_access)
	KeyCookie      = "cookie"       // Opaque async-reply cookie
	KeyVholdCount  = "vhold_count"  // Active vnode-hold count for a host
	KeyRefs        = "refs"         // Host reference count

	// ========================================================================
	// Client / Peer Identification
	// ========================================================================
	KeyClientIP   = "client_ip"   // Client IP address
	KeyClientPort = "client_port" // Client source port
	KeyClientHost = "client_host" // Client hostname (if resolved)
	KeyUID        = "uid"         // Caller UID from AUTH_UNIX credentials
	KeyGID        = "gid"         // Caller GID from AUTH_UNIX credentials
	KeyAuth       = "auth"        // RPC authentication flavor

	// ========================================================================
	// Session & Connection
	// ========================================================================
	KeyConnectionID = "connection_id" // Transport connection identifier
	KeyRequestID    = "request_id"    // Protocol-specific request ID (XID, MessageID)

	// ========================================================================
	// Grace / Recovery
	// ========================================================================
	KeyGraceDeadline = "grace_deadline" // Milliseconds remaining in the active grace period
	KeyNSMState      = "nsm_state"      // Incarnation number reported by the local SM
	KeyMonitored     = "monitored"      // Whether a host is currently under SM monitoring

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyErrorCode  = "error_code"  // Numeric error code
	KeySource     = "source"      // Originating subsystem: registry, gc, grace, sm
	KeyOperation  = "operation"   // Sub-operation type for complex operations
	KeyAttempt    = "attempt"     // Retry attempt number
	KeyMaxRetries = "max_retries" // Maximum retry attempts
)

// ============================================================================
// Field constructors for type safety
// These functions provide type-safe construction of slog.Attr values.
// ============================================================================

// ----------------------------------------------------------------------------
// Distributed Tracing
// ----------------------------------------------------------------------------

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// ----------------------------------------------------------------------------
// RPC & Procedure
// ----------------------------------------------------------------------------

// Program returns a slog.Attr for the ONC RPC program number
func Program(prog uint32) slog.Attr {
	return slog.Any(KeyProgram, prog)
}

// Version returns a slog.Attr for the ONC RPC program version
func Version(vers uint32) slog.Attr {
	return slog.Any(KeyVersion, vers)
}

// Procedure returns a slog.Attr for operation/procedure name
func Procedure(name string) slog.Attr {
	return slog.String(KeyProcedure, name)
}

// XID returns a slog.Attr for the RPC transaction ID
func XID(xid uint32) slog.Attr {
	return slog.Any(KeyXID, xid)
}

// Handle returns a slog.Attr for a file handle (formatted as hex)
func Handle(h []byte) slog.Attr {
	return slog.String(KeyHandle, fmt.Sprintf("%x", h))
}

// HandleHex returns a slog.Attr for a file handle already in hex format
func HandleHex(h string) slog.Attr {
	return slog.String(KeyHandle, h)
}

// Status returns a slog.Attr for operation status code
func Status(code int) slog.Attr {
	return slog.Int(KeyStatus, code)
}

// StatusMsg returns a slog.Attr for human-readable status message
func StatusMsg(msg string) slog.Attr {
	return slog.String(KeyStatusMsg, msg)
}

// ----------------------------------------------------------------------------
// Lock & Share State
// ----------------------------------------------------------------------------

// Sysid returns a slog.Attr for a host's caller system ID
func Sysid(id uint32) slog.Attr {
	return slog.Any(KeySysid, id)
}

// HostName returns a slog.Attr for a remote host's caller_name
func HostName(name string) slog.Attr {
	return slog.String(KeyHostName, name)
}

// Owner returns a slog.Attr for a lock/share owner (formatted as hex)
func Owner(o []byte) slog.Attr {
	return slog.String(KeyOwner, fmt.Sprintf("%x", o))
}

// Exclusive returns a slog.Attr for exclusive vs shared lock request
func Exclusive(excl bool) slog.Attr {
	return slog.Bool(KeyExclusive, excl)
}

// Reclaim returns a slog.Attr for whether a request is a grace-period reclaim
func Reclaim(reclaim bool) slog.Attr {
	return slog.Bool(KeyReclaim, reclaim)
}

// Offset returns a slog.Attr for byte-range lock start offset
func Offset(off uint64) slog.Attr {
	return slog.Uint64(KeyOffset, off)
}

// Length returns a slog.Attr for byte-range lock length
func Length(l uint64) slog.Attr {
	return slog.Uint64(KeyLength, l)
}

// ShareMode returns a slog.Attr for a DOS share deny mode
func ShareMode(mode int32) slog.Attr {
	return slog.Any(KeyShareMode, mode)
}

// ShareAccess returns a slog.Attr for a DOS share access mode
func ShareAccess(access int32) slog.Attr {
	return slog.Any(KeyShareAccess, access)
}

// Cookie returns a slog.Attr for an opaque async-reply cookie
func Cookie(c []byte) slog.Attr {
	return slog.String(KeyCookie, fmt.Sprintf("%x", c))
}

// VholdCount returns a slog.Attr for a host's active vnode-hold count
func VholdCount(n int) slog.Attr {
	return slog.Int(KeyVholdCount, n)
}

// Refs returns a slog.Attr for a host's reference count
func Refs(n int32) slog.Attr {
	return slog.Any(KeyRefs, n)
}

// ----------------------------------------------------------------------------
// Client / Peer Identification
// ----------------------------------------------------------------------------

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ClientPort returns a slog.Attr for client source port
func ClientPort(port int) slog.Attr {
	return slog.Int(KeyClientPort, port)
}

// ClientHost returns a slog.Attr for client hostname
func ClientHost(host string) slog.Attr {
	return slog.String(KeyClientHost, host)
}

// UID returns a slog.Attr for caller UID
func UID(uid uint32) slog.Attr {
	return slog.Any(KeyUID, uid)
}

// GID returns a slog.Attr for caller GID
func GID(gid uint32) slog.Attr {
	return slog.Any(KeyGID, gid)
}

// Auth returns a slog.Attr for RPC authentication flavor
func Auth(flavor uint32) slog.Attr {
	return slog.Any(KeyAuth, flavor)
}

// AuthStr returns a slog.Attr for authentication method as string
func AuthStr(method string) slog.Attr {
	return slog.String(KeyAuth, method)
}

// ----------------------------------------------------------------------------
// Session & Connection
// ----------------------------------------------------------------------------

// ConnectionID returns a slog.Attr for connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// RequestID returns a slog.Attr for protocol-specific request ID
func RequestID(id uint32) slog.Attr {
	return slog.Any(KeyRequestID, id)
}

// RequestIDStr returns a slog.Attr for request ID as string
func RequestIDStr(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ----------------------------------------------------------------------------
// Grace & Recovery
// ----------------------------------------------------------------------------

// GraceDeadlineMs returns a slog.Attr for the grace period deadline, expressed
// as milliseconds remaining at the time of the log call
func GraceDeadlineMs(ms int64) slog.Attr {
	return slog.Int64(KeyGraceDeadline, ms)
}

// NSMState returns a slog.Attr for the incarnation number reported by the SM
func NSMState(state int32) slog.Attr {
	return slog.Any(KeyNSMState, state)
}

// Monitored returns a slog.Attr for whether a host is under SM monitoring
func Monitored(monitored bool) slog.Attr {
	return slog.Bool(KeyMonitored, monitored)
}

// ----------------------------------------------------------------------------
// Operation Metadata
// ----------------------------------------------------------------------------

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// ErrorCode returns a slog.Attr for numeric error code
func ErrorCode(code int) slog.Attr {
	return slog.Int(KeyErrorCode, code)
}

// Source returns a slog.Attr for the originating subsystem
func Source(src string) slog.Attr {
	return slog.String(KeySource, src)
}

// Operation returns a slog.Attr for sub-operation type
func Operation(op string) slog.Attr {
	return slog.String(KeyOperation, op)
}

// Attempt returns a slog.Attr for retry attempt number
func Attempt(n int) slog.Attr {
	return slog.Int(KeyAttempt, n)
}

// MaxRetries returns a slog.Attr for maximum retry attempts
func MaxRetries(n int) slog.Attr {
	return slog.Int(KeyMaxRetries, n)
}
