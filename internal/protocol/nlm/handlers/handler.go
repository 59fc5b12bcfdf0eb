package handlers

import (
	"fmt"
	"net"

	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
)

// Handler processes NLM procedure calls by decoding wire arguments, calling
// into the shared host-state engine, and re-encoding the result.
//
// Handler is safe for concurrent use by multiple goroutines; all state lives
// in the Zone, which handles its own synchronization.
type Handler struct {
	zone *nlmcore.Zone
}

// NewHandler builds a Handler bound to zone. zone must already be started.
func NewHandler(zone *nlmcore.Zone) *Handler {
	return &Handler{zone: zone}
}

// identityFromContext derives a peer Identity from the RPC client address and
// the caller_name carried in the NLM4Lock. Netid defaults to "tcp" when the
// transport layer didn't record one, matching the teacher's assumption that
// every listener here is TCP.
func identityFromContext(ctx *NLMHandlerContext, callerName string) (nlmcore.Identity, error) {
	host, port, err := net.SplitHostPort(ctx.ClientAddr)
	if err != nil {
		host = ctx.ClientAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nlmcore.Identity{}, fmt.Errorf("handlers: cannot parse client address %q", ctx.ClientAddr)
	}
	netid := ctx.Netid
	if netid == "" {
		netid = "tcp"
	}
	var p uint16
	if port != "" {
		fmt.Sscanf(port, "%d", &p)
	}
	return nlmcore.Identity{Name: callerName, Netid: netid, IP: ip, Port: p}, nil
}

// lockDescFromWire builds the range/owner description nlmcore matches
// conflicts on. Svid doubles as the NLM "pid" field; the wire protocol has
// no separate concept of an OS process id distinct from it.
func lockDescFromWire(offset, length uint64, svid int32, excl bool) nlmcore.LockDesc {
	return nlmcore.LockDesc{Start: offset, Len: length, Pid: svid, Excl: excl}
}

// buildOwnerID renders the (caller_name, svid, oh) triple identifying a lock
// owner for logging purposes only; nlmcore never sees this string.
func buildOwnerID(callerName string, svid int32, oh []byte) string {
	return fmt.Sprintf("nlm:%s:%d:%x", callerName, svid, oh)
}

// codeToStatus maps a core Code onto its NLM4 wire status. GRACE and
// STALE_FH get distinct wire codes; FAILED and DeniedNoLocks each map onto
// their own constant.
func codeToStatus(c nlmcore.Code) uint32 {
	switch c {
	case nlmcore.Granted:
		return types.NLM4Granted
	case nlmcore.Denied:
		return types.NLM4Denied
	case nlmcore.DeniedNoLocks:
		return types.NLM4DeniedNoLocks
	case nlmcore.DeniedGracePeriod:
		return types.NLM4DeniedGrace
	case nlmcore.Blocked:
		return types.NLM4Blocked
	case nlmcore.StaleFH:
		return types.NLM4StaleFH
	case nlmcore.Failed:
		return types.NLM4Failed
	default:
		return types.NLM4Failed
	}
}
