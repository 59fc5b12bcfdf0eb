// Package callback sends the NLM_GRANTED callback: once a blocked lock
// request clears, the server that queued it calls back into the blocked
// client to tell it so, rather than the client polling.
package callback

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
	"github.com/lockd/nlmd/internal/rpc"
)

// CallbackTimeout bounds the whole callback attempt - dial plus the wait for
// the client's reply - since a blocked lock shouldn't hold a vhold reference
// open indefinitely waiting on an unreachable peer.
const CallbackTimeout = 5 * time.Second

// SendGrantedCallback delivers an NLM_GRANTED call to addr over a fresh TCP
// connection (no connection caching - callbacks are rare enough that the
// dial cost doesn't matter) and waits for the reply before returning, so the
// caller knows the peer actually received it.
func SendGrantedCallback(
	ctx context.Context,
	addr string,
	prog uint32,
	vers uint32,
	args *types.NLM4GrantedArgs,
) error {
	callbackCtx, cancel := context.WithTimeout(ctx, CallbackTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(callbackCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial callback address %s: %w", addr, err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := callbackCtx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	var argsBuf bytes.Buffer
	if err := nlm_xdr.EncodeNLM4GrantedArgs(&argsBuf, args); err != nil {
		return fmt.Errorf("encode granted args: %w", err)
	}

	xid := uint32(time.Now().UnixNano() & 0xFFFFFFFF)

	callMsg, err := rpc.BuildCallMessage(xid, prog, vers, types.NLMProcGranted, argsBuf.Bytes())
	if err != nil {
		return fmt.Errorf("build call message: %w", err)
	}

	framedMsg := rpc.AddRecordMark(callMsg, true)
	if _, err := conn.Write(framedMsg); err != nil {
		return fmt.Errorf("write call: %w", err)
	}

	const maxReplySize = 1 * 1024 * 1024
	if _, err := rpc.ReadRecord(conn, maxReplySize); err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	return nil
}
