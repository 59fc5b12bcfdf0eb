package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// LockRequest represents an NLM_LOCK request.
type LockRequest struct {
	// Cookie is an opaque value echoed back in the response.
	Cookie []byte

	// Block indicates whether to block waiting for the lock.
	Block bool

	// Exclusive indicates the lock type.
	Exclusive bool

	// Lock contains the lock parameters.
	Lock types.NLM4Lock

	// Reclaim indicates this is a lock reclaim during grace period.
	Reclaim bool

	// State is the NSM state counter for crash recovery.
	State int32
}

// LockResponse represents an NLM_LOCK response.
type LockResponse struct {
	Cookie []byte
	Status uint32
}

// DecodeLockRequest decodes an NLM_LOCK request from XDR format.
func DecodeLockRequest(data []byte) (*LockRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4LockArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4LockArgs: %w", err)
	}

	return &LockRequest{
		Cookie:    args.Cookie,
		Block:     args.Block,
		Exclusive: args.Exclusive,
		Lock:      args.Lock,
		Reclaim:   args.Reclaim,
		State:     args.State,
	}, nil
}

// EncodeLockResponse encodes an NLM_LOCK response to XDR format.
func EncodeLockResponse(resp *LockResponse) ([]byte, error) {
	buf := new(bytes.Buffer)

	res := &types.NLM4Res{
		Cookie: resp.Cookie,
		Status: resp.Status,
	}

	if err := nlm_xdr.EncodeNLM4Res(buf, res); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Lock handles the NLM_LOCK procedure (procedure 2): acquire an advisory
// byte-range lock, blocking and registering a GRANTED back-call on conflict
// if the caller asked to block.
func (h *Handler) Lock(ctx *NLMHandlerContext, req *LockRequest) (*LockResponse, error) {
	ownerID := buildOwnerID(req.Lock.CallerName, req.Lock.Svid, req.Lock.OH)
	logger.Debug("nlm: LOCK",
		"client", ctx.ClientAddr,
		"caller", req.Lock.CallerName,
		"owner", ownerID,
		"exclusive", req.Exclusive,
		"block", req.Block,
		"reclaim", req.Reclaim,
		"offset", req.Lock.Offset,
		"length", req.Lock.Length)

	id, err := identityFromContext(ctx, req.Lock.CallerName)
	if err != nil {
		logger.Warn("nlm: LOCK rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &LockResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}
	desc := lockDescFromWire(req.Lock.Offset, req.Lock.Length, req.Lock.Svid, req.Exclusive)

	// We can always dial the caller back at ClientAddr for GRANTED, so any
	// peer that presents a usable address is monitor-capable.
	monitorCapable := ctx.ClientAddr != ""

	outcome, err := h.zone.Lock(ctx.Context, id, req.Lock.FH, desc, req.Block, req.Reclaim, req.State, monitorCapable, req.Cookie)
	if err != nil {
		logger.Warn("nlm: LOCK failed", "client", ctx.ClientAddr, "owner", ownerID, "error", err)
		return &LockResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}

	logger.Debug("nlm: LOCK result", "client", ctx.ClientAddr, "owner", ownerID, "status", types.StatusString(codeToStatus(outcome.Code)))
	return &LockResponse{Cookie: req.Cookie, Status: codeToStatus(outcome.Code)}, nil
}
