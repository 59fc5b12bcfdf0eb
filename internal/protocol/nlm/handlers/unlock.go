package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// UnlockRequest represents an NLM_UNLOCK request.
type UnlockRequest struct {
	Cookie []byte
	Lock   types.NLM4Lock
}

// UnlockResponse represents an NLM_UNLOCK response.
type UnlockResponse struct {
	Cookie []byte
	Status uint32
}

// DecodeUnlockRequest decodes an NLM_UNLOCK request from XDR format.
func DecodeUnlockRequest(data []byte) (*UnlockRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4UnlockArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4UnlockArgs: %w", err)
	}

	return &UnlockRequest{Cookie: args.Cookie, Lock: args.Lock}, nil
}

// EncodeUnlockResponse encodes an NLM_UNLOCK response to XDR format.
func EncodeUnlockResponse(resp *UnlockResponse) ([]byte, error) {
	buf := new(bytes.Buffer)

	res := &types.NLM4Res{Cookie: resp.Cookie, Status: resp.Status}
	if err := nlm_xdr.EncodeNLM4Res(buf, res); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Unlock handles the NLM_UNLOCK procedure (procedure 4). During the grace
// period it reports DENIED_GRACE_PERIOD for a known peer; otherwise, since the
// protocol has no failure status for unlock, it reports GRANTED once the
// request decodes cleanly.
func (h *Handler) Unlock(ctx *NLMHandlerContext, req *UnlockRequest) (*UnlockResponse, error) {
	ownerID := buildOwnerID(req.Lock.CallerName, req.Lock.Svid, req.Lock.OH)
	logger.Debug("nlm: UNLOCK",
		"client", ctx.ClientAddr,
		"caller", req.Lock.CallerName,
		"owner", ownerID,
		"offset", req.Lock.Offset,
		"length", req.Lock.Length)

	id, err := identityFromContext(ctx, req.Lock.CallerName)
	if err != nil {
		logger.Warn("nlm: UNLOCK rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &UnlockResponse{Cookie: req.Cookie, Status: types.NLM4Granted}, nil
	}
	desc := lockDescFromWire(req.Lock.Offset, req.Lock.Length, req.Lock.Svid, false)

	code, err := h.zone.Unlock(ctx.Context, id, req.Lock.FH, desc)
	if err != nil {
		logger.Warn("nlm: UNLOCK error", "client", ctx.ClientAddr, "owner", ownerID, "error", err)
	}

	return &UnlockResponse{Cookie: req.Cookie, Status: codeToStatus(code)}, nil
}
