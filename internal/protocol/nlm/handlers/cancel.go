package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// CancelRequest represents an NLM_CANCEL request.
type CancelRequest struct {
	Cookie    []byte
	Block     bool
	Exclusive bool
	Lock      types.NLM4Lock
}

// CancelResponse represents an NLM_CANCEL response.
type CancelResponse struct {
	Cookie []byte
	Status uint32
}

// DecodeCancelRequest decodes an NLM_CANCEL request from XDR format.
func DecodeCancelRequest(data []byte) (*CancelRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4CancelArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4CancelArgs: %w", err)
	}

	return &CancelRequest{
		Cookie:    args.Cookie,
		Block:     args.Block,
		Exclusive: args.Exclusive,
		Lock:      args.Lock,
	}, nil
}

// EncodeCancelResponse encodes an NLM_CANCEL response to XDR format.
func EncodeCancelResponse(resp *CancelResponse) ([]byte, error) {
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

// Cancel handles the NLM_CANCEL procedure (procedure 3): withdraw a pending
// blocking request. Reports GRANTED if a queued request was found and
// cancelled, DENIED if none matched.
func (h *Handler) Cancel(ctx *NLMHandlerContext, req *CancelRequest) (*CancelResponse, error) {
	ownerID := buildOwnerID(req.Lock.CallerName, req.Lock.Svid, req.Lock.OH)
	logger.Debug("nlm: CANCEL",
		"client", ctx.ClientAddr,
		"caller", req.Lock.CallerName,
		"owner", ownerID,
		"offset", req.Lock.Offset,
		"length", req.Lock.Length)

	id, err := identityFromContext(ctx, req.Lock.CallerName)
	if err != nil {
		logger.Warn("nlm: CANCEL rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &CancelResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}
	desc := lockDescFromWire(req.Lock.Offset, req.Lock.Length, req.Lock.Svid, req.Exclusive)

	code, err := h.zone.Cancel(ctx.Context, id, req.Lock.FH, desc)
	if err != nil {
		logger.Warn("nlm: CANCEL failed", "client", ctx.ClientAddr, "owner", ownerID, "error", err)
		return &CancelResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}

	return &CancelResponse{Cookie: req.Cookie, Status: codeToStatus(code)}, nil
}
