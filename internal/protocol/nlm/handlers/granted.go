package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// GrantedRequest represents an inbound NLM_GRANTED callback: a remote server
// telling us one of our own blocked lock requests has now succeeded.
type GrantedRequest struct {
	Cookie    []byte
	Exclusive bool
	Lock      types.NLM4Lock
}

// GrantedResponse represents the reply to an NLM_GRANTED callback.
type GrantedResponse struct {
	Cookie []byte
	Status uint32
}

// DecodeGrantedRequest decodes an NLM_GRANTED request from XDR format.
func DecodeGrantedRequest(data []byte) (*GrantedRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4GrantedArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4GrantedArgs: %w", err)
	}

	return &GrantedRequest{Cookie: args.Cookie, Exclusive: args.Exclusive, Lock: args.Lock}, nil
}

// EncodeGrantedResponse encodes an NLM_GRANTED response to XDR format.
func EncodeGrantedResponse(resp *GrantedResponse) ([]byte, error) {
	buf := new(bytes.Buffer)

	res := &types.NLM4Res{Cookie: resp.Cookie, Status: resp.Status}
	if err := nlm_xdr.EncodeNLM4Res(buf, res); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Granted handles the NLM_GRANTED procedure (procedure 5) arriving as a
// callback from a remote server: one of our own sleeping locks against it
// just cleared. The remote server is looked up by the identity it presents
// (its caller_name plus the address it's calling from), since the wire
// message carries no sysid of its own.
func (h *Handler) Granted(ctx *NLMHandlerContext, req *GrantedRequest) (*GrantedResponse, error) {
	logger.Debug("nlm: GRANTED callback", "from", ctx.ClientAddr, "caller", req.Lock.CallerName)

	id, err := identityFromContext(ctx, req.Lock.CallerName)
	if err != nil {
		logger.Warn("nlm: GRANTED rejected, bad peer address", "from", ctx.ClientAddr, "error", err)
		return &GrantedResponse{Cookie: req.Cookie, Status: types.NLM4Denied}, nil
	}

	host, ok := h.zone.Registry.Find(id)
	if !ok {
		logger.Warn("nlm: GRANTED for unknown peer", "caller", req.Lock.CallerName)
		return &GrantedResponse{Cookie: req.Cookie, Status: types.NLM4Denied}, nil
	}

	vp, ok := h.zone.ResolveFH(req.Lock.FH)
	if !ok {
		return &GrantedResponse{Cookie: req.Cookie, Status: types.NLM4StaleFH}, nil
	}
	desc := lockDescFromWire(req.Lock.Offset, req.Lock.Length, req.Lock.Svid, req.Exclusive)

	code := h.zone.Granted(ctx.Context, host.Sysid(), vp, desc)
	return &GrantedResponse{Cookie: req.Cookie, Status: codeToStatus(code)}, nil
}
