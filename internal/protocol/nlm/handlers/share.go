package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// ShareRequest represents an NLM_SHARE or NLM_UNSHARE request.
type ShareRequest struct {
	Cookie     []byte
	CallerName string
	FH         []byte
	OH         []byte
	Mode       uint32
	Access     uint32
	Reclaim    bool
}

// ShareResponse represents an NLM_SHARE or NLM_UNSHARE response.
type ShareResponse struct {
	Cookie   []byte
	Status   uint32
	Sequence int32
}

// DecodeShareRequest decodes an NLM_SHARE/NLM_UNSHARE request from XDR format.
func DecodeShareRequest(data []byte) (*ShareRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4ShareArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4ShareArgs: %w", err)
	}

	return &ShareRequest{
		Cookie:     args.Cookie,
		CallerName: args.CallerName,
		FH:         args.FH,
		OH:         args.OH,
		Mode:       args.Mode,
		Access:     args.Access,
		Reclaim:    args.Reclaim,
	}, nil
}

// EncodeShareResponse encodes an NLM_SHARE/NLM_UNSHARE response to XDR format.
func EncodeShareResponse(resp *ShareResponse) ([]byte, error) {
	buf := new(bytes.Buffer)

	res := &types.NLM4ShareRes{
		Cookie:   resp.Cookie,
		Status:   resp.Status,
		Sequence: resp.Sequence,
	}

	if err := nlm_xdr.EncodeNLM4ShareRes(buf, res); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Share handles the NLM_SHARE procedure (procedure 20): acquire a DOS-style
// share-mode reservation.
func (h *Handler) Share(ctx *NLMHandlerContext, req *ShareRequest) (*ShareResponse, error) {
	logger.Debug("nlm: SHARE",
		"client", ctx.ClientAddr,
		"caller", req.CallerName,
		"mode", req.Mode,
		"access", req.Access,
		"reclaim", req.Reclaim)

	id, err := identityFromContext(ctx, req.CallerName)
	if err != nil {
		logger.Warn("nlm: SHARE rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &ShareResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}
	shr := nlmcore.ShareReservation{Mode: req.Mode, Access: req.Access, OH: string(req.OH)}

	code, err := h.zone.Share(ctx.Context, id, req.FH, shr, req.Reclaim, 0)
	if err != nil {
		logger.Warn("nlm: SHARE failed", "client", ctx.ClientAddr, "error", err)
		return &ShareResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}

	return &ShareResponse{Cookie: req.Cookie, Status: codeToStatus(code), Sequence: 0}, nil
}

// Unshare handles the NLM_UNSHARE procedure (procedure 21): release a
// previously acquired share-mode reservation.
func (h *Handler) Unshare(ctx *NLMHandlerContext, req *ShareRequest) (*ShareResponse, error) {
	logger.Debug("nlm: UNSHARE", "client", ctx.ClientAddr, "caller", req.CallerName)

	id, err := identityFromContext(ctx, req.CallerName)
	if err != nil {
		logger.Warn("nlm: UNSHARE rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &ShareResponse{Cookie: req.Cookie, Status: types.NLM4Granted}, nil
	}
	shr := nlmcore.ShareReservation{Mode: req.Mode, Access: req.Access, OH: string(req.OH)}

	code, err := h.zone.Unshare(ctx.Context, id, req.FH, shr)
	if err != nil {
		logger.Warn("nlm: UNSHARE error", "client", ctx.ClientAddr, "error", err)
	}

	return &ShareResponse{Cookie: req.Cookie, Status: codeToStatus(code), Sequence: 0}, nil
}
