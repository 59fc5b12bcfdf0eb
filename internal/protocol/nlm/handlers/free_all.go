package handlers

import (
	"bytes"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/xdr"
)

// FreeAllRequest represents an NLM4_FREE_ALL request.
type FreeAllRequest struct {
	// Name is the client hostname whose locks should be released.
	Name string

	// State is the client's new NSM state counter.
	State int32
}

// FreeAllResponse represents an NLM4_FREE_ALL response (void on the wire).
type FreeAllResponse struct{}

// DecodeFreeAllRequest decodes an NLM4_FREE_ALL request from XDR format.
func DecodeFreeAllRequest(data []byte) (*FreeAllRequest, error) {
	r := bytes.NewReader(data)

	name, err := xdr.DecodeString(r)
	if err != nil {
		return nil, err
	}
	state, err := xdr.DecodeInt32(r)
	if err != nil {
		return nil, err
	}

	return &FreeAllRequest{Name: name, State: state}, nil
}

// EncodeFreeAllResponse encodes an NLM4_FREE_ALL response. FREE_ALL has no
// response body.
func EncodeFreeAllResponse(_ *FreeAllResponse) ([]byte, error) {
	return []byte{}, nil
}

// FreeAll handles the NLM4_FREE_ALL procedure (procedure 23): called by the
// status monitor after detecting a peer crash and restart, drops every lock,
// share and pending sleep request this peer holds. Best effort - errors are
// logged, never surfaced, since the procedure has no status to report them
// through.
func (h *Handler) FreeAll(ctx *NLMHandlerContext, req *FreeAllRequest) (*FreeAllResponse, error) {
	logger.Info("nlm: FREE_ALL", "client", req.Name, "from", ctx.ClientAddr, "state", req.State)

	if err := h.zone.FreeAll(ctx.Context, req.Name, req.State); err != nil {
		logger.Warn("nlm: FREE_ALL failed", "client", req.Name, "error", err)
	}

	return &FreeAllResponse{}, nil
}
