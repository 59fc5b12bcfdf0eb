package handlers

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
)

// TestRequest represents an NLM_TEST request.
type TestRequest struct {
	// Cookie is an opaque value echoed back in the response.
	Cookie []byte

	// Exclusive indicates the lock type to test for.
	// true = would an exclusive lock succeed?
	// false = would a shared lock succeed?
	Exclusive bool

	// Lock contains the lock parameters to test.
	Lock types.NLM4Lock
}

// TestResponse represents an NLM_TEST response.
type TestResponse struct {
	// Cookie is echoed from the request.
	Cookie []byte

	// Status is NLM4Granted if the lock would succeed,
	// NLM4Denied if there's a conflict.
	Status uint32

	// Holder contains information about the conflicting lock.
	// Only populated when Status is NLM4Denied.
	Holder *types.NLM4Holder
}

// DecodeTestRequest decodes an NLM_TEST request from XDR format.
func DecodeTestRequest(data []byte) (*TestRequest, error) {
	r := bytes.NewReader(data)
	args, err := nlm_xdr.DecodeNLM4TestArgs(r)
	if err != nil {
		return nil, fmt.Errorf("decode NLM4TestArgs: %w", err)
	}

	return &TestRequest{
		Cookie:    args.Cookie,
		Exclusive: args.Exclusive,
		Lock:      args.Lock,
	}, nil
}

// EncodeTestResponse encodes an NLM_TEST response to XDR format.
func EncodeTestResponse(resp *TestResponse) ([]byte, error) {
	buf := new(bytes.Buffer)

	res := &types.NLM4TestRes{
		Cookie: resp.Cookie,
		Status: resp.Status,
		Holder: resp.Holder,
	}

	if err := nlm_xdr.EncodeNLM4TestRes(buf, res); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Test handles the NLM_TEST procedure (procedure 1): report whether desc
// would conflict with an existing lock, without taking or queuing anything.
// Denied with DENIED_GRACE_PERIOD while the grace period is in effect.
func (h *Handler) Test(ctx *NLMHandlerContext, req *TestRequest) (*TestResponse, error) {
	ownerID := buildOwnerID(req.Lock.CallerName, req.Lock.Svid, req.Lock.OH)
	logger.Debug("nlm: TEST",
		"client", ctx.ClientAddr,
		"caller", req.Lock.CallerName,
		"owner", ownerID,
		"exclusive", req.Exclusive,
		"offset", req.Lock.Offset,
		"length", req.Lock.Length)

	id, err := identityFromContext(ctx, req.Lock.CallerName)
	if err != nil {
		logger.Warn("nlm: TEST rejected, bad client address", "client", ctx.ClientAddr, "error", err)
		return &TestResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}
	desc := lockDescFromWire(req.Lock.Offset, req.Lock.Length, req.Lock.Svid, req.Exclusive)

	code, holder, err := h.zone.Test(ctx.Context, id, req.Lock.FH, desc)
	if err != nil {
		logger.Warn("nlm: TEST failed", "client", ctx.ClientAddr, "error", err)
		return &TestResponse{Cookie: req.Cookie, Status: types.NLM4Failed}, nil
	}

	return &TestResponse{
		Cookie: req.Cookie,
		Status: codeToStatus(code),
		Holder: holderToWire(holder),
	}, nil
}

// holderToWire converts a core conflict description into the wire NLM4Holder.
// Returns nil if there is no conflict.
func holderToWire(holder *nlmcore.Holder) *types.NLM4Holder {
	if holder == nil {
		return nil
	}
	return &types.NLM4Holder{
		Exclusive: holder.Excl,
		Svid:      holder.Pid,
		Offset:    holder.Start,
		Length:    holder.Len,
	}
}
