// Package nlm dispatches NLM v4 procedure calls to their decode/handle/
// encode wrappers in internal/protocol/nlm/handlers.
package nlm

import (
	"github.com/lockd/nlmd/internal/protocol/nlm/handlers"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
)

// Procedure describes one dispatchable NLM procedure.
type Procedure struct {
	Name    string
	Handler func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error)
}

// DispatchTable maps NLM v4 procedure numbers to their handlers. Only the
// synchronous procedures are listed; the _MSG/_RES async variants (6-15,
// excluding GRANTED itself) are NFSv2-era artifacts no client in the wild
// still uses and have no handler here.
var DispatchTable = map[uint32]*Procedure{
	types.NLMProcNull: {
		Name: "NULL",
		Handler: func(_ *handlers.NLMHandlerContext, _ *handlers.Handler, _ []byte) ([]byte, error) {
			return []byte{}, nil
		},
	},
	types.NLMProcTest: {
		Name: "TEST",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeTestRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Test(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeTestResponse(resp)
		},
	},
	types.NLMProcLock: {
		Name: "LOCK",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeLockRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Lock(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeLockResponse(resp)
		},
	},
	types.NLMProcCancel: {
		Name: "CANCEL",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeCancelRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Cancel(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeCancelResponse(resp)
		},
	},
	types.NLMProcUnlock: {
		Name: "UNLOCK",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeUnlockRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Unlock(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeUnlockResponse(resp)
		},
	},
	types.NLMProcGranted: {
		Name: "GRANTED",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeGrantedRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Granted(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeGrantedResponse(resp)
		},
	},
	types.NLMProcShare: {
		Name: "SHARE",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeShareRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Share(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeShareResponse(resp)
		},
	},
	types.NLMProcUnshare: {
		Name: "UNSHARE",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeShareRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.Unshare(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeShareResponse(resp)
		},
	},
	types.NLMProcFreeAll: {
		Name: "FREE_ALL",
		Handler: func(ctx *handlers.NLMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeFreeAllRequest(data)
			if err != nil {
				return nil, err
			}
			resp, err := h.FreeAll(ctx, req)
			if err != nil {
				return nil, err
			}
			return handlers.EncodeFreeAllResponse(resp)
		},
	},
}
