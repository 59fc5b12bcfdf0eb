// Package nsm dispatches the two NSM procedures nlmd actually serves.
//
// nlmd is an NSM client, not a monitor: SM_MON, SM_UNMON, SM_UNMON_ALL and
// SM_STAT are all served by the host's own rpc.statd, not by this daemon.
// The one inbound NSM call nlmd must answer is SM_NOTIFY, the callback
// rpc.statd makes when a peer nlmd registered interest in changes state.
package nsm

import (
	"github.com/lockd/nlmd/internal/protocol/nsm/handlers"
	"github.com/lockd/nlmd/internal/protocol/nsm/types"
)

// Procedure describes one dispatchable NSM procedure.
type Procedure struct {
	Name    string
	Handler func(ctx *handlers.NSMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error)
}

// DispatchTable maps NSM procedure numbers to the procedures nlmd serves.
var DispatchTable = map[uint32]*Procedure{
	types.SMProcNull: {
		Name: "NULL",
		Handler: func(ctx *handlers.NSMHandlerContext, h *handlers.Handler, _ []byte) ([]byte, error) {
			if err := h.Null(ctx); err != nil {
				return nil, err
			}
			return []byte{}, nil
		},
	},
	types.SMProcNotify: {
		Name: "NOTIFY",
		Handler: func(ctx *handlers.NSMHandlerContext, h *handlers.Handler, data []byte) ([]byte, error) {
			req, err := handlers.DecodeNotifyRequest(data)
			if err != nil {
				return nil, err
			}
			if err := h.Notify(ctx, req); err != nil {
				return nil, err
			}
			return handlers.EncodeNotifyResponse(), nil
		},
	},
}
