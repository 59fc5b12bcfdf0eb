package handlers

import (
	"fmt"

	"github.com/lockd/nlmd/internal/logger"
	nsm_xdr "github.com/lockd/nlmd/internal/protocol/nsm/xdr"
)

// NotifyRequest represents an inbound SM_NOTIFY call.
type NotifyRequest struct {
	MonName string
	State   int32
	Priv    [16]byte
}

// DecodeNotifyRequest decodes an SM_NOTIFY request from XDR format.
func DecodeNotifyRequest(data []byte) (*NotifyRequest, error) {
	status, err := nsm_xdr.DecodeStatus(data)
	if err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &NotifyRequest{MonName: status.MonName, State: status.State, Priv: status.Priv}, nil
}

// EncodeNotifyResponse encodes the (void) SM_NOTIFY response.
func EncodeNotifyResponse() []byte {
	return []byte{}
}

// Notify handles the SM_NOTIFY procedure (procedure 6): the local status
// monitor telling us a host we asked it to watch has changed state. priv
// carries back whatever correlation data nlmcore's SM client stored at
// SM_MON time - here, the host's sysid.
func (h *Handler) Notify(ctx *NSMHandlerContext, req *NotifyRequest) error {
	logger.Info("nsm: NOTIFY", "mon_name", req.MonName, "state", req.State)

	if err := h.zone.Notify1(ctx.Context, req.Priv[:], req.State); err != nil {
		logger.Warn("nsm: NOTIFY processing failed", "mon_name", req.MonName, "error", err)
		return err
	}
	return nil
}
