// Package handlers implements the inbound side of NSM this daemon actually
// needs: receiving SM_NOTIFY callbacks from the local status monitor after
// registering interest in a peer via nlmcore's SM client. Registering and
// unregistering monitoring (SM_MON/SM_UNMON/SM_UNMON_ALL) and answering
// SM_STAT queries are the monitor's own job, not this daemon's - those
// procedures are served by whatever rpc.statd is already running on the
// host, not by nlmd.
package handlers

import (
	"context"

	"github.com/lockd/nlmd/internal/nlmcore"
)

// NSMHandlerContext carries per-call context for NSM procedure handlers.
type NSMHandlerContext struct {
	Context    context.Context
	ClientAddr string
}

// Handler bridges inbound NSM calls into the zone's recovery engine.
type Handler struct {
	zone *nlmcore.Zone
}

// NewHandler builds a Handler bound to zone.
func NewHandler(zone *nlmcore.Zone) *Handler {
	return &Handler{zone: zone}
}

// Null handles the SM_NULL procedure (procedure 0): a no-op reachability
// check, answered unconditionally.
func (h *Handler) Null(_ *NSMHandlerContext) error {
	return nil
}
