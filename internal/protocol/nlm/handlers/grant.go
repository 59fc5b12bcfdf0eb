package handlers

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/portmap"
	"github.com/lockd/nlmd/internal/protocol/nlm/callback"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
)

// GrantCallback adapts callback.SendGrantedCallback into nlmcore's
// GrantCallback collaborator interface. Every call resolves the peer's NLM
// port fresh via its portmapper rather than caching one, since a peer that
// rebooted between taking out the blocked lock and its grant may be
// listening on a different port.
type GrantCallback struct {
	// LocalName is the caller_name this host advertises to peers, echoed
	// back into the NLM4Lock of the callback.
	LocalName string
}

// NewGrantCallback builds a GrantCallback that identifies this host as
// localName in outbound NLM_GRANTED calls.
func NewGrantCallback(localName string) *GrantCallback {
	return &GrantCallback{LocalName: localName}
}

// Grant implements nlmcore.GrantCallback.
func (g *GrantCallback) Grant(ctx context.Context, host *nlmcore.Host, desc nlmcore.LockDesc, fh []byte, cookie []byte) error {
	id := host.Identity()

	port, err := portmap.GetPort(ctx, id.IP.String(), types.ProgramNLM, types.NLMVersion4, portmap.ProtoTCP)
	if err != nil {
		return fmt.Errorf("grant callback: resolve NLM port on %s: %w", id.IP, err)
	}
	addr := net.JoinHostPort(id.IP.String(), strconv.Itoa(int(port)))

	args := &types.NLM4GrantedArgs{
		Cookie:    cookie,
		Exclusive: desc.Excl,
		Lock: types.NLM4Lock{
			CallerName: g.LocalName,
			FH:         fh,
			OH:         []byte(fmt.Sprintf("%d", desc.Pid)),
			Svid:       desc.Pid,
			Offset:     desc.Start,
			Length:     desc.Len,
		},
	}

	logger.Debug("nlm: sending GRANTED callback", "peer", id.Name, "addr", addr)
	if err := callback.SendGrantedCallback(ctx, addr, types.ProgramNLM, types.NLMVersion4, args); err != nil {
		return fmt.Errorf("grant callback to %s: %w", addr, err)
	}
	return nil
}
