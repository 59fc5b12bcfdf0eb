// Package xdr decodes the NSM wire structures this daemon actually
// receives: it never runs the monitor itself, so only the SM_NOTIFY
// callback payload needs a decoder here. It has no encoders.
package xdr

import (
	"bytes"
	"fmt"

	"github.com/lockd/nlmd/internal/protocol/nsm/types"
	"github.com/lockd/nlmd/internal/xdr"
)

// DecodeStatus decodes the status structure carried by an inbound SM_NOTIFY
// call: the host that changed state, its new state counter, and the opaque
// priv value the original SM_MON registration supplied.
func DecodeStatus(data []byte) (*types.Status, error) {
	r := bytes.NewReader(data)

	monName, err := xdr.DecodeString(r)
	if err != nil {
		return nil, fmt.Errorf("decode mon_name: %w", err)
	}
	state, err := xdr.DecodeInt32(r)
	if err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	priv, err := xdr.DecodeFixedOpaque(r, 16)
	if err != nil {
		return nil, fmt.Errorf("decode priv: %w", err)
	}

	status := &types.Status{MonName: monName, State: state}
	copy(status.Priv[:], priv)
	return status, nil
}
