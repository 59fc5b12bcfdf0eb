package nsm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nsm/handlers"
	"github.com/lockd/nlmd/internal/protocol/nsm/types"
)

func TestDispatchTableCoversBothServedProcedures(t *testing.T) {
	for proc, name := range map[uint32]string{
		types.SMProcNull:   "NULL",
		types.SMProcNotify: "NOTIFY",
	} {
		p, ok := DispatchTable[proc]
		require.True(t, ok, "missing dispatch entry for %s", name)
		assert.Equal(t, name, p.Name)
	}
}

func TestDispatchNullReturnsEmptyReply(t *testing.T) {
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	zone := nlmcore.NewZone(nlmcore.ZoneConfig{GracePeriod: 0}, nil, lm, shares, resolver, nil, nil)
	zone.Grace.End()
	h := handlers.NewHandler(zone)

	ctx := &handlers.NSMHandlerContext{Context: context.Background()}
	reply, err := DispatchTable[types.SMProcNull].Handler(ctx, h, nil)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestDispatchNotifyRoundTripsThroughHandler(t *testing.T) {
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	zone := nlmcore.NewZone(nlmcore.ZoneConfig{GracePeriod: 0}, nil, lm, shares, resolver, nil, nil)
	zone.Grace.End()
	h := handlers.NewHandler(zone)

	ctx := &handlers.NSMHandlerContext{Context: context.Background()}

	var buf []byte
	buf = appendOpaqueStringNSM(buf, "some-host")
	buf = appendInt32NSM(buf, 2)
	buf = append(buf, make([]byte, 16)...)

	reply, err := DispatchTable[types.SMProcNotify].Handler(ctx, h, buf)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func appendOpaqueStringNSM(buf []byte, s string) []byte {
	n := len(s)
	buf = appendInt32NSM(buf, int32(n))
	buf = append(buf, []byte(s)...)
	if pad := (4 - n%4) % 4; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

func appendInt32NSM(buf []byte, v int32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
