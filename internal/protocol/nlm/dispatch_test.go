package nlm

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/handlers"
	nlm_xdr "github.com/lockd/nlmd/internal/protocol/nlm/xdr"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
)

func TestDispatchTableCoversEveryListedProcedure(t *testing.T) {
	for proc, name := range map[uint32]string{
		types.NLMProcNull:    "NULL",
		types.NLMProcTest:    "TEST",
		types.NLMProcLock:    "LOCK",
		types.NLMProcCancel:  "CANCEL",
		types.NLMProcUnlock:  "UNLOCK",
		types.NLMProcGranted: "GRANTED",
		types.NLMProcShare:   "SHARE",
		types.NLMProcUnshare: "UNSHARE",
		types.NLMProcFreeAll: "FREE_ALL",
	} {
		p, ok := DispatchTable[proc]
		require.True(t, ok, "missing dispatch entry for %s", name)
		assert.Equal(t, name, p.Name)
	}
}

func TestDispatchNullReturnsEmptyReply(t *testing.T) {
	reply, err := DispatchTable[types.NLMProcNull].Handler(nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, reply)
}

func TestDispatchTestRoundTripsThroughHandler(t *testing.T) {
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	zone := nlmcore.NewZone(nlmcore.ZoneConfig{GracePeriod: 0}, nil, lm, shares, resolver, nil, nil)
	zone.Grace.End()
	h := handlers.NewHandler(zone)

	ctx := &handlers.NLMHandlerContext{Context: context.Background(), ClientAddr: "10.1.1.1:4045", Netid: "tcp"}

	args := &types.NLM4TestArgs{
		Cookie:    []byte("d1"),
		Exclusive: true,
		Lock: types.NLM4Lock{
			CallerName: "dispatch-client",
			FH:         []byte("fh-d1"),
			OH:         []byte("oh-d1"),
			Svid:       1,
			Offset:     0,
			Length:     10,
		},
	}
	var buf bytes.Buffer
	require.NoError(t, nlm_xdr.EncodeNLM4TestArgs(&buf, args))

	reply, err := DispatchTable[types.NLMProcTest].Handler(ctx, h, buf.Bytes())
	require.NoError(t, err)
	assert.NotEmpty(t, reply)
}
