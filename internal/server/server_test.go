package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/nlmcore"
	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	nsmtypes "github.com/lockd/nlmd/internal/protocol/nsm/types"
	"github.com/lockd/nlmd/internal/rpc"
)

func newTestZone(t *testing.T) *nlmcore.Zone {
	t.Helper()
	lm := localfs.NewLockManager()
	sm := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	zone := nlmcore.NewZone(nlmcore.ZoneConfig{}, nil, lm, sm, resolver, nil, nil)
	zone.Start(context.Background())
	t.Cleanup(func() { zone.Shutdown(context.Background()) })
	return zone
}

// stripRecordMark unwraps the record-marked reply dispatch returns into the
// bare RPC REPLY message that rpc.ParseReply decodes.
func stripRecordMark(t *testing.T, reply []byte) []byte {
	t.Helper()
	body, err := rpc.ReadRecord(bytes.NewReader(reply), maxRecordLen)
	require.NoError(t, err)
	return body
}

func TestDispatchUnknownProgramReturnsProgUnavail(t *testing.T) {
	srv := New(newTestZone(t))

	call, err := rpc.BuildCallMessage(7, 999999, 1, 0, nil)
	require.NoError(t, err)

	reply, err := srv.dispatch(context.Background(), "127.0.0.1:1", call)
	require.NoError(t, err)

	xid, acceptStat, _, err := rpc.ParseReply(stripRecordMark(t, reply))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), xid)
	assert.Equal(t, rpc.RPCProgUnavail, acceptStat)
}

func TestDispatchNLMVersionMismatch(t *testing.T) {
	srv := New(newTestZone(t))

	call, err := rpc.BuildCallMessage(11, types.ProgramNLM, 99, types.NLMProcNull, nil)
	require.NoError(t, err)

	reply, err := srv.dispatch(context.Background(), "127.0.0.1:1", call)
	require.NoError(t, err)

	xid, acceptStat, _, err := rpc.ParseReply(stripRecordMark(t, reply))
	require.NoError(t, err)
	assert.Equal(t, uint32(11), xid)
	assert.Equal(t, rpc.RPCProgMismatch, acceptStat)
}

func TestDispatchNLMNullRoundTrip(t *testing.T) {
	srv := New(newTestZone(t))

	call, err := rpc.BuildCallMessage(22, types.ProgramNLM, types.NLMVersion4, types.NLMProcNull, nil)
	require.NoError(t, err)

	reply, err := srv.dispatch(context.Background(), "127.0.0.1:1", call)
	require.NoError(t, err)

	xid, acceptStat, results, err := rpc.ParseReply(stripRecordMark(t, reply))
	require.NoError(t, err)
	assert.Equal(t, uint32(22), xid)
	assert.Equal(t, rpc.RPCSuccess, acceptStat)
	assert.Empty(t, results)
}

func TestDispatchNSMUnknownProcedure(t *testing.T) {
	srv := New(newTestZone(t))

	call, err := rpc.BuildCallMessage(5, nsmtypes.ProgramNSM, nsmtypes.SMVersion1, 99, nil)
	require.NoError(t, err)

	reply, err := srv.dispatch(context.Background(), "127.0.0.1:1", call)
	require.NoError(t, err)

	_, acceptStat, _, err := rpc.ParseReply(stripRecordMark(t, reply))
	require.NoError(t, err)
	assert.Equal(t, rpc.RPCProcUnavail, acceptStat)
}

func TestServeRespectsContextCancellation(t *testing.T) {
	srv := New(newTestZone(t))
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ctx, "127.0.0.1:0") }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	conn.Close()

	cancel()
	require.NoError(t, <-errCh)
}
