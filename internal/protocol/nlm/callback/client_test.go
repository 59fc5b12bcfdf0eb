package callback

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/protocol/nlm/types"
	"github.com/lockd/nlmd/internal/rpc"
)

// acceptOneCallAndReply stands in for the blocked peer: it accepts a single
// connection, reads the framed CALL, and writes back a bare accepted reply
// with no results, exactly as a real NLM_GRANTED-handling client would.
func acceptOneCallAndReply(t *testing.T, ln net.Listener) <-chan *rpc.Call {
	calls := make(chan *rpc.Call, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(calls)
			return
		}
		defer func() { _ = conn.Close() }()

		body, err := rpc.ReadRecord(conn, 1<<16)
		if err != nil {
			close(calls)
			return
		}
		call, err := rpc.ParseCall(body)
		if err != nil {
			close(calls)
			return
		}
		calls <- call

		reply, err := rpc.MakeAcceptedReply(call.XID, nil)
		if err != nil {
			return
		}
		_, _ = conn.Write(reply)
	}()
	return calls
}

func TestSendGrantedCallbackDeliversCallAndWaitsForReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	calls := acceptOneCallAndReply(t, ln)

	args := &types.NLM4GrantedArgs{
		Cookie:    []byte("granted-cookie"),
		Exclusive: true,
		Lock: types.NLM4Lock{
			CallerName: "waiting-client",
			FH:         []byte("fh"),
			OH:         []byte("oh"),
			Svid:       3,
			Offset:     0,
			Length:     10,
		},
	}

	err = SendGrantedCallback(context.Background(), ln.Addr().String(), 100021, 4, args)
	require.NoError(t, err)

	select {
	case call, ok := <-calls:
		require.True(t, ok, "listener goroutine failed before receiving a call")
		assert.Equal(t, uint32(100021), call.Program)
		assert.Equal(t, uint32(4), call.Version)
		assert.Equal(t, types.NLMProcGranted, call.Proc)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback to reach listener")
	}
}

func TestSendGrantedCallbackFailsOnUnreachableAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	args := &types.NLM4GrantedArgs{Lock: types.NLM4Lock{CallerName: "x", FH: []byte("f"), OH: []byte("o")}}
	err = SendGrantedCallback(context.Background(), addr, 100021, 4, args)
	assert.Error(t, err)
}

func TestSendGrantedCallbackRespectsContextTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond)

	args := &types.NLM4GrantedArgs{Lock: types.NLM4Lock{CallerName: "x", FH: []byte("f"), OH: []byte("o")}}
	err = SendGrantedCallback(ctx, ln.Addr().String(), 100021, 4, args)
	assert.Error(t, err)
}
