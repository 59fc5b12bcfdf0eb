package handlers

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/nlmcore"
)

func newTestZone(t *testing.T) (*nlmcore.Zone, *localfs.LockManager) {
	t.Helper()
	lm := localfs.NewLockManager()
	shares := localfs.NewShareManager(lm)
	resolver := localfs.NewResolver()
	zone := nlmcore.NewZone(nlmcore.ZoneConfig{GracePeriod: 0}, nil, lm, shares, resolver, nil, nil)
	zone.Grace.End()
	return zone, lm
}

func privFromSysid(sysid int) [16]byte {
	var priv [16]byte
	priv[0] = byte(sysid >> 24)
	priv[1] = byte(sysid >> 16)
	priv[2] = byte(sysid >> 8)
	priv[3] = byte(sysid)
	return priv
}

func TestHandlerNullNeverErrors(t *testing.T) {
	zone, _ := newTestZone(t)
	h := NewHandler(zone)
	assert.NoError(t, h.Null(&NSMHandlerContext{Context: context.Background()}))
}

func TestHandlerNotifyForUnknownHostIsANoop(t *testing.T) {
	zone, _ := newTestZone(t)
	h := NewHandler(zone)
	req := &NotifyRequest{MonName: "nobody", State: 2, Priv: privFromSysid(999)}
	assert.NoError(t, h.Notify(&NSMHandlerContext{Context: context.Background()}, req))
}

func TestHandlerNotifyClearsLocksForKnownHost(t *testing.T) {
	zone, lm := newTestZone(t)
	h := NewHandler(zone)

	id := nlmcore.Identity{Name: "client-a", Netid: "tcp", IP: net.ParseIP("10.0.0.20"), Port: 4045}
	desc := nlmcore.LockDesc{Start: 0, Len: 10, Pid: 1, Excl: true}

	outcome, err := zone.Lock(context.Background(), id, []byte("fh-notify"), desc, false, false, 0, false, []byte("c1"))
	require.NoError(t, err)
	require.Equal(t, nlmcore.Granted, outcome.Code)

	host, ok := zone.Registry.Find(id)
	require.True(t, ok)
	assert.True(t, lm.SysidHasAnyLocks(host.Sysid()))

	req := &NotifyRequest{MonName: id.Name, State: 2, Priv: privFromSysid(host.Sysid())}
	require.NoError(t, h.Notify(&NSMHandlerContext{Context: context.Background()}, req))

	assert.False(t, lm.SysidHasAnyLocks(host.Sysid()))
}

func TestHandlerNotifyWithZeroPrivIsANoop(t *testing.T) {
	zone, _ := newTestZone(t)
	h := NewHandler(zone)
	req := &NotifyRequest{MonName: "x", State: 1}
	assert.NoError(t, h.Notify(&NSMHandlerContext{Context: context.Background()}, req))
}

func TestDecodeNotifyRequestRoundTrips(t *testing.T) {
	var buf []byte
	buf = appendOpaqueString(buf, "restarted-host")
	buf = appendInt32(buf, 4)
	buf = append(buf, make([]byte, 16)...)

	req, err := DecodeNotifyRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, "restarted-host", req.MonName)
	assert.Equal(t, int32(4), req.State)
}

func TestEncodeNotifyResponseIsEmpty(t *testing.T) {
	assert.Empty(t, EncodeNotifyResponse())
}

// appendOpaqueString and appendInt32 hand-roll the two XDR primitives this
// package's own decoder expects, so the round-trip test doesn't need to
// reach into internal/xdr just to build a fixture.
func appendOpaqueString(buf []byte, s string) []byte {
	n := len(s)
	buf = appendInt32(buf, int32(n))
	buf = append(buf, []byte(s)...)
	if pad := (4 - n%4) % 4; pad > 0 {
		buf = append(buf, make([]byte, pad)...)
	}
	return buf
}

func appendInt32(buf []byte, v int32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}
