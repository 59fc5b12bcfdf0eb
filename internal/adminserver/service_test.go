package adminserver

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lockd/nlmd/internal/localfs"
	"github.com/lockd/nlmd/internal/nlmcore"
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

func TestListHostsEmptyRegistry(t *testing.T) {
	svc := &adminService{zone: newTestZone(t)}

	resp, err := svc.ListHosts(context.Background(), &ListHostsRequest{})
	require.NoError(t, err)
	assert.Empty(t, resp.Hosts)
}

func TestListHostsReturnsRegisteredHost(t *testing.T) {
	zone := newTestZone(t)
	svc := &adminService{zone: zone}

	id := nlmcore.Identity{Name: "client-a", Netid: "tcp", IP: net.ParseIP("10.0.0.5"), Port: 4045}
	host, err := zone.Registry.FindOrCreate(id, true)
	require.NoError(t, err)

	resp, err := svc.ListHosts(context.Background(), &ListHostsRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Hosts, 1)

	got := resp.Hosts[0]
	assert.Equal(t, int32(host.Sysid()), got.Sysid)
	assert.Equal(t, "client-a", got.Name)
	assert.Equal(t, "tcp", got.Netid)
	assert.Equal(t, "10.0.0.5", got.Address)
	assert.Equal(t, uint32(4045), got.Port)
	assert.False(t, got.Monitored)
	assert.False(t, got.Reclaiming)
}

func TestListVholdsUnknownSysidReturnsNotFound(t *testing.T) {
	svc := &adminService{zone: newTestZone(t)}

	_, err := svc.ListVholds(context.Background(), &ListVholdsRequest{Sysid: 999})
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestListVholdsReturnsPinnedVholds(t *testing.T) {
	zone := newTestZone(t)
	svc := &adminService{zone: zone}

	id := nlmcore.Identity{Name: "client-b", Netid: "tcp", IP: net.ParseIP("10.0.0.6"), Port: 4045}
	host, err := zone.Registry.FindOrCreate(id, true)
	require.NoError(t, err)

	vhold := host.VholdFor("/export/data/file1")
	defer host.ReleaseVhold(vhold)

	resp, err := svc.ListVholds(context.Background(), &ListVholdsRequest{Sysid: int32(host.Sysid())})
	require.NoError(t, err)
	require.Len(t, resp.Vholds, 1)
	assert.Equal(t, int32(0), resp.Vholds[0].SleepRequests)
}

func TestSimulateCrashWithoutSMReturnsFailedPrecondition(t *testing.T) {
	svc := &adminService{zone: newTestZone(t)}

	_, err := svc.SimulateCrash(context.Background(), &SimulateCrashRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}
