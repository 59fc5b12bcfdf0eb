package nlmcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// startupSM extends fakeSM with the call counters Start's handshake needs to
// be verified against: simu_crash called, then stat fetched and stashed.
type startupSM struct {
	fakeSM
	mu             sync.Mutex
	simuCrashCalls int
	statCalls      int
	statState      int32
	statErr        error
}

func (s *startupSM) SimuCrash(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simuCrashCalls++
	return nil
}

func (s *startupSM) Stat(ctx context.Context) (int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statCalls++
	return s.statState, s.statErr
}

func TestZoneStartRunsSMHandshakeAndStampsNSMState(t *testing.T) {
	sm := &startupSM{statState: 77}
	z := newTestZoneFull(t, sm, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	z.Start(ctx)
	defer z.Shutdown(context.Background())

	sm.mu.Lock()
	assert.Equal(t, 1, sm.simuCrashCalls)
	assert.Equal(t, 1, sm.statCalls)
	sm.mu.Unlock()

	assert.Equal(t, int32(77), z.NSMState())
	assert.Equal(t, Up, z.Status())
}

func TestZoneStartToleratesNilSM(t *testing.T) {
	z := newTestZoneFull(t, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	assert.NotPanics(t, func() { z.Start(ctx) })
	defer z.Shutdown(context.Background())

	assert.Equal(t, int32(0), z.NSMState())
	assert.Equal(t, Up, z.Status())
}

func TestZoneStartStampsGraceDeadlineAfterHandshake(t *testing.T) {
	sm := &startupSM{statState: 1}
	z := newTestZoneFull(t, sm, nil)
	z.cfg.GracePeriod = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	z.Start(ctx)
	defer z.Shutdown(context.Background())

	assert.True(t, z.Grace.Active())
	assert.Error(t, z.Grace.AdmitLockRequest(false))
}
