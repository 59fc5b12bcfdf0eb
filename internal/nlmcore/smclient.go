package nlmcore

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lockd/nlmd/internal/logger"
	"github.com/lockd/nlmd/internal/portmap"
	"github.com/lockd/nlmd/internal/rpc"
	"github.com/lockd/nlmd/internal/xdr"
)

// smProgram, smVersion and the smProc* numbers address the NSM program this
// client speaks to. The
// status monitor lives in the same host as the lock manager (classically a
// separate statd process reached over loopback RPC) but nlmd does not care
// whether it is in-process or not - SMClient always goes over the wire,
// resolving the port via rpcbind the same way any other ONC RPC consumer
// would.
const (
	smProgram = uint32(100024)
	smVersion = uint32(1)

	smProcStat      = uint32(1)
	smProcMon       = uint32(2)
	smProcUnmon     = uint32(3)
	smProcUnmonAll  = uint32(4)
	smProcSimuCrash = uint32(5)

	smMaxReply = 64 * 1024
)

// SMClientConfig configures dialing and retry behavior for the status
// monitor RPC handle.
type SMClientConfig struct {
	Host string // defaults to loopback

	CallbackName string // our own hostname, sent in Mon's my_id
	CallbackProg uint32 // program number the SM calls back on a peer state change
	CallbackVers uint32
	CallbackProc uint32 // procedure number of that state-change callback

	DialTimeout time.Duration
	BindRetries int
	BindBackoff time.Duration
}

// SMClient is the single mutex-guarded handle to the local status monitor
// (spec 4.E). Every operation serializes on mu, matching the "SM
// serialization mutex" named in the global lock ordering (spec 5): registry
// lock < zone mutex < host mutex < SM serialization mutex.
type SMClient struct {
	mu sync.Mutex

	cfg  SMClientConfig
	port uint32 // 0 until successfully bound

	metrics *Metrics
}

// NewSMClient returns a client that lazily binds to the local statd's port
// via rpcbind on first use.
func NewSMClient(cfg SMClientConfig, metrics *Metrics) *SMClient {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.BindRetries == 0 {
		cfg.BindRetries = 5
	}
	if cfg.BindBackoff == 0 {
		cfg.BindBackoff = 500 * time.Millisecond
	}
	return &SMClient{cfg: cfg, metrics: metrics}
}

func (c *SMClient) ensureBound(ctx context.Context) error {
	if c.port != 0 {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < c.cfg.BindRetries; attempt++ {
		port, err := portmap.GetPort(ctx, c.cfg.Host, smProgram, smVersion, portmap.ProtoTCP)
		if err == nil {
			c.port = port
			return nil
		}
		lastErr = err
		logger.Warn("nlmcore: SM rpcbind lookup failed, retrying", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(c.cfg.BindBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("nlmcore: bind SM port: %w", lastErr)
}

func (c *SMClient) call(ctx context.Context, proc uint32, args []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureBound(ctx); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(c.cfg.Host, fmt.Sprintf("%d", c.port))
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		c.port = 0 // force rebind next time; statd may have moved ports
		return nil, fmt.Errorf("dial SM at %s: %w", addr, err)
	}
	defer conn.Close()

	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	xid := uint32(time.Now().UnixNano())
	msg, err := rpc.BuildCallMessage(xid, smProgram, smVersion, proc, args)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(rpc.AddRecordMark(msg, true)); err != nil {
		return nil, fmt.Errorf("write SM call: %w", err)
	}

	raw, err := rpc.ReadRecord(conn, smMaxReply)
	if err != nil {
		return nil, fmt.Errorf("read SM reply: %w", err)
	}
	_, acceptStat, results, err := rpc.ParseReply(raw)
	if err != nil {
		return nil, fmt.Errorf("parse SM reply: %w", err)
	}
	if acceptStat != rpc.RPCSuccess {
		return nil, fmt.Errorf("nlmcore: SM call rejected, accept_stat=%d", acceptStat)
	}
	return results, nil
}

func encodeMonID(buf *bytes.Buffer, hostname string, cfg SMClientConfig, priv [16]byte) error {
	if err := xdr.EncodeString(buf, hostname); err != nil {
		return err
	}
	if err := xdr.EncodeString(buf, cfg.CallbackName); err != nil {
		return err
	}
	if err := xdr.EncodeUint32(buf, cfg.CallbackProg); err != nil {
		return err
	}
	if err := xdr.EncodeUint32(buf, cfg.CallbackVers); err != nil {
		return err
	}
	if err := xdr.EncodeUint32(buf, cfg.CallbackProc); err != nil {
		return err
	}
	return xdr.EncodeFixedOpaque(buf, priv[:])
}

// Mon registers hostname with the status monitor, using privSysid (encoded
// as the low 32 bits of the priv field) to correlate a later crash
// notification back to the host record that asked for it.
func (c *SMClient) Mon(ctx context.Context, hostname string, privSysid int) error {
	var priv [16]byte
	be := uint32(privSysid)
	priv[0] = byte(be >> 24)
	priv[1] = byte(be >> 16)
	priv[2] = byte(be >> 8)
	priv[3] = byte(be)

	var buf bytes.Buffer
	if err := encodeMonID(&buf, hostname, c.cfg, priv); err != nil {
		return err
	}

	reply, err := c.call(ctx, smProcMon, buf.Bytes())
	if err != nil {
		return err
	}
	return decodeSMStatRes(reply)
}

// Unmon removes monitoring for a single host.
func (c *SMClient) Unmon(ctx context.Context, hostname string) error {
	var buf bytes.Buffer
	if err := xdr.EncodeString(&buf, hostname); err != nil {
		return err
	}
	_, err := c.call(ctx, smProcUnmon, buf.Bytes())
	return err
}

// UnmonAll drops every outstanding monitor registration this instance holds,
// used on clean shutdown so a restart is not mistaken for a crash by peers.
func (c *SMClient) UnmonAll(ctx context.Context) error {
	var buf bytes.Buffer
	if err := xdr.EncodeString(&buf, c.cfg.CallbackName); err != nil {
		return err
	}
	_, err := c.call(ctx, smProcUnmonAll, buf.Bytes())
	return err
}

// Stat returns the monitor's current state counter for liveness probing.
func (c *SMClient) Stat(ctx context.Context) (int32, error) {
	var buf bytes.Buffer
	if err := xdr.EncodeString(&buf, c.cfg.CallbackName); err != nil {
		return 0, err
	}
	reply, err := c.call(ctx, smProcStat, buf.Bytes())
	if err != nil {
		return 0, err
	}
	return decodeSMStat(reply)
}

// SimuCrash asks the local monitor to bump its state counter and fan
// SM_NOTIFY out to every registered watcher, as if this instance had just
// rebooted. Test-only hook, grounded on the protocol's own SIMU_CRASH
// procedure rather than invented here.
func (c *SMClient) SimuCrash(ctx context.Context) error {
	_, err := c.call(ctx, smProcSimuCrash, nil)
	return err
}

func decodeSMStatRes(reply []byte) error {
	r := bytes.NewReader(reply)
	result, err := xdr.DecodeUint32(r)
	if err != nil {
		return err
	}
	if _, err := xdr.DecodeInt32(r); err != nil {
		return err
	}
	if result != 0 {
		return fmt.Errorf("nlmcore: SM returned STAT_FAIL")
	}
	return nil
}

func decodeSMStat(reply []byte) (int32, error) {
	r := bytes.NewReader(reply)
	if _, err := xdr.DecodeUint32(r); err != nil {
		return 0, err
	}
	return xdr.DecodeInt32(r)
}
