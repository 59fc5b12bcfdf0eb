package nlmcore

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockd/nlmd/internal/xdr"
)

func TestNewSMClientAppliesDefaults(t *testing.T) {
	c := NewSMClient(SMClientConfig{}, nil)
	assert.Equal(t, "127.0.0.1", c.cfg.Host)
	assert.Equal(t, 5*time.Second, c.cfg.DialTimeout)
	assert.Equal(t, 5, c.cfg.BindRetries)
	assert.Equal(t, 500*time.Millisecond, c.cfg.BindBackoff)
}

func TestNewSMClientPreservesExplicitConfig(t *testing.T) {
	c := NewSMClient(SMClientConfig{Host: "10.1.1.1", BindRetries: 2}, nil)
	assert.Equal(t, "10.1.1.1", c.cfg.Host)
	assert.Equal(t, 2, c.cfg.BindRetries)
}

func TestEncodeMonIDRoundTrips(t *testing.T) {
	cfg := SMClientConfig{CallbackName: "nlmd", CallbackProg: 100021, CallbackVers: 4, CallbackProc: 7}
	priv := [16]byte{1, 2, 3, 4}

	var buf bytes.Buffer
	require.NoError(t, encodeMonID(&buf, "peer-a", cfg, priv))

	r := bytes.NewReader(buf.Bytes())
	name, err := xdr.DecodeString(r)
	require.NoError(t, err)
	assert.Equal(t, "peer-a", name)

	callbackName, err := xdr.DecodeString(r)
	require.NoError(t, err)
	assert.Equal(t, "nlmd", callbackName)

	prog, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(100021), prog)

	vers, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(4), vers)

	proc, err := xdr.DecodeUint32(r)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), proc)

	decodedPriv, err := xdr.DecodeFixedOpaque(r, 16)
	require.NoError(t, err)
	assert.Equal(t, priv[:], decodedPriv)
}

func TestDecodeSMStatResSuccess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.EncodeUint32(&buf, 0))
	require.NoError(t, xdr.EncodeInt32(&buf, 42))

	assert.NoError(t, decodeSMStatRes(buf.Bytes()))
}

func TestDecodeSMStatResFailure(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.EncodeUint32(&buf, 1))
	require.NoError(t, xdr.EncodeInt32(&buf, 0))

	assert.Error(t, decodeSMStatRes(buf.Bytes()))
}

func TestDecodeSMStat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, xdr.EncodeUint32(&buf, 0))
	require.NoError(t, xdr.EncodeInt32(&buf, 99))

	state, err := decodeSMStat(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, int32(99), state)
}
