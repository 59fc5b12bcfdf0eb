package rpc

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddRecordMarkSetsLastFragmentBit(t *testing.T) {
	msg := []byte{1, 2, 3}
	framed := AddRecordMark(msg, true)
	require.Len(t, framed, 4+len(msg))

	header := binary.BigEndian.Uint32(framed[:4])
	assert.Equal(t, uint32(0x80000000|len(msg)), header)
	assert.Equal(t, msg, framed[4:])
}

func TestAddRecordMarkWithoutLastFragmentClearsTopBit(t *testing.T) {
	framed := AddRecordMark([]byte{9, 9}, false)
	header := binary.BigEndian.Uint32(framed[:4])
	assert.Equal(t, uint32(2), header)
}

func TestReadRecordReassemblesMultipleFragments(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(AddRecordMark([]byte("hello "), false))
	buf.Write(AddRecordMark([]byte("world"), true))

	out, err := ReadRecord(&buf, 1024)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(out))
}

func TestReadRecordRejectsOversizedRecord(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(AddRecordMark(make([]byte, 100), true))

	_, err := ReadRecord(&buf, 10)
	assert.Error(t, err)
}

func TestBuildCallMessageRoundTripsThroughParseCall(t *testing.T) {
	msg, err := BuildCallMessage(42, 100021, 4, 5, []byte("args"))
	require.NoError(t, err)

	call, err := ParseCall(msg)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), call.XID)
	assert.Equal(t, uint32(100021), call.Program)
	assert.Equal(t, uint32(4), call.Version)
	assert.Equal(t, uint32(5), call.Proc)
	assert.Equal(t, AuthNull, call.AuthFlavor)
	assert.Equal(t, []byte("args"), call.Args)
}

func TestMakeAcceptedReplyRoundTripsThroughParseReply(t *testing.T) {
	framed, err := MakeAcceptedReply(7, []byte("result-bytes"))
	require.NoError(t, err)

	body, err := ReadRecord(bytes.NewReader(framed), 4096)
	require.NoError(t, err)

	xid, acceptStat, results, err := ParseReply(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), xid)
	assert.Equal(t, RPCSuccess, acceptStat)
	assert.Equal(t, []byte("result-bytes"), results)
}

func TestMakeErrorReplyCarriesAcceptStat(t *testing.T) {
	framed, err := MakeErrorReply(3, RPCProcUnavail)
	require.NoError(t, err)

	body, err := ReadRecord(bytes.NewReader(framed), 4096)
	require.NoError(t, err)

	xid, acceptStat, results, err := ParseReply(body)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), xid)
	assert.Equal(t, RPCProcUnavail, acceptStat)
	assert.Empty(t, results)
}

func TestMakeProgMismatchReplyRejectsInvertedRange(t *testing.T) {
	_, err := MakeProgMismatchReply(1, 4, 2)
	assert.Error(t, err)
}

func TestParseUnixAuthDecodesCredential(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []uint32{1234} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	name := "client-host"
	require.NoError(t, binary.Write(&buf, binary.BigEndian, uint32(len(name))))
	buf.WriteString(name)
	if pad := (4 - len(name)%4) % 4; pad > 0 {
		buf.Write(make([]byte, pad))
	}
	for _, v := range []uint32{501, 20, 2, 20, 99} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}

	auth, err := ParseUnixAuth(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint32(1234), auth.Stamp)
	assert.Equal(t, name, auth.MachineName)
	assert.Equal(t, uint32(501), auth.UID)
	assert.Equal(t, uint32(20), auth.GID)
	assert.Equal(t, []uint32{20, 99}, auth.GIDs)
}

func TestParseUnixAuthRejectsTooManyGIDs(t *testing.T) {
	var buf bytes.Buffer
	for _, v := range []uint32{0, 0} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}
	for _, v := range []uint32{0, 0, 17} {
		require.NoError(t, binary.Write(&buf, binary.BigEndian, v))
	}

	_, err := ParseUnixAuth(buf.Bytes())
	assert.Error(t, err)
}
