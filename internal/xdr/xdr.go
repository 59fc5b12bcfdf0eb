// Package xdr provides generic RFC 4506 XDR primitive encode/decode helpers
// shared by the NLM, NSM and portmap wire codecs.
package xdr

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxOpaqueLen bounds any single opaque/string decode to guard against
// a corrupt or hostile length prefix forcing an unbounded allocation.
const MaxOpaqueLen = 1 << 20

// padLen returns the number of zero bytes needed to pad n up to a
// multiple of 4, per XDR's alignment rule.
func padLen(n int) int {
	return (4 - (n % 4)) % 4
}

// EncodeUint32 writes a big-endian uint32.
func EncodeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// DecodeUint32 reads a big-endian uint32.
func DecodeUint32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// EncodeInt32 writes a big-endian int32.
func EncodeInt32(w io.Writer, v int32) error {
	return EncodeUint32(w, uint32(v))
}

// DecodeInt32 reads a big-endian int32.
func DecodeInt32(r io.Reader) (int32, error) {
	v, err := DecodeUint32(r)
	if err != nil {
		return 0, err
	}
	return int32(v), nil
}

// EncodeUint64 writes a big-endian uint64 (NLM v4 offsets/lengths).
func EncodeUint64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// DecodeUint64 reads a big-endian uint64.
func DecodeUint64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// EncodeBool writes an XDR bool as a uint32 (0 or 1).
func EncodeBool(w io.Writer, v bool) error {
	if v {
		return EncodeUint32(w, 1)
	}
	return EncodeUint32(w, 0)
}

// DecodeBool reads an XDR bool.
func DecodeBool(r io.Reader) (bool, error) {
	v, err := DecodeUint32(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// EncodeOpaque writes a variable-length opaque: length prefix, raw bytes,
// zero padding to the next 4-byte boundary.
func EncodeOpaque(w io.Writer, data []byte) error {
	if err := EncodeUint32(w, uint32(len(data))); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if p := padLen(len(data)); p > 0 {
		var pad [3]byte
		if _, err := w.Write(pad[:p]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeOpaque reads a variable-length opaque value.
func DecodeOpaque(r io.Reader) ([]byte, error) {
	n, err := DecodeUint32(r)
	if err != nil {
		return nil, err
	}
	if n > MaxOpaqueLen {
		return nil, fmt.Errorf("xdr: opaque length %d exceeds max %d", n, MaxOpaqueLen)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	if p := padLen(int(n)); p > 0 {
		var pad [3]byte
		if _, err := io.ReadFull(r, pad[:p]); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// EncodeString writes a variable-length string using the same wire
// representation as opaque data.
func EncodeString(w io.Writer, s string) error {
	return EncodeOpaque(w, []byte(s))
}

// DecodeString reads a variable-length string.
func DecodeString(r io.Reader) (string, error) {
	data, err := DecodeOpaque(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeFixedOpaque writes exactly len(data) bytes padded to a 4-byte
// boundary, with no length prefix (used for fixed-size fields such as
// the SM priv cookie).
func EncodeFixedOpaque(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return err
	}
	if p := padLen(len(data)); p > 0 {
		var pad [3]byte
		if _, err := w.Write(pad[:p]); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFixedOpaque reads exactly n bytes padded to a 4-byte boundary.
func DecodeFixedOpaque(r io.Reader, n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	if p := padLen(n); p > 0 {
		var pad [3]byte
		if _, err := io.ReadFull(r, pad[:p]); err != nil {
			return nil, err
		}
	}
	return data, nil
}
