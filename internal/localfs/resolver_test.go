package localfs

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolverResolveAcceptsNewHandle(t *testing.T) {
	r := NewResolver()
	vp, ok := r.Resolve([]byte{1, 2, 3, 4})
	assert.True(t, ok)
	assert.NotNil(t, vp)
}

func TestResolverResolveIsStableAcrossCalls(t *testing.T) {
	r := NewResolver()
	vp1, ok := r.Resolve([]byte{0xaa, 0xbb})
	assert.True(t, ok)
	vp2, ok := r.Resolve([]byte{0xaa, 0xbb})
	assert.True(t, ok)
	assert.Equal(t, vp1, vp2)
}

func TestResolverDistinctHandlesResolveDistinctly(t *testing.T) {
	r := NewResolver()
	vp1, _ := r.Resolve([]byte{1})
	vp2, _ := r.Resolve([]byte{2})
	assert.NotEqual(t, vp1, vp2)
}

func TestResolverRejectsEmptyHandle(t *testing.T) {
	r := NewResolver()
	_, ok := r.Resolve(nil)
	assert.False(t, ok)
	_, ok = r.Resolve([]byte{})
	assert.False(t, ok)
}

func TestResolverForgetRemovesHandle(t *testing.T) {
	r := NewResolver()
	fh := []byte{9, 9, 9}
	r.Resolve(fh)
	r.Forget(fh)

	_, known := r.known[hex.EncodeToString(fh)]
	assert.False(t, known)
}
