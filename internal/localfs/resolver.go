package localfs

import (
	"encoding/hex"
	"sync"

	"github.com/lockd/nlmd/internal/nlmcore"
)

// Resolver is a reference nlmcore.FileHandleResolver: a process-lifetime
// table mapping opaque file-handle bytes to a stable VP (here, just the hex
// encoding of the handle itself, interned so two handles for the same file
// compare equal as map keys). A real deployment resolves handles into the
// host filesystem's own inode/vnode identity instead.
type Resolver struct {
	mu    sync.Mutex
	known map[string]struct{}
}

// NewResolver returns an empty resolver that accepts any handle on first
// sight (a production resolver would instead reject handles it never
// issued).
func NewResolver() *Resolver {
	return &Resolver{known: make(map[string]struct{})}
}

// Resolve implements nlmcore.FileHandleResolver.
func (r *Resolver) Resolve(fh []byte) (nlmcore.VP, bool) {
	if len(fh) == 0 {
		return nil, false
	}
	key := hex.EncodeToString(fh)

	r.mu.Lock()
	r.known[key] = struct{}{}
	r.mu.Unlock()

	return key, true
}

// Forget removes a handle from the known set, used by tests simulating a
// deleted or stale file.
func (r *Resolver) Forget(fh []byte) {
	r.mu.Lock()
	delete(r.known, hex.EncodeToString(fh))
	r.mu.Unlock()
}
