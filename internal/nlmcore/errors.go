package nlmcore

import "fmt"

// Code is a protocol-visible outcome, matching the NLM4 status space
// described for the request handlers: success, several denial flavors,
// an accepted-but-not-yet-granted state, and two infrastructure failures.
type Code int

const (
	// Granted means the operation succeeded outright.
	Granted Code = iota
	// Denied means a conflicting lock or share exists; retry may succeed later.
	Denied
	// DeniedNoLocks means a resource was exhausted (sysid pool, allocator,
	// worker reservation) and the request cannot be serviced right now.
	DeniedNoLocks
	// DeniedGracePeriod means the request arrived inside the startup grace
	// window and did not carry reclaim=true.
	DeniedGracePeriod
	// Blocked means the request was accepted and a GRANTED back-call will
	// follow once the conflicting holder releases.
	Blocked
	// StaleFH means the file handle did not resolve to a live local file.
	StaleFH
	// Failed means the local lock manager rejected the request for a reason
	// other than conflict (e.g. read-only file system).
	Failed
)

func (c Code) String() string {
	switch c {
	case Granted:
		return "GRANTED"
	case Denied:
		return "DENIED"
	case DeniedNoLocks:
		return "DENIED_NOLOCKS"
	case DeniedGracePeriod:
		return "DENIED_GRACE_PERIOD"
	case Blocked:
		return "BLOCKED"
	case StaleFH:
		return "STALE_FH"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CoreError wraps a protocol-visible Code with a human-readable message for
// logs. Handlers type-switch on Code, never on err.Error() text.
type CoreError struct {
	Code    Code
	Message string
}

func (e *CoreError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...any) *CoreError {
	return &CoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// InvariantViolation is panicked when an internal consistency check that
// spec section 7 calls a "fatal assertion" fails: the core is not expected
// to continue operating past this point.
type InvariantViolation struct {
	What string
}

func (e *InvariantViolation) Error() string {
	return "nlmcore: invariant violation: " + e.What
}

func assertInvariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantViolation{What: fmt.Sprintf(format, args...)})
	}
}
