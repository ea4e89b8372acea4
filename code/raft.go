package code

import "github.com/pkg/errors"

// Protocol safety violations. Any of these means the caller's replication
// logic is broken and the node must stop.
var (
	ErrCommittedOverwrite = errors.New("append would overwrite committed entries")
	ErrAppliedOutOfRange  = errors.New("applied index is out of range [applied, committed]")
	ErrCommitOutOfRange   = errors.New("commit index is out of range of the log")
	ErrInvalidSlice       = errors.New("invalid log slice, low > high")
	ErrSliceOutOfBound    = errors.New("log slice is out of bound")
)

var ErrInflightsFull = errors.New("cannot add into a full inflights")

var (
	ErrStepPeerNotFound = errors.New("raft: cannot step as peer not found")
	ErrStopped          = errors.New("raft: stopped")
	ErrProposalDrop     = errors.New("raft proposal dropped")
)

var safetyViolations = []error{
	ErrCommittedOverwrite,
	ErrAppliedOutOfRange,
	ErrCommitOutOfRange,
	ErrInvalidSlice,
	ErrSliceOutOfBound,
}

// IsSafetyViolation reports whether err wraps one of the protocol safety
// violations.
func IsSafetyViolation(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range safetyViolations {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsStorageBoundary reports whether err is a recoverable storage condition
// the caller is expected to handle, typically by sending a snapshot.
func IsStorageBoundary(err error) bool {
	return errors.Is(err, ErrCompacted) || errors.Is(err, ErrUnavailable)
}
