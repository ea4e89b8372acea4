package raft

import (
	"fmt"
	"math"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/log"
	"github.com/ColdToo/Cold2Raft/utils"
	"github.com/gogo/protobuf/proto"
	"github.com/pkg/errors"
	pb "go.etcd.io/etcd/raft/raftpb"
)

const noLimit = math.MaxUint64

//  log structure
//
//	snapshot/first.................. applied............ committed.............last
//	--------|------------storage-------------|-----------unstable entries-------|
//
// RaftLog reconciles the persisted log in Storage with the unstable tail kept
// in memory. It is owned by exactly one step goroutine and never locked.
type RaftLog struct {
	// storage contains all stable entries since the last snapshot.
	storage Storage

	// unstable contains all unstable entries and snapshot.
	// they will be saved into the storage.
	unstable unstable

	// committed is the highest log position that is known to be in
	// stable storage on a quorum of nodes.
	committed uint64

	// applied is the highest log position that the application has
	// been instructed to apply to its state machine.
	// Invariant: applied <= committed
	applied uint64
}

// NewRaftLog returns a log using the given storage. It recovers the log to the
// state that it just commits and applies the latest snapshot.
func NewRaftLog(storage Storage) *RaftLog {
	if storage == nil {
		log.Panic("storage must not be nil").Record()
	}
	firstIndex, err := storage.FirstIndex()
	if err != nil {
		log.Panic("storage first index is not available").Err(code.StorageErr, err).Record()
	}
	lastIndex, err := storage.LastIndex()
	if err != nil {
		log.Panic("storage last index is not available").Err(code.StorageErr, err).Record()
	}

	l := &RaftLog{storage: storage}
	l.unstable.offset = lastIndex + 1
	// Initialize our committed and applied pointers to the time of the last compaction.
	l.committed = firstIndex - 1
	l.applied = firstIndex - 1
	return l
}

func (l *RaftLog) String() string {
	return fmt.Sprintf("committed=%d, applied=%d, unstable.offset=%d, len(unstable.Entries)=%d",
		l.committed, l.applied, l.unstable.offset, len(l.unstable.entries))
}

func (l *RaftLog) Committed() uint64 { return l.committed }

func (l *RaftLog) Applied() uint64 { return l.applied }

func (l *RaftLog) FirstIndex() uint64 {
	if i, ok := l.unstable.maybeFirstIndex(); ok {
		return i
	}
	index, err := l.storage.FirstIndex()
	if err != nil {
		log.Panic("storage first index is not available").Err(code.StorageErr, err).Record()
	}
	return index
}

func (l *RaftLog) LastIndex() uint64 {
	if i, ok := l.unstable.maybeLastIndex(); ok {
		return i
	}
	i, err := l.storage.LastIndex()
	if err != nil {
		log.Panic("storage last index is not available").Err(code.StorageErr, err).Record()
	}
	return i
}

// Term returns the term of the entry at index i. Indexes outside
// [FirstIndex()-1, LastIndex()] have term 0. FirstIndex()-1 is the dummy entry
// right before everything the log still holds; its term is 0 unless a snapshot
// recorded one.
func (l *RaftLog) Term(i uint64) (uint64, error) {
	dummyIndex := l.FirstIndex() - 1
	if i < dummyIndex || i > l.LastIndex() {
		return 0, nil
	}

	if t, ok := l.unstable.maybeTerm(i); ok {
		return t, nil
	}

	t, err := l.storage.Term(i)
	if err == nil {
		return t, nil
	}
	if code.IsStorageBoundary(err) {
		return 0, err
	}
	log.Panic("unexpected storage error").U64(code.Index, i).Err(code.StorageErr, err).Record()
	return 0, err
}

// LastTerm returns the term of the last entry. A compacted or unavailable
// last entry is reported to the caller.
func (l *RaftLog) LastTerm() (uint64, error) {
	return l.Term(l.LastIndex())
}

// MatchTerm reports whether the entry at i has the given term. A compacted or
// unavailable entry never matches.
func (l *RaftLog) MatchTerm(i, term uint64) bool {
	t, err := l.Term(i)
	if err != nil {
		return false
	}
	return t == term
}

// Append adds ents to the unstable tail and returns the new last index.
// Entries that would replace committed history are refused.
func (l *RaftLog) Append(ents ...pb.Entry) (uint64, error) {
	if len(ents) == 0 {
		return l.LastIndex(), nil
	}
	if first := ents[0].Index; first <= l.committed {
		return 0, errors.Wrapf(code.ErrCommittedOverwrite, "first index(%d) is out of range [committed(%d)]", first, l.committed)
	}
	l.unstable.truncateAndAppend(ents)
	return l.LastIndex(), nil
}

// AppliedTo moves the applied cursor forward. Zero is ignored.
func (l *RaftLog) AppliedTo(i uint64) error {
	if i == 0 {
		return nil
	}
	if l.committed < i || i < l.applied {
		return errors.Wrapf(code.ErrAppliedOutOfRange, "applied(%d) is out of range [prevApplied(%d), committed(%d)]", i, l.applied, l.committed)
	}
	l.applied = i
	return nil
}

// CommitTo raises committed to tocommit. It never decreases committed.
func (l *RaftLog) CommitTo(tocommit uint64) error {
	if l.committed < tocommit {
		if l.LastIndex() < tocommit {
			return errors.Wrapf(code.ErrCommitOutOfRange, "tocommit(%d) is out of range [lastIndex(%d)]", tocommit, l.LastIndex())
		}
		l.committed = tocommit
	}
	return nil
}

// MaybeCommit commits up to maxIndex if the entry there belongs to term. Only
// entries of the leader's own term are committed by counting replicas.
func (l *RaftLog) MaybeCommit(maxIndex, term uint64) (bool, error) {
	if maxIndex <= l.committed {
		return false, nil
	}
	if !l.MatchTerm(maxIndex, term) {
		return false, nil
	}
	if err := l.CommitTo(maxIndex); err != nil {
		return false, err
	}
	return true, nil
}

// UnstableEntries returns the entries that are not persisted yet.
func (l *RaftLog) UnstableEntries() []pb.Entry {
	if len(l.unstable.entries) == 0 {
		return nil
	}
	return l.unstable.entries
}

// StableTo marks the unstable entries up to i, of term t, as persisted.
func (l *RaftLog) StableTo(i, t uint64) { l.unstable.stableTo(i, t) }

// NextEnts returns all the available entries for execution.
// If applied is smaller than the index of snapshot, it returns all committed
// entries after the index of snapshot.
func (l *RaftLog) NextEnts() ([]pb.Entry, error) {
	off := utils.MaxU64(l.applied+1, l.FirstIndex())
	if l.committed+1 > off {
		return l.Slice(off, l.committed+1, noLimit)
	}
	return nil, nil
}

// HasNextEnts returns if there is any available entries for execution.
func (l *RaftLog) HasNextEnts() bool {
	off := utils.MaxU64(l.applied+1, l.FirstIndex())
	return l.committed+1 > off
}

// Entries returns entries from i up to the end of the log, at most maxSize
// bytes worth.
func (l *RaftLog) Entries(i, maxSize uint64) ([]pb.Entry, error) {
	if i > l.LastIndex() {
		return nil, nil
	}
	return l.Slice(i, l.LastIndex()+1, maxSize)
}

// Slice returns a slice of log entries from lo through hi-1, inclusive.
func (l *RaftLog) Slice(lo, hi, maxSize uint64) ([]pb.Entry, error) {
	if err := l.MustCheckOutOfBounds(lo, hi); err != nil {
		return nil, err
	}
	if lo == hi {
		return nil, nil
	}
	var ents []pb.Entry
	if lo < l.unstable.offset {
		storedEnts, err := l.storage.Entries(lo, utils.MinU64(hi, l.unstable.offset))
		if err != nil {
			if code.IsStorageBoundary(err) {
				return nil, err
			}
			log.Panic("unexpected storage error").U64(code.Index, lo).Err(code.StorageErr, err).Record()
		}

		// check if ents has reached the size limitation
		if uint64(len(storedEnts)) < utils.MinU64(hi, l.unstable.offset)-lo {
			return limitSize(storedEnts, maxSize), nil
		}

		ents = storedEnts
	}
	if hi > l.unstable.offset {
		unstable := l.unstable.slice(utils.MaxU64(lo, l.unstable.offset), hi)
		if len(ents) > 0 {
			combined := make([]pb.Entry, len(ents)+len(unstable))
			n := copy(combined, ents)
			copy(combined[n:], unstable)
			ents = combined
		} else {
			ents = unstable
		}
	}
	return limitSize(ents, maxSize), nil
}

// MustCheckOutOfBounds must pass before any slice [lo, hi) of the log is
// materialized: l.FirstIndex() <= lo <= hi <= l.LastIndex()+1.
func (l *RaftLog) MustCheckOutOfBounds(lo, hi uint64) error {
	if lo > hi {
		return errors.Wrapf(code.ErrInvalidSlice, "invalid slice %d > %d", lo, hi)
	}
	fi := l.FirstIndex()
	if lo < fi {
		return code.ErrCompacted
	}

	length := l.LastIndex() + 1 - fi
	if hi > fi+length {
		return errors.Wrapf(code.ErrSliceOutOfBound, "slice[%d,%d) out of bound [%d,%d]", lo, hi, fi, l.LastIndex())
	}
	return nil
}

// DescribeEntry renders an entry in the compact protobuf text form for debug logs.
func DescribeEntry(e pb.Entry) string {
	return proto.CompactTextString(&e)
}

// limitSize keeps the longest prefix of ents within maxSize bytes, but never
// drops the first entry.
func limitSize(ents []pb.Entry, maxSize uint64) []pb.Entry {
	if len(ents) == 0 || maxSize == noLimit {
		return ents
	}
	size := proto.Size(&ents[0])
	var limit int
	for limit = 1; limit < len(ents); limit++ {
		size += proto.Size(&ents[limit])
		if uint64(size) > maxSize {
			break
		}
	}
	return ents[:limit]
}
