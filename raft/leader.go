package raft

import (
	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/config"
	"github.com/ColdToo/Cold2Raft/log"
	"github.com/ColdToo/Cold2Raft/raft/tracker"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	pb "go.etcd.io/etcd/raft/raftpb"
)

// None is a placeholder node ID used when there is no peer.
const None uint64 = 0

// defaultCheckQuorumRounds is used when Config.CheckQuorumRounds is unset.
const defaultCheckQuorumRounds = 10

type SnapshotStatus int

const (
	SnapshotFinish  SnapshotStatus = 1
	SnapshotFailure SnapshotStatus = 2
)

// Config contains the parameters to start a leader.
type Config struct {
	// ID is the identity of the local raft. ID cannot be 0.
	ID uint64

	// Term is the term this node leads.
	Term uint64

	// Peers are the voters of the group, ID included.
	Peers []uint64

	Learners []uint64

	// Storage is the storage for raft. raft generates entries to be stored in
	// storage and reads the persisted entries out of it when it needs them.
	Storage Storage

	// Applied is the last applied index. It should only be set when restarting
	// raft. raft will not return entries to the application smaller or equal to
	// Applied.
	Applied uint64

	// MaxSizePerMsg limits the max byte size of each append message. Smaller
	// value lowers the raft recovery cost(initial probing and message lost
	// during normal operation). On the other side, it might affect the
	// throughput during normal replication.
	MaxSizePerMsg uint64

	// MaxInflightMsgs limits the max number of in-flight append messages during
	// optimistic replication phase. The application transportation layer usually
	// has its own sending buffer over TCP/UDP. Setting MaxInflightMsgs to avoid
	// overflowing that sending buffer.
	MaxInflightMsgs int

	// CheckQuorumRounds is the number of heartbeat rounds between two quorum
	// checks. A follower that did not answer within that window is marked
	// inactive and no snapshot is sent to it until it answers again.
	CheckQuorumRounds int
}

// NewConfig builds a Config from the file configuration.
func NewConfig(rc *config.RaftConfig, storage Storage) (*Config, error) {
	maxSize, err := rc.MaxMsgBytes()
	if err != nil {
		return nil, err
	}
	return &Config{
		ID:              rc.ID,
		Term:            rc.Term,
		Peers:           rc.Peers,
		Learners:        rc.Learners,
		Storage:         storage,
		Applied:         rc.Applied,
		MaxSizePerMsg:   maxSize,
		MaxInflightMsgs: rc.MaxInflightMsgs,

		CheckQuorumRounds: rc.CheckQuorumRounds,
	}, nil
}

func (c *Config) validate() error {
	if c.ID == None {
		return errors.New("cannot use none as id")
	}
	if c.MaxInflightMsgs <= 0 {
		return errors.New("max inflight messages must be greater than 0")
	}
	if c.CheckQuorumRounds < 0 {
		return errors.New("check quorum rounds cannot be negative")
	}
	if c.Storage == nil {
		return errors.New("storage cannot be nil")
	}
	for _, id := range c.Peers {
		if id == c.ID {
			return nil
		}
	}
	return errors.Errorf("local id %d is not a voter in %v", c.ID, c.Peers)
}

// Leader drives replication from the leader to every follower. All methods
// must be called from a single goroutine; Node wraps a Leader for hosts that
// need concurrent access.
type Leader struct {
	id   uint64
	term uint64

	raftLog *RaftLog
	prs     tracker.ProgressTracker

	maxMsgSize uint64

	// number of heartbeat rounds since the last quorum check
	heartbeatRounds   int
	checkQuorumRounds int
	quorumActive      bool

	// msgs need to send
	msgs []pb.Message
}

// NewLeader sets up the replication state of a freshly elected leader. Every
// follower starts probing at the leader's last index + 1, and an empty entry of
// the new term is appended so that earlier entries can be committed.
func NewLeader(c *Config) (*Leader, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	raftLog := NewRaftLog(c.Storage)
	lastTerm, err := raftLog.LastTerm()
	if err != nil {
		return nil, errors.WithMessage(err, "read last term")
	}
	if c.Term < lastTerm {
		return nil, errors.Errorf("term %d is behind the last log term %d", c.Term, lastTerm)
	}
	if c.Applied > 0 {
		if err := raftLog.CommitTo(c.Applied); err != nil {
			return nil, err
		}
		if err := raftLog.AppliedTo(c.Applied); err != nil {
			return nil, err
		}
	}

	ld := &Leader{
		id:         c.ID,
		term:       c.Term,
		raftLog:    raftLog,
		prs:        tracker.MakeProgressTracker(c.MaxInflightMsgs),
		maxMsgSize: c.MaxSizePerMsg,

		checkQuorumRounds: c.CheckQuorumRounds,
		quorumActive:      true,
	}
	if ld.maxMsgSize == 0 {
		ld.maxMsgSize = noLimit
	}
	if ld.checkQuorumRounds == 0 {
		ld.checkQuorumRounds = defaultCheckQuorumRounds
	}
	next := raftLog.LastIndex() + 1
	for _, id := range c.Peers {
		ld.prs.InitProgress(id, 0, next, false)
	}
	for _, id := range c.Learners {
		ld.prs.InitProgress(id, 0, next, true)
	}
	// the leader always has itself replicated
	self := ld.prs.Progress[ld.id]
	self.BecomeReplicate()
	self.RecentActive = true

	if _, err := ld.appendEntry(pb.Entry{Data: nil}); err != nil {
		return nil, err
	}
	log.Info("became leader").U64(code.LocalId, ld.id).U64(code.Term, ld.term).
		U64(code.Index, ld.raftLog.LastIndex()).Int("voters", len(ld.prs.VoterNodes())).
		Int("learners", len(ld.prs.LearnerNodes())).Str("max-msg-size", humanize.IBytes(ld.maxMsgSize)).Record()
	return ld, nil
}

// Step advances the replication state with one inbound message.
func (ld *Leader) Step(m pb.Message) error {
	if m.Type == pb.MsgProp {
		if len(m.Entries) == 0 {
			return errors.Wrapf(code.ErrProposalDrop, "%x stepped empty MsgProp", ld.id)
		}
		if _, err := ld.appendEntry(m.Entries...); err != nil {
			return err
		}
		return ld.BcastAppend()
	}

	pr := ld.prs.Progress[m.From]
	if pr == nil {
		log.Debug("no progress available").U64(code.LocalId, ld.id).U64(code.RemoteId, m.From).Record()
		return code.ErrStepPeerNotFound
	}
	switch m.Type {
	case pb.MsgAppResp:
		return ld.handleAppendResponse(m, pr)
	case pb.MsgHeartbeatResp:
		return ld.handleHeartbeatResponse(m, pr)
	case pb.MsgSnapStatus:
		ld.handleSnapStatus(m, pr)
	case pb.MsgUnreachable:
		// During optimistic replication, if the remote becomes unreachable,
		// there is huge probability that a MsgApp is lost.
		if pr.State == tracker.StateReplicate {
			pr.BecomeProbe()
		}
		log.Debug("failed to send message, peer unreachable").U64(code.RemoteId, m.From).
			Str(code.Progress, pr.String()).Record()
	default:
		log.Debug("ignored message").U64(code.RemoteId, m.From).Str(code.MsgType, m.Type.String()).Record()
	}
	return nil
}

// Propose appends data as new entries of the current term and replicates them.
func (ld *Leader) Propose(data ...[]byte) (uint64, error) {
	ents := make([]pb.Entry, len(data))
	for i := range data {
		ents[i].Data = data[i]
	}
	li, err := ld.appendEntry(ents...)
	if err != nil {
		return 0, err
	}
	return li, ld.BcastAppend()
}

func (ld *Leader) appendEntry(es ...pb.Entry) (uint64, error) {
	li := ld.raftLog.LastIndex()
	for i := range es {
		es[i].Term = ld.term
		es[i].Index = li + 1 + uint64(i)
	}
	li, err := ld.raftLog.Append(es...)
	if err != nil {
		return 0, err
	}
	ld.prs.Progress[ld.id].MaybeUpdate(li)
	// Regardless of maybeCommit's return, our caller will call bcastAppend.
	if _, err := ld.maybeCommit(); err != nil {
		return 0, err
	}
	return li, nil
}

func (ld *Leader) handleAppendResponse(m pb.Message, pr *tracker.Progress) error {
	pr.RecentActive = true

	if m.Reject {
		log.Debug("received MsgAppResp rejection").U64(code.RemoteId, m.From).
			U64(code.Index, m.Index).U64("reject-hint", m.RejectHint).Record()
		if pr.MaybeDecrTo(m.Index, m.RejectHint) {
			if pr.State == tracker.StateReplicate {
				pr.BecomeProbe()
			}
			_, err := ld.sendAppend(m.From)
			return err
		}
		return nil
	}

	oldPaused := pr.IsPaused()
	if !pr.MaybeUpdate(m.Index) {
		return nil
	}
	switch {
	case pr.State == tracker.StateProbe:
		pr.BecomeReplicate()
	case pr.State == tracker.StateSnapshot && pr.NeedSnapshotAbort():
		log.Debug("snapshot aborted, resumed sending replication messages").
			U64(code.RemoteId, m.From).Str(code.Progress, pr.String()).Record()
		// Transition back to replicating state via probing state
		// (which takes the snapshot into account). If we didn't
		// move to replicating state, that would only happen with
		// the next round of appends (but there may not be a next
		// round for a while, exposing an inconsistent RaftStatus).
		pr.BecomeProbe()
		pr.BecomeReplicate()
	case pr.State == tracker.StateReplicate:
		pr.Inflights.FreeTo(m.Index)
	}

	committed, err := ld.maybeCommit()
	if err != nil {
		return err
	}
	if committed {
		return ld.BcastAppend()
	}
	if oldPaused {
		// If we were paused before, this node may be missing the
		// latest commit index, so send it.
		_, err = ld.sendAppend(m.From)
	}
	return err
}

func (ld *Leader) handleHeartbeatResponse(m pb.Message, pr *tracker.Progress) error {
	pr.RecentActive = true
	pr.ProbeAcked()

	// free one slot for the full inflights window to allow progress.
	if pr.State == tracker.StateReplicate && pr.Inflights.Full() {
		pr.Inflights.FreeFirstOne()
	}
	if pr.Match < ld.raftLog.LastIndex() {
		_, err := ld.sendAppend(m.From)
		return err
	}
	return nil
}

func (ld *Leader) handleSnapStatus(m pb.Message, pr *tracker.Progress) {
	if pr.State != tracker.StateSnapshot {
		return
	}
	if !m.Reject {
		pr.BecomeProbe()
		log.Debug("snapshot succeeded, resumed sending replication messages").
			U64(code.RemoteId, m.From).Str(code.Progress, pr.String()).Record()
	} else {
		// NB: the order here matters or we'll be probing erroneously from
		// the snapshot index, but the snapshot never applied.
		pr.SnapshotFailure()
		pr.BecomeProbe()
		log.Debug("snapshot failed, resumed sending replication messages").
			U64(code.RemoteId, m.From).Str(code.Progress, pr.String()).Record()
	}
	// If snapshot finish, wait for the MsgAppResp from the remote node before sending
	// out the next MsgApp.
	// If snapshot failure, wait for a heartbeat interval before next try
	pr.Pause()
}

// ReportSnapshot feeds the outcome of a snapshot transfer back into the
// follower's progress.
func (ld *Leader) ReportSnapshot(to uint64, status SnapshotStatus) error {
	return ld.Step(pb.Message{Type: pb.MsgSnapStatus, From: to, Reject: status == SnapshotFailure})
}

// ReportUnreachable reports that the last message to the follower was lost.
func (ld *Leader) ReportUnreachable(to uint64) error {
	return ld.Step(pb.Message{Type: pb.MsgUnreachable, From: to})
}

// maybeCommit attempts to advance the commit index. Returns true if
// the commit index changed (in which case the caller should call
// ld.BcastAppend).
func (ld *Leader) maybeCommit() (bool, error) {
	return ld.raftLog.MaybeCommit(ld.prs.Committed(), ld.term)
}

// sendAppend sends an append RPC with new entries (if any) and the
// current commit index to the given peer. Returns true if a message was sent.
func (ld *Leader) sendAppend(to uint64) (bool, error) {
	pr := ld.prs.Progress[to]
	if pr.IsPaused() {
		return false, nil
	}
	m := pb.Message{To: to}

	term, errt := ld.raftLog.Term(pr.Next - 1)
	ents, erre := ld.raftLog.Entries(pr.Next, ld.maxMsgSize)

	if errt != nil || erre != nil { // send snapshot if we failed to get term or entries
		if code.IsSafetyViolation(erre) {
			return false, erre
		}
		if !pr.RecentActive {
			log.Debug("ignore sending snapshot since it is not recently active").U64(code.RemoteId, to).Record()
			return false, nil
		}

		snapshot, err := ld.raftLog.storage.Snapshot()
		if err != nil {
			if errors.Is(err, code.ErrSnapshotTemporarilyUnavailable) {
				log.Debug("failed to send snapshot because snapshot is temporarily unavailable").U64(code.RemoteId, to).Record()
				return false, nil
			}
			log.Panic("unexpected snapshot error").Err(code.StorageErr, err).Record()
		}
		if snapshot.Metadata.Index == 0 {
			log.Panic("need non-empty snapshot").U64(code.RemoteId, to).Record()
		}
		m.Type = pb.MsgSnap
		m.Snapshot = snapshot
		sindex, sterm := snapshot.Metadata.Index, snapshot.Metadata.Term
		log.Debug("sent snapshot").U64(code.RemoteId, to).U64(code.Index, sindex).U64(code.Term, sterm).
			U64("first-index", ld.raftLog.FirstIndex()).U64(code.Committed, ld.raftLog.committed).
			Str(code.Progress, pr.String()).Record()
		pr.BecomeSnapshot(sindex)
	} else {
		m.Type = pb.MsgApp
		m.Index = pr.Next - 1
		m.LogTerm = term
		m.Entries = ents
		m.Commit = ld.raftLog.committed
		if n := len(m.Entries); n != 0 {
			switch pr.State {
			// optimistically increase the next when in StateReplicate
			case tracker.StateReplicate:
				last := m.Entries[n-1].Index
				pr.OptimisticUpdate(last)
				if err := pr.Inflights.Add(last); err != nil {
					log.Panic("inflights overflow while not paused").U64(code.RemoteId, to).Err(code.MessageProcErr, err).Record()
				}
			case tracker.StateProbe:
				pr.Pause()
			default:
				log.Panicf("%x is sending append in unhandled state %s", ld.id, pr.State)
			}
		}
	}
	ld.send(m)
	return true, nil
}

// BcastAppend sends RPC, with entries to all peers that are not up-to-date
// according to the progress recorded in ld.prs.
func (ld *Leader) BcastAppend() error {
	var err error
	ld.prs.Visit(func(id uint64, _ *tracker.Progress) {
		if id == ld.id || err != nil {
			return
		}
		_, err = ld.sendAppend(id)
	})
	return err
}

// BcastHeartbeat sends a heartbeat to every follower. The commit index sent
// never exceeds what the follower is known to have.
func (ld *Leader) BcastHeartbeat() {
	ld.prs.Visit(func(id uint64, pr *tracker.Progress) {
		if id == ld.id {
			return
		}
		commit := ld.raftLog.committed
		if pr.Match < commit {
			commit = pr.Match
		}
		ld.send(pb.Message{To: id, Type: pb.MsgHeartbeat, Commit: commit})
	})
}

// Heartbeat runs one heartbeat round. Every checkQuorumRounds rounds it also
// checks which followers answered since the previous check.
func (ld *Leader) Heartbeat() {
	ld.BcastHeartbeat()
	ld.heartbeatRounds++
	if ld.heartbeatRounds >= ld.checkQuorumRounds {
		ld.heartbeatRounds = 0
		ld.checkQuorum()
	}
}

func (ld *Leader) checkQuorum() {
	active := ld.prs.IsSingleton() || ld.prs.QuorumActive()
	if !active && ld.quorumActive {
		log.Warn("lost contact with a quorum of voters").U64(code.LocalId, ld.id).U64(code.Term, ld.term).Record()
	} else if active && !ld.quorumActive {
		log.Info("regained contact with a quorum of voters").U64(code.LocalId, ld.id).U64(code.Term, ld.term).Record()
	}
	ld.quorumActive = active
	// followers have to show up again before the next check
	ld.prs.ResetRecentActive(ld.id)
}

func (ld *Leader) send(m pb.Message) {
	m.From = ld.id
	m.Term = ld.term
	ld.msgs = append(ld.msgs, m)
}

// ReadMessages returns and clears the outbound messages.
func (ld *Leader) ReadMessages() []pb.Message {
	msgs := ld.msgs
	ld.msgs = nil
	return msgs
}

// AppliedTo records that the host applied entries up to i.
func (ld *Leader) AppliedTo(i uint64) error {
	return ld.raftLog.AppliedTo(i)
}

// Log exposes the leader's log for read-only inspection.
func (ld *Leader) Log() *RaftLog { return ld.raftLog }

// Progress returns the tracked progress of id, or nil.
func (ld *Leader) Progress(id uint64) *tracker.Progress { return ld.prs.Progress[id] }

// Status is a snapshot of the replication state for debugging.
type Status struct {
	ID        uint64
	Term      uint64
	Committed uint64
	Applied   uint64
	LastIndex uint64

	// QuorumActive is false when the last quorum check heard from less than
	// a majority of voters.
	QuorumActive bool
	Progress     map[uint64]tracker.Progress
}

func (ld *Leader) Status() Status {
	s := Status{
		ID:        ld.id,
		Term:      ld.term,
		Committed: ld.raftLog.committed,
		Applied:   ld.raftLog.applied,
		LastIndex: ld.raftLog.LastIndex(),

		QuorumActive: ld.quorumActive,
		Progress:     make(map[uint64]tracker.Progress, len(ld.prs.Progress)),
	}
	ld.prs.Visit(func(id uint64, pr *tracker.Progress) {
		p := *pr
		p.Inflights = p.Inflights.Clone()
		s.Progress[id] = p
	})
	return s
}
