package raft

import (
	"context"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/log"
	pb "go.etcd.io/etcd/raft/raftpb"
)

// Node is the leader's replication core running on its own goroutine.
type Node interface {
	// Propose proposes that data be appended to the log. Note that proposals can be lost without
	// notice, therefore it is user's job to ensure proposal retries.
	Propose(ctx context.Context, data []byte) error

	// Step advances the state machine using the given message. ctx.Err() will be returned, if any.
	Step(ctx context.Context, msg pb.Message) error

	// Heartbeat broadcasts a heartbeat to every follower and periodically checks
	// that a quorum of voters is still answering. The host decides the interval.
	Heartbeat()

	// Ready returns a channel that returns the current point-in-time state.
	// Users of the Node must call Advance after retrieving the state returned by Ready.
	//
	// NOTE: No committed entries from the next Ready may be applied until all committed entries
	// from the previous one have finished.
	Ready() <-chan Ready

	// Advance notifies the Node that the application has saved progress up to the last Ready.
	// It prepares the node to return the next available Ready.
	Advance()

	// Status returns the current status of the replication state machine.
	Status() Status

	// ReportUnreachable reports the given node is not reachable for the last send.
	ReportUnreachable(id uint64)

	// ReportSnapshot reports the status of the sent snapshot. The id is the raft ID of the follower
	// who is meant to receive the snapshot, and the status is SnapshotFinish or SnapshotFailure.
	// When leader sends a snapshot to a follower, it pauses any raft log probes until the follower
	// can apply the snapshot and advance its state, so any failure in snapshot sending must be
	// reported back to the leader.
	ReportSnapshot(id uint64, status SnapshotStatus)

	// Errors delivers the error that stopped the node. The node stops on a
	// protocol safety violation.
	Errors() <-chan error

	// Stop performs any necessary termination of the Node.
	Stop()
}

// Ready encapsulates the entries and messages that are ready to be saved,
// sent to other peers or applied.
type Ready struct {
	// Entries specifies entries to be saved to stable storage BEFORE
	// Messages are sent.
	Entries []pb.Entry

	// CommittedEntries specifies entries to be committed to a
	// store/state-machine. These have previously been committed to stable
	// store.
	CommittedEntries []pb.Entry

	// Messages specifies outbound messages to be sent AFTER Entries are
	// committed to stable storage.
	// If it contains a MsgSnap message, the application MUST report back to raft
	// when the snapshot has been received or has failed by calling ReportSnapshot.
	Messages []pb.Message
}

func (rd Ready) containsUpdates() bool {
	return len(rd.Entries) > 0 || len(rd.CommittedEntries) > 0 || len(rd.Messages) > 0
}

type msgWithResult struct {
	m      pb.Message
	result chan error
}

// node is the canonical implementation of the Node interface
type node struct {
	ld *Leader

	propc      chan msgWithResult
	recvc      chan pb.Message
	readyc     chan Ready
	advancec   chan struct{}
	heartbeatc chan struct{}
	statusc    chan chan Status
	errorc     chan error
	done       chan struct{}
	stop       chan struct{}
}

func newNode(ld *Leader) *node {
	return &node{
		ld:       ld,
		propc:    make(chan msgWithResult),
		recvc:    make(chan pb.Message),
		readyc:   make(chan Ready),
		advancec: make(chan struct{}),
		// make heartbeatc a buffered chan, so raft node can buffer some heartbeats
		// when the node is busy processing raft messages.
		heartbeatc: make(chan struct{}, 128),
		statusc:    make(chan chan Status),
		errorc:     make(chan error, 1),
		done:       make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// StartNode builds a leader from c and starts its run loop. The empty entry
// of the new term goes out in the first Ready.
func StartNode(c *Config) (Node, error) {
	ld, err := NewLeader(c)
	if err != nil {
		return nil, err
	}
	if err = ld.BcastAppend(); err != nil {
		return nil, err
	}
	n := newNode(ld)
	go n.run()
	return n, nil
}

func (n *node) run() {
	var readyc chan Ready
	var advancec chan struct{}
	var rd Ready

	for {
		if advancec != nil {
			readyc = nil
		} else {
			var err error
			if rd, err = n.newReady(); err != nil {
				n.fail(err)
				return
			}
			if rd.containsUpdates() {
				readyc = n.readyc
			} else {
				readyc = nil
			}
		}

		select {
		case pm := <-n.propc:
			err := n.ld.Step(pm.m)
			pm.result <- err
			if code.IsSafetyViolation(err) {
				n.fail(err)
				return
			}
		case m := <-n.recvc:
			if err := n.ld.Step(m); err != nil {
				if code.IsSafetyViolation(err) {
					n.fail(err)
					return
				}
				log.Debug("step message failed").U64(code.RemoteId, m.From).
					Str(code.MsgType, m.Type.String()).Err(code.MessageProcErr, err).Record()
			}
		case <-n.heartbeatc:
			n.ld.Heartbeat()
		case readyc <- rd:
			n.ld.ReadMessages()
			advancec = n.advancec
		case <-advancec:
			if err := n.advance(rd); err != nil {
				n.fail(err)
				return
			}
			rd = Ready{}
			advancec = nil
		case c := <-n.statusc:
			c <- n.ld.Status()
		case <-n.stop:
			close(n.done)
			return
		}
	}
}

// newReady gathers the pending output without consuming it. Messages are only
// cleared once the Ready is handed over.
func (n *node) newReady() (Ready, error) {
	rd := Ready{
		Entries:  n.ld.raftLog.UnstableEntries(),
		Messages: n.ld.msgs,
	}
	if n.ld.raftLog.HasNextEnts() {
		ents, err := n.ld.raftLog.NextEnts()
		if err != nil {
			return Ready{}, err
		}
		rd.CommittedEntries = ents
	}
	return rd, nil
}

func (n *node) advance(rd Ready) error {
	if l := len(rd.Entries); l > 0 {
		e := rd.Entries[l-1]
		n.ld.raftLog.StableTo(e.Index, e.Term)
	}
	if l := len(rd.CommittedEntries); l > 0 {
		return n.ld.AppliedTo(rd.CommittedEntries[l-1].Index)
	}
	return nil
}

func (n *node) fail(err error) {
	log.Error("replication stopped").U64(code.LocalId, n.ld.id).Err(code.MessageProcErr, err).Record()
	n.errorc <- err
	close(n.done)
}

func (n *node) Propose(ctx context.Context, data []byte) error {
	return n.stepWait(ctx, pb.Message{Type: pb.MsgProp, Entries: []pb.Entry{{Data: data}}})
}

func (n *node) Step(ctx context.Context, m pb.Message) error {
	return n.stepWait(ctx, m)
}

// stepWait hands m to the run loop. Proposals also wait for the step result.
func (n *node) stepWait(ctx context.Context, m pb.Message) error {
	if m.Type != pb.MsgProp {
		select {
		case n.recvc <- m:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-n.done:
			return code.ErrStopped
		}
	}
	pm := msgWithResult{m: m, result: make(chan error, 1)}
	select {
	case n.propc <- pm:
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return code.ErrStopped
	}
	select {
	case err := <-pm.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-n.done:
		return code.ErrStopped
	}
}

func (n *node) Heartbeat() {
	select {
	case n.heartbeatc <- struct{}{}:
	case <-n.done:
	default:
		log.Warn("heartbeat missed, node is busy").U64(code.LocalId, n.ld.id).Record()
	}
}

func (n *node) Ready() <-chan Ready { return n.readyc }

func (n *node) Advance() {
	select {
	case n.advancec <- struct{}{}:
	case <-n.done:
	}
}

func (n *node) Status() Status {
	c := make(chan Status)
	select {
	case n.statusc <- c:
		return <-c
	case <-n.done:
		return Status{}
	}
}

func (n *node) ReportUnreachable(id uint64) {
	select {
	case n.recvc <- pb.Message{Type: pb.MsgUnreachable, From: id}:
	case <-n.done:
	}
}

func (n *node) ReportSnapshot(id uint64, status SnapshotStatus) {
	rej := status == SnapshotFailure

	select {
	case n.recvc <- pb.Message{Type: pb.MsgSnapStatus, From: id, Reject: rej}:
	case <-n.done:
	}
}

func (n *node) Errors() <-chan error { return n.errorc }

func (n *node) Stop() {
	select {
	case n.stop <- struct{}{}:
		// Not already stopped, so trigger it
	case <-n.done:
		// Node has already been stopped - no need to do anything
		return
	}
	// Block until the stop has been acknowledged by run()
	<-n.done
}
