package main

import (
	"context"
	"sync"
	"time"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/config"
	"github.com/ColdToo/Cold2Raft/log"
	"github.com/ColdToo/Cold2Raft/raft"
	"github.com/pkg/errors"
	pb "go.etcd.io/etcd/raft/raftpb"
)

// Transporter delivers outbound replication messages to followers.
type Transporter interface {
	Send(msgs []pb.Message)
}

// logTransport only records outbound messages. Followers are reached by a
// transport outside this process.
type logTransport struct{}

func (logTransport) Send(msgs []pb.Message) {
	for _, m := range msgs {
		log.Debug("outbound message").U64(code.RemoteId, m.To).Str(code.MsgType, m.Type.String()).
			U64(code.Index, m.Index).Int(code.EntriesNum, len(m.Entries)).U64(code.Committed, m.Commit).Record()
	}
}

type AppNode struct {
	localId uint64

	node      raft.Node
	storage   *raft.MemoryStorage
	kvStore   *KvStore
	transport Transporter

	proposeC  <-chan []byte // 提议 (k,v)
	heartbeat time.Duration
	reqTimout time.Duration

	stopOnce sync.Once
	doneC    chan struct{} // 关闭http服务器的信号
}

func StartAppNode(rc *config.RaftConfig, ac *config.AppConfig, proposeC <-chan []byte, kvStore *KvStore,
	transport Transporter) (*AppNode, error) {
	storage := raft.NewMemoryStorage()
	c, err := raft.NewConfig(rc, storage)
	if err != nil {
		return nil, err
	}
	node, err := raft.StartNode(c)
	if err != nil {
		return nil, err
	}
	if transport == nil {
		transport = logTransport{}
	}

	an := &AppNode{
		localId:   rc.ID,
		node:      node,
		storage:   storage,
		kvStore:   kvStore,
		transport: transport,
		proposeC:  proposeC,
		heartbeat: ac.HeartbeatInterval,
		reqTimout: ac.RequestTimeout,
		doneC:     make(chan struct{}),
	}

	// 启动一个goroutine,处理日志提议
	go an.serveProposeC()
	// 启动一个goroutine,处理appLayer与raftLayer的交互
	go an.serveRaftNode()
	return an, nil
}

func (an *AppNode) serveProposeC() {
	for {
		select {
		case prop := <-an.proposeC:
			ctx, cancel := context.WithTimeout(context.Background(), an.reqTimout)
			err := an.node.Propose(ctx, prop)
			cancel()
			if err != nil {
				log.Warn("propose failed").U64(code.LocalId, an.localId).Err(code.ErrProposalDropped, err).Record()
				if errors.Is(err, code.ErrStopped) {
					return
				}
			}
		case <-an.doneC:
			return
		}
	}
}

func (an *AppNode) serveRaftNode() {
	ticker := time.NewTicker(an.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			an.node.Heartbeat()

		case rd := <-an.node.Ready():
			if err := an.handleReady(rd); err != nil {
				log.Error("handle ready failed").U64(code.LocalId, an.localId).Err(code.StorageErr, err).Record()
				an.Stop()
				return
			}
			//通知raftNode本轮ready已经处理完可以进行下一轮处理
			an.node.Advance()

		//如果发现致命错误需要停止服务
		case err := <-an.node.Errors():
			log.Error("raft node get critical err").U64(code.LocalId, an.localId).Err(code.MessageProcErr, err).Record()
			an.Stop()
			return

		case <-an.doneC:
			return
		}
	}
}

// handleReady persists new entries before the messages carrying them leave,
// then applies what is committed.
func (an *AppNode) handleReady(rd raft.Ready) error {
	if err := an.storage.Append(rd.Entries); err != nil {
		return err
	}
	an.transport.Send(rd.Messages)
	return an.kvStore.apply(rd.CommittedEntries)
}

func (an *AppNode) Status() raft.Status { return an.node.Status() }

// Process steps a message received from a follower.
func (an *AppNode) Process(ctx context.Context, m pb.Message) error { return an.node.Step(ctx, m) }

func (an *AppNode) ReportUnreachable(id uint64) { an.node.ReportUnreachable(id) }

func (an *AppNode) ReportSnapshotStatus(id uint64, status raft.SnapshotStatus) {
	an.node.ReportSnapshot(id, status)
}

func (an *AppNode) Done() <-chan struct{} { return an.doneC }

func (an *AppNode) Stop() {
	an.stopOnce.Do(func() {
		close(an.doneC)
		an.node.Stop()
	})
}
