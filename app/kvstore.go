package main

import (
	"bytes"
	"encoding/gob"
	"sync"
	"time"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/ColdToo/Cold2Raft/log"
	"github.com/ColdToo/Cold2Raft/raft"
	"github.com/pkg/errors"
	pb "go.etcd.io/etcd/raft/raftpb"
	"go.uber.org/atomic"
)

const (
	TypePut int8 = iota
	TypeDelete
)

type KV struct {
	Id    uint64
	Key   []byte
	Value []byte
	Type  int8
}

func GobEncode(kv *KV) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(kv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func GobDecode(data []byte) (KV, error) {
	var kv KV
	err := gob.NewDecoder(bytes.NewReader(data)).Decode(&kv)
	return kv, err
}

// KvStore is a map replicated through the leader. Writes become visible once
// their entry is committed and applied.
type KvStore struct {
	mu sync.RWMutex
	kv map[string][]byte

	proposeC chan<- []byte

	// nextId hands out request ids, seeded with the start time so ids do not
	// repeat across restarts.
	nextId *atomic.Uint64

	monitorMu sync.Mutex
	monitorKV map[uint64]chan struct{}

	ReqTimeout time.Duration
}

func NewKVStore(proposeC chan<- []byte, reqTimeout time.Duration) *KvStore {
	return &KvStore{
		kv:         make(map[string][]byte),
		proposeC:   proposeC,
		nextId:     atomic.NewUint64(uint64(time.Now().UnixNano())),
		monitorKV:  make(map[uint64]chan struct{}),
		ReqTimeout: reqTimeout,
	}
}

func (s *KvStore) Lookup(key []byte) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[string(key)]
	return v, ok
}

// Propose 提议kv对交给raft算法层处理，等待该kv被applied后返回客户端
func (s *KvStore) Propose(key, val []byte, delete bool) (bool, error) {
	timeOutC := time.NewTimer(s.ReqTimeout)
	defer timeOutC.Stop()

	kv := &KV{Id: s.nextId.Inc(), Key: key, Value: val}
	if delete {
		kv.Type = TypeDelete
	}
	buf, err := GobEncode(kv)
	if err != nil {
		return false, err
	}

	//监听该kv，当该kv被applied时返回客户端
	sig := make(chan struct{})
	s.monitorMu.Lock()
	s.monitorKV[kv.Id] = sig
	s.monitorMu.Unlock()
	defer s.unmonitor(kv.Id)

	select {
	case s.proposeC <- buf:
	case <-timeOutC.C:
		return false, errors.Wrap(code.ErrProposalDrop, "propose queue is full")
	}

	select {
	case <-sig:
		return true, nil
	case <-timeOutC.C:
		return false, errors.Wrap(code.ErrProposalDrop, "request time out")
	}
}

func (s *KvStore) unmonitor(id uint64) {
	s.monitorMu.Lock()
	delete(s.monitorKV, id)
	s.monitorMu.Unlock()
}

// apply 将已提交的entries应用到状态机
func (s *KvStore) apply(ents []pb.Entry) error {
	for _, e := range ents {
		if e.Type != pb.EntryNormal || len(e.Data) == 0 {
			continue
		}
		kv, err := GobDecode(e.Data)
		if err != nil {
			return errors.Wrapf(err, "decode entry %d", e.Index)
		}
		log.Debug("apply entry").Str("entry", raft.DescribeEntry(e)).Record()

		s.mu.Lock()
		if kv.Type == TypeDelete {
			delete(s.kv, string(kv.Key))
		} else {
			s.kv[string(kv.Key)] = kv.Value
		}
		s.mu.Unlock()

		s.monitorMu.Lock()
		if sig, ok := s.monitorKV[kv.Id]; ok {
			close(sig)
			delete(s.monitorKV, kv.Id)
		}
		s.monitorMu.Unlock()
	}
	return nil
}
