package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ColdToo/Cold2Raft/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pb "go.etcd.io/etcd/raft/raftpb"
)

type recordTransport struct {
	mu   sync.Mutex
	msgs []pb.Message
}

func (r *recordTransport) Send(msgs []pb.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *recordTransport) sent() []pb.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pb.Message(nil), r.msgs...)
}

func testConfigs(peers ...uint64) (*config.RaftConfig, *config.AppConfig) {
	rc := &config.RaftConfig{ID: 1, Term: 1, Peers: peers, MaxInflightMsgs: 16, MaxSizePerMsg: "1MiB"}
	ac := &config.AppConfig{HeartbeatInterval: 20 * time.Millisecond, RequestTimeout: 5 * time.Second}
	return rc, ac
}

func TestAppNodeSingleVoter(t *testing.T) {
	rc, ac := testConfigs(1)
	proposeC := make(chan []byte)
	kvStore := NewKVStore(proposeC, ac.RequestTimeout)
	an, err := StartAppNode(rc, ac, proposeC, kvStore, nil)
	require.NoError(t, err)
	defer an.Stop()

	ok, err := kvStore.Propose([]byte("testKey"), []byte("testValue"), false)
	require.NoError(t, err)
	assert.True(t, ok)

	v, found := kvStore.Lookup([]byte("testKey"))
	assert.True(t, found)
	assert.Equal(t, []byte("testValue"), v)

	st := an.Status()
	assert.Equal(t, uint64(2), st.Committed)
	last, err := an.storage.LastIndex()
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), last)
}

func TestAppNodeReplicatesToFollower(t *testing.T) {
	rc, ac := testConfigs(1, 2)
	proposeC := make(chan []byte)
	kvStore := NewKVStore(proposeC, ac.RequestTimeout)
	tr := &recordTransport{}
	an, err := StartAppNode(rc, ac, proposeC, kvStore, tr)
	require.NoError(t, err)
	defer an.Stop()

	assert.Eventually(t, func() bool {
		for _, m := range tr.sent() {
			if m.To == 2 && m.Type == pb.MsgApp {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)

	// the follower acknowledges the empty entry of the term
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, an.Process(ctx, pb.Message{From: 2, To: 1, Type: pb.MsgAppResp, Index: 1}))

	assert.Eventually(t, func() bool { return an.Status().Applied == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		for _, m := range tr.sent() {
			if m.Type == pb.MsgHeartbeat {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAppNodeStop(t *testing.T) {
	rc, ac := testConfigs(1)
	proposeC := make(chan []byte)
	an, err := StartAppNode(rc, ac, proposeC, NewKVStore(proposeC, ac.RequestTimeout), nil)
	require.NoError(t, err)

	an.Stop()
	an.Stop()
	select {
	case <-an.Done():
	default:
		t.Fatal("done channel is not closed")
	}
}
