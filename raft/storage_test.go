// Copyright 2015 The etcd Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package raft

import (
	"reflect"
	"testing"

	"github.com/ColdToo/Cold2Raft/code"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	pb "go.etcd.io/etcd/raft/raftpb"
)

func TestStorageTerm(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	tests := []struct {
		i     uint64
		werr  error
		wterm uint64
	}{
		{2, code.ErrCompacted, 0},
		{3, nil, 3},
		{4, nil, 4},
		{5, nil, 5},
		{6, code.ErrUnavailable, 0},
	}

	for i, tt := range tests {
		s := &MemoryStorage{ents: ents}
		term, err := s.Term(tt.i)
		assert.Equal(t, tt.werr, err, "#%d", i)
		assert.Equal(t, tt.wterm, term, "#%d", i)
	}
}

func TestStorageEntries(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}, {Index: 6, Term: 6}}
	tests := []struct {
		lo, hi   uint64
		werr     error
		wentries []pb.Entry
	}{
		{2, 6, code.ErrCompacted, nil},
		{3, 4, code.ErrCompacted, nil},
		{4, 5, nil, []pb.Entry{{Index: 4, Term: 4}}},
		{4, 6, nil, []pb.Entry{{Index: 4, Term: 4}, {Index: 5, Term: 5}}},
		{4, 7, nil, []pb.Entry{{Index: 4, Term: 4}, {Index: 5, Term: 5}, {Index: 6, Term: 6}}},
		{4, 8, code.ErrUnavailable, nil},
	}

	for i, tt := range tests {
		s := &MemoryStorage{ents: ents}
		entries, err := s.Entries(tt.lo, tt.hi)
		if tt.werr != nil {
			assert.True(t, errors.Is(err, tt.werr), "#%d: err = %v, want %v", i, err, tt.werr)
		} else {
			assert.NoError(t, err, "#%d", i)
		}
		if !reflect.DeepEqual(entries, tt.wentries) {
			t.Errorf("#%d: entries = %v, want %v", i, entries, tt.wentries)
		}
	}
}

func TestStorageEntriesOnlyDummy(t *testing.T) {
	s := NewMemoryStorage()
	_, err := s.Entries(1, 1)
	assert.Equal(t, code.ErrUnavailable, err)
}

func TestStorageLastIndex(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	s := &MemoryStorage{ents: ents}

	last, err := s.LastIndex()
	assert.NoError(t, err)
	assert.Equal(t, uint64(5), last)

	assert.NoError(t, s.Append([]pb.Entry{{Index: 6, Term: 5}}))
	last, err = s.LastIndex()
	assert.NoError(t, err)
	assert.Equal(t, uint64(6), last)
}

func TestStorageFirstIndex(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	s := &MemoryStorage{ents: ents}

	first, err := s.FirstIndex()
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), first)

	assert.NoError(t, s.Compact(4))
	first, err = s.FirstIndex()
	assert.NoError(t, err)
	assert.Equal(t, uint64(5), first)
}

func TestStorageCompact(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	tests := []struct {
		i      uint64
		werr   error
		windex uint64
		wterm  uint64
		wlen   int
	}{
		{2, code.ErrCompacted, 3, 3, 3},
		{3, code.ErrCompacted, 3, 3, 3},
		{4, nil, 4, 4, 2},
		{5, nil, 5, 5, 1},
	}

	for i, tt := range tests {
		s := &MemoryStorage{ents: ents}
		err := s.Compact(tt.i)
		assert.Equal(t, tt.werr, err, "#%d", i)
		assert.Equal(t, tt.windex, s.ents[0].Index, "#%d", i)
		assert.Equal(t, tt.wterm, s.ents[0].Term, "#%d", i)
		assert.Len(t, s.ents, tt.wlen, "#%d", i)
	}
}

func TestStorageCreateSnapshot(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	cs := &pb.ConfState{Voters: []uint64{1, 2, 3}}
	data := []byte("data")

	tests := []struct {
		i     uint64
		werr  error
		wsnap pb.Snapshot
	}{
		{4, nil, pb.Snapshot{Data: data, Metadata: pb.SnapshotMetadata{Index: 4, Term: 4, ConfState: *cs}}},
		{5, nil, pb.Snapshot{Data: data, Metadata: pb.SnapshotMetadata{Index: 5, Term: 5, ConfState: *cs}}},
	}

	for i, tt := range tests {
		s := &MemoryStorage{ents: ents}
		snap, err := s.CreateSnapshot(tt.i, cs, data)
		assert.Equal(t, tt.werr, err, "#%d", i)
		assert.True(t, reflect.DeepEqual(snap, tt.wsnap), "#%d: snap = %+v, want %+v", i, snap, tt.wsnap)

		_, err = s.CreateSnapshot(tt.i, cs, data)
		assert.Equal(t, code.ErrSnapOutOfDate, err, "#%d", i)
	}
}

func TestStorageAppend(t *testing.T) {
	ents := []pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}}
	tests := []struct {
		entries  []pb.Entry
		werr     error
		wentries []pb.Entry
	}{
		{
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}},
		},
		{
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 6}, {Index: 5, Term: 6}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 6}, {Index: 5, Term: 6}},
		},
		{
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}, {Index: 6, Term: 5}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}, {Index: 6, Term: 5}},
		},
		// truncate incoming entries, truncate the existing entries and append
		{
			[]pb.Entry{{Index: 2, Term: 3}, {Index: 3, Term: 3}, {Index: 4, Term: 5}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 5}},
		},
		// truncate the existing entries and append
		{
			[]pb.Entry{{Index: 4, Term: 5}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 5}},
		},
		// direct append
		{
			[]pb.Entry{{Index: 6, Term: 5}},
			nil,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}, {Index: 6, Term: 5}},
		},
		// a gap is refused
		{
			[]pb.Entry{{Index: 7, Term: 5}},
			code.ErrUnavailable,
			[]pb.Entry{{Index: 3, Term: 3}, {Index: 4, Term: 4}, {Index: 5, Term: 5}},
		},
	}

	for i, tt := range tests {
		s := &MemoryStorage{ents: ents}
		err := s.Append(tt.entries)
		if tt.werr != nil {
			assert.True(t, errors.Is(err, tt.werr), "#%d: err = %v", i, err)
		} else {
			assert.NoError(t, err, "#%d", i)
		}
		if !reflect.DeepEqual(s.ents, tt.wentries) {
			t.Errorf("#%d: entries = %v, want %v", i, s.ents, tt.wentries)
		}
	}
}

func TestStorageApplySnapshot(t *testing.T) {
	cs := &pb.ConfState{Voters: []uint64{1, 2, 3}}
	data := []byte("data")

	tests := []pb.Snapshot{
		{Data: data, Metadata: pb.SnapshotMetadata{Index: 4, Term: 4, ConfState: *cs}},
		{Data: data, Metadata: pb.SnapshotMetadata{Index: 3, Term: 3, ConfState: *cs}},
	}

	s := NewMemoryStorage()

	// apply snapshot successfully
	assert.NoError(t, s.ApplySnapshot(tests[0]))
	first, _ := s.FirstIndex()
	assert.Equal(t, uint64(5), first)
	term, err := s.Term(4)
	assert.NoError(t, err)
	assert.Equal(t, uint64(4), term)

	// apply snapshot fails due to ErrSnapOutOfDate
	assert.Equal(t, code.ErrSnapOutOfDate, s.ApplySnapshot(tests[1]))
}
