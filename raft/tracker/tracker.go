// Copyright 2019 The etcd Authors
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

package tracker

import (
	"sort"
)

// ProgressTracker tracks the replication progress of every member known to
// the leader. In particular, it tracks the match index for each peer which in
// turn allows reasoning about the committed index.
type ProgressTracker struct {
	Progress ProgressMap

	MaxInflight int
}

func MakeProgressTracker(maxInflight int) ProgressTracker {
	return ProgressTracker{
		MaxInflight: maxInflight,
		Progress:    map[uint64]*Progress{},
	}
}

// InitProgress starts tracking id. An already tracked id is left untouched.
func (p *ProgressTracker) InitProgress(id, match, next uint64, isLearner bool) {
	if _, ok := p.Progress[id]; ok {
		return
	}
	pr := NewProgress(next, p.MaxInflight, isLearner)
	pr.Match = match
	p.Progress[id] = pr
}

// Visit invokes the supplied closure for all tracked progresses in stable order.
func (p *ProgressTracker) Visit(f func(id uint64, pr *Progress)) {
	for _, id := range p.ids(func(*Progress) bool { return true }) {
		f(id, p.Progress[id])
	}
}

// IsSingleton returns true if the leader is the only voter.
func (p *ProgressTracker) IsSingleton() bool {
	return len(p.VoterNodes()) == 1
}

// VoterNodes returns a sorted slice of voters.
func (p *ProgressTracker) VoterNodes() []uint64 {
	return p.ids(func(pr *Progress) bool { return !pr.IsLearner })
}

// LearnerNodes returns a sorted slice of learners.
func (p *ProgressTracker) LearnerNodes() []uint64 {
	return p.ids(func(pr *Progress) bool { return pr.IsLearner })
}

func (p *ProgressTracker) ids(keep func(*Progress) bool) []uint64 {
	ids := make([]uint64, 0, len(p.Progress))
	for id, pr := range p.Progress {
		if keep(pr) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Committed returns the largest log index known to be committed based on what
// the voting members of the group have acknowledged.
func (p *ProgressTracker) Committed() uint64 {
	voters := p.VoterNodes()
	n := len(voters)
	if n == 0 {
		return 0
	}
	matched := make([]uint64, 0, n)
	for _, id := range voters {
		matched = append(matched, p.Progress[id].Match)
	}
	// sorted descending, the index at position n/2 is held by a majority
	sort.Slice(matched, func(i, j int) bool { return matched[i] > matched[j] })
	return matched[n/2]
}

// QuorumActive returns true if the quorum is active from the view of the local
// raft state machine. Otherwise, it returns false.
func (p *ProgressTracker) QuorumActive() bool {
	voters := p.VoterNodes()
	var active int
	for _, id := range voters {
		if p.Progress[id].RecentActive {
			active++
		}
	}
	return active > len(voters)/2
}

// ResetRecentActive marks every member but self as inactive until it is heard
// from again.
func (p *ProgressTracker) ResetRecentActive(self uint64) {
	for id, pr := range p.Progress {
		pr.RecentActive = id == self
	}
}
