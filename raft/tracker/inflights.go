package tracker

import "github.com/ColdToo/Cold2Raft/code"

// Inflights limits the number of append messages sent to a follower but not
// yet acknowledged. Every message records the index of its last entry; an
// acknowledgement up to some index frees all messages at or below it.
//
// When the window is full the leader stops sending appends to the follower,
// so a slow follower cannot make the transport drop messages.
type Inflights struct {
	// the starting index in the buffer
	start int
	// number of inflights in the buffer
	count int

	// the size of the buffer
	size int

	// buffer contains the index of the last entry
	// inside one message.
	buffer []uint64
}

// NewInflights sets up an Inflights that allows up to 'size' inflight messages.
func NewInflights(size int) *Inflights {
	return &Inflights{
		size: size,
	}
}

// Clone returns an *Inflights that is identical to but shares no memory with
// the receiver.
func (in *Inflights) Clone() *Inflights {
	ins := *in
	ins.buffer = append([]uint64(nil), in.buffer...)
	return &ins
}

// Add records an inflight message whose last entry is at index. Indexes must
// be added in increasing order. Add rejects the message when the window is
// full and leaves the window untouched.
func (in *Inflights) Add(inflight uint64) error {
	if in.Full() {
		return code.ErrInflightsFull
	}
	next := in.start + in.count
	if next >= in.size {
		next -= in.size
	}
	if next >= len(in.buffer) {
		in.grow()
	}
	in.buffer[next] = inflight
	in.count++
	return nil
}

// grow the inflight buffer by doubling up to inflights.size. We grow on demand
// instead of preallocating to inflights.size to handle systems which have
// thousands of Raft groups per process.
func (in *Inflights) grow() {
	newSize := len(in.buffer) * 2
	if newSize == 0 {
		newSize = 1
	} else if newSize > in.size {
		newSize = in.size
	}
	newBuffer := make([]uint64, newSize)
	copy(newBuffer, in.buffer)
	in.buffer = newBuffer
}

// FreeTo frees the inflights smaller or equal to the given `to` flight.
func (in *Inflights) FreeTo(to uint64) {
	if in.count == 0 || to < in.buffer[in.start] {
		// out of the left side of the window
		return
	}

	idx := in.start
	var i int
	for i = 0; i < in.count; i++ {
		if to < in.buffer[idx] { // found the first large inflight
			break
		}

		// increase index and maybe rotate
		if idx++; idx >= in.size {
			idx -= in.size
		}
	}
	// free i inflights and set new start index
	in.count -= i
	in.start = idx
	if in.count == 0 {
		// inflights is empty, reset the start index so that we don't grow the
		// buffer unnecessarily.
		in.start = 0
	}
}

// FreeFirstOne releases the first inflight. This is a no-op if nothing is
// inflight.
func (in *Inflights) FreeFirstOne() {
	if in.count == 0 {
		return
	}
	in.count--
	if in.start++; in.start >= in.size || in.count == 0 {
		in.start = 0
	}
}

// Full returns true if no more messages can be sent at the moment.
func (in *Inflights) Full() bool {
	return in.count == in.size
}

// Count returns the number of inflight messages.
func (in *Inflights) Count() int { return in.count }

// Cap returns the maximum number of inflight messages.
func (in *Inflights) Cap() int { return in.size }

// Reset frees all inflights.
func (in *Inflights) Reset() {
	in.count = 0
	in.start = 0
}
