package config

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

const (
	DefaultMaxInflightMsgs = 256
	DefaultMaxSizePerMsg   = "1MiB"

	DefaultCheckQuorumRounds = 10
)

type RaftConfig struct {
	// ID is the identity of the local leader. ID cannot be 0.
	ID uint64 `mapstructure:"id" yaml:"id"`

	// Term is the leadership term the local node replicates under.
	Term uint64 `mapstructure:"term" yaml:"term"`

	// Peers are the voting members, the local ID included.
	Peers []uint64 `mapstructure:"peers" yaml:"peers"`

	Learners []uint64 `mapstructure:"learners" yaml:"learners"`

	// MaxInflightMsgs limits the number of in-flight append messages to one
	// follower while it is in replicate state.
	MaxInflightMsgs int `mapstructure:"max-inflight-msgs" yaml:"max-inflight-msgs"`

	// MaxSizePerMsg limits the byte size of entries in one append message,
	// written as a human size like "512KiB" or "1MB".
	MaxSizePerMsg string `mapstructure:"max-size-per-msg" yaml:"max-size-per-msg"`

	// CheckQuorumRounds is the number of heartbeat rounds between two checks
	// of which followers are still answering.
	CheckQuorumRounds int `mapstructure:"check-quorum-rounds" yaml:"check-quorum-rounds"`

	// Applied is the last applied index, set only when restarting.
	Applied uint64 `mapstructure:"applied" yaml:"applied"`
}

func (c *RaftConfig) Validate() error {
	if c.ID == 0 {
		return errors.New("cannot use none as id")
	}
	if c.MaxInflightMsgs <= 0 {
		return errors.New("max inflight messages must be greater than 0")
	}
	if c.CheckQuorumRounds < 0 {
		return errors.New("check quorum rounds cannot be negative")
	}
	if _, err := c.MaxMsgBytes(); err != nil {
		return err
	}
	for _, id := range c.Peers {
		if id == c.ID {
			return nil
		}
	}
	return errors.Errorf("local id %d is not in peers %v", c.ID, c.Peers)
}

// MaxMsgBytes parses MaxSizePerMsg. An empty value means DefaultMaxSizePerMsg.
func (c *RaftConfig) MaxMsgBytes() (uint64, error) {
	size := c.MaxSizePerMsg
	if size == "" {
		size = DefaultMaxSizePerMsg
	}
	n, err := humanize.ParseBytes(size)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid max-size-per-msg %q", c.MaxSizePerMsg)
	}
	return n, nil
}
