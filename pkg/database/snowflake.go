package database

import (
	"sync"
	"time"
)

// Snowflake generates unique, time-ordered 64-bit IDs:
// 41 bits of milliseconds since a custom epoch, 10 bits of worker id,
// 12 bits of per-millisecond sequence. Ordering by id equals ordering by
// creation time, which is what makes message ids usable as pagination
// cursors.
type Snowflake struct {
	mu       sync.Mutex
	epoch    int64
	workerID int64
	lastTime int64
	sequence int64
}

const (
	snowflakeWorkerBits   = 10
	snowflakeSequenceBits = 12
	snowflakeSequenceMask = (1 << snowflakeSequenceBits) - 1
	snowflakeMaxWorker    = (1 << snowflakeWorkerBits) - 1
)

// NewSnowflake creates a generator. epoch is in Unix milliseconds; workerID
// must be unique per server instance (clamped to 0 when out of range).
func NewSnowflake(epoch, workerID int64) *Snowflake {
	if workerID < 0 || workerID > snowflakeMaxWorker {
		workerID = 0
	}
	return &Snowflake{epoch: epoch, workerID: workerID}
}

// NextID returns the next unique id.
func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < s.lastTime {
		// Clock went backwards; keep issuing from the last known time.
		now = s.lastTime
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & snowflakeSequenceMask
		if s.sequence == 0 {
			// Sequence exhausted within one millisecond: spin to the next.
			for now <= s.lastTime {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = now

	return ((now - s.epoch) << (snowflakeWorkerBits + snowflakeSequenceBits)) |
		(s.workerID << snowflakeSequenceBits) |
		s.sequence
}
