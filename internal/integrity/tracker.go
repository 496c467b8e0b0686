// Package integrity performs per-symbol duplicate detection and message
// bookkeeping for the trade stream. It is pure state with no I/O and lives
// for the whole process so duplicates from server-side replay are still
// caught across reconnects.
package integrity

import (
	"sync"
	"time"
)

// Timestamps further than this from local time are counted as implausible.
const timestampSlack = 365 * 24 * time.Hour

// Snapshot is a point-in-time copy of the tracker counters for the health
// reporting path.
type Snapshot struct {
	TotalMessages     uint64 `json:"total_messages"`
	TotalTrades       uint64 `json:"total_trades"`
	DuplicateTrades   uint64 `json:"duplicate_trades"`
	InvalidTimestamps uint64 `json:"invalid_timestamps"`
	TrackedSymbols    int    `json:"tracked_symbols"`
}

// Tracker keeps the most recently seen trade identifier per symbol plus
// advisory counters. Safe for use by the session worker with concurrent
// snapshot readers.
type Tracker struct {
	mu                sync.Mutex
	lastTradeIDs      map[string]int64
	totalMessages     uint64
	totalTrades       uint64
	duplicateTrades   uint64
	invalidTimestamps uint64

	now func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{
		lastTradeIDs: make(map[string]int64),
		now:          time.Now,
	}
}

// RecordMessage counts one classified inbound payload.
func (t *Tracker) RecordMessage() {
	t.mu.Lock()
	t.totalMessages++
	t.mu.Unlock()
}

// RecordTrade reports whether the trade should be accepted. Only an exact
// repeat of the most recently seen identifier for the symbol is rejected;
// distinct identifiers are accepted in any numeric order because the upstream
// identifier space is not sequential.
func (t *Tracker) RecordTrade(symbol string, tid int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.lastTradeIDs[symbol]; ok && last == tid {
		t.duplicateTrades++
		return false
	}
	t.lastTradeIDs[symbol] = tid
	t.totalTrades++
	return true
}

// ObserveTimestamp counts implausible server timestamps and reports whether
// the timestamp looked valid. Advisory only, the record is never filtered on
// timestamp.
func (t *Tracker) ObserveTimestamp(ms int64) bool {
	valid := ms > 0
	if valid {
		ts := time.UnixMilli(ms)
		now := t.now()
		if ts.Before(now.Add(-timestampSlack)) || ts.After(now.Add(timestampSlack)) {
			valid = false
		}
	}
	if !valid {
		t.mu.Lock()
		t.invalidTimestamps++
		t.mu.Unlock()
	}
	return valid
}

// Snapshot returns a copy of the counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		TotalMessages:     t.totalMessages,
		TotalTrades:       t.totalTrades,
		DuplicateTrades:   t.duplicateTrades,
		InvalidTimestamps: t.invalidTimestamps,
		TrackedSymbols:    len(t.lastTradeIDs),
	}
}
