package integrity

import (
	"testing"
	"time"
)

func TestRecordTradeImmediateDuplicate(t *testing.T) {
	tr := NewTracker()

	// 5, 5, 7: only the immediate repeat is rejected.
	if !tr.RecordTrade("BTC", 5) {
		t.Fatal("first trade rejected")
	}
	if tr.RecordTrade("BTC", 5) {
		t.Fatal("immediate duplicate accepted")
	}
	if !tr.RecordTrade("BTC", 7) {
		t.Fatal("new identifier rejected")
	}
}

// Identifiers are not sequential upstream, so numeric order must not matter:
// a lower identifier after a higher one is still a new trade.
func TestRecordTradeNoOrderingRequirement(t *testing.T) {
	tr := NewTracker()

	for _, tid := range []int64{5, 7, 5, 3, 100, 3} {
		if !tr.RecordTrade("BTC", tid) {
			t.Fatalf("tid %d rejected, only immediate repeats should be", tid)
		}
	}

	snap := tr.Snapshot()
	if snap.TotalTrades != 6 {
		t.Errorf("unexpected total trades: %d", snap.TotalTrades)
	}
	if snap.DuplicateTrades != 0 {
		t.Errorf("unexpected duplicates: %d", snap.DuplicateTrades)
	}
}

func TestRecordTradePerSymbol(t *testing.T) {
	tr := NewTracker()

	if !tr.RecordTrade("BTC", 5) {
		t.Fatal("BTC trade rejected")
	}
	// The same identifier on another symbol is unrelated.
	if !tr.RecordTrade("ETH", 5) {
		t.Fatal("ETH trade rejected despite independent symbol state")
	}
	if tr.RecordTrade("ETH", 5) {
		t.Fatal("ETH immediate duplicate accepted")
	}
	// The ETH duplicate must not disturb BTC state.
	if tr.RecordTrade("BTC", 5) {
		t.Fatal("BTC immediate duplicate accepted")
	}

	snap := tr.Snapshot()
	if snap.TrackedSymbols != 2 {
		t.Errorf("unexpected tracked symbols: %d", snap.TrackedSymbols)
	}
	if snap.DuplicateTrades != 2 {
		t.Errorf("unexpected duplicates: %d", snap.DuplicateTrades)
	}
}

func TestObserveTimestamp(t *testing.T) {
	tr := NewTracker()
	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return base }

	if !tr.ObserveTimestamp(base.UnixMilli()) {
		t.Error("current timestamp rejected")
	}
	if !tr.ObserveTimestamp(base.Add(-24 * time.Hour).UnixMilli()) {
		t.Error("recent past timestamp rejected")
	}
	if tr.ObserveTimestamp(0) {
		t.Error("zero timestamp accepted")
	}
	if tr.ObserveTimestamp(-5) {
		t.Error("negative timestamp accepted")
	}
	if tr.ObserveTimestamp(base.Add(2 * 365 * 24 * time.Hour).UnixMilli()) {
		t.Error("far future timestamp accepted")
	}

	if snap := tr.Snapshot(); snap.InvalidTimestamps != 3 {
		t.Errorf("unexpected invalid timestamp count: %d", snap.InvalidTimestamps)
	}
}

func TestSnapshotCounters(t *testing.T) {
	tr := NewTracker()

	tr.RecordMessage()
	tr.RecordMessage()
	tr.RecordTrade("BTC", 1)
	tr.RecordTrade("BTC", 1)

	snap := tr.Snapshot()
	if snap.TotalMessages != 2 {
		t.Errorf("unexpected messages: %d", snap.TotalMessages)
	}
	if snap.TotalTrades != 1 {
		t.Errorf("unexpected trades: %d", snap.TotalTrades)
	}
	if snap.DuplicateTrades != 1 {
		t.Errorf("unexpected duplicates: %d", snap.DuplicateTrades)
	}
}
