package oplog

import (
	"fmt"
	"log/slog"
	"testing"

	"github.com/carebridge/notify/internal/logger"
)

func newTestLog(capacity int) *Log {
	return New(capacity, logger.New(logger.Config{Level: slog.LevelError}))
}

func TestSnapshotOrderBeforeWrap(t *testing.T) {
	ring := newTestLog(16)
	ring.Info("dispatcher", "first", nil)
	ring.Warn("dispatcher", "second", nil)
	ring.Error("dispatcher", "third", nil)

	entries := ring.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, want := range []string{"first", "second", "third"} {
		if entries[i].Message != want {
			t.Errorf("entry %d = %q, want %q", i, entries[i].Message, want)
		}
	}
	if entries[1].Level != slog.LevelWarn.String() {
		t.Errorf("level = %q, want WARN", entries[1].Level)
	}
}

func TestRingEvictsOldestAfterWrap(t *testing.T) {
	ring := newTestLog(16)
	for i := 0; i < 20; i++ {
		ring.Info("dispatcher", fmt.Sprintf("event-%d", i), nil)
	}

	if ring.Len() != 16 {
		t.Fatalf("len = %d, want capacity 16", ring.Len())
	}

	entries := ring.Snapshot()
	if len(entries) != 16 {
		t.Fatalf("snapshot len = %d, want 16", len(entries))
	}
	// Oldest surviving entry is event-4; newest is event-19.
	if entries[0].Message != "event-4" {
		t.Errorf("oldest = %q, want event-4", entries[0].Message)
	}
	if entries[15].Message != "event-19" {
		t.Errorf("newest = %q, want event-19", entries[15].Message)
	}
}

func TestMinimumCapacity(t *testing.T) {
	ring := newTestLog(2)
	for i := 0; i < 10; i++ {
		ring.Info("dispatcher", fmt.Sprintf("event-%d", i), nil)
	}
	if ring.Len() != 10 {
		t.Errorf("len = %d, want 10 with the enforced minimum capacity", ring.Len())
	}
}

func TestFieldsPreserved(t *testing.T) {
	ring := newTestLog(16)
	ring.Info("dispatcher", "notification.dispatched", map[string]interface{}{
		"recipient_id": "user-a",
	})

	entries := ring.Snapshot()
	if entries[0].Fields["recipient_id"] != "user-a" {
		t.Errorf("fields = %v", entries[0].Fields)
	}
	if entries[0].Component != "dispatcher" {
		t.Errorf("component = %q", entries[0].Component)
	}
}
