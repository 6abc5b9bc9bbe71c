package delivery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/carebridge/notify/internal/logger"
)

type memStore struct {
	mu        sync.Mutex
	logs      map[string]*Log
	insertErr error
}

func newMemStore() *memStore {
	return &memStore{logs: make(map[string]*Log)}
}

func (s *memStore) InsertDeliveryLog(_ context.Context, log *Log) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	clone := *log
	s.logs[log.ID] = &clone
	return nil
}

func (s *memStore) FinalizeDeliveryLog(_ context.Context, id string, status Status, latencyMs *int64, errorReason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logs[id]
	if !ok {
		return false, nil
	}
	if entry.Status != StatusPending {
		return false, nil
	}
	entry.Status = status
	entry.LatencyMs = latencyMs
	entry.ErrorReason = errorReason
	return true, nil
}

func (s *memStore) GetDeliveryLog(_ context.Context, id string) (*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.logs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	clone := *entry
	return &clone, nil
}

func (s *memStore) ListDeliveryLogsByNotification(_ context.Context, notificationID string) ([]*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Log
	for _, entry := range s.logs {
		if entry.NotificationID == notificationID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) ListDeliveryLogsByRecipient(_ context.Context, recipientID string, _ int) ([]*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Log
	for _, entry := range s.logs {
		if entry.RecipientID == recipientID {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (s *memStore) ListDeliveryLogsByStatus(_ context.Context, status Status, _ int) ([]*Log, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Log
	for _, entry := range s.logs {
		if entry.Status == status {
			clone := *entry
			out = append(out, &clone)
		}
	}
	return out, nil
}

func newTestTracker() (*Tracker, *memStore) {
	store := newMemStore()
	return NewTracker(store, logger.New(logger.Config{Level: slog.LevelError})), store
}

func TestCreateOpensPendingLog(t *testing.T) {
	tracker, _ := newTestTracker()

	entry, err := tracker.Create(context.Background(), "notif-1", "user-a", true, "conn-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if entry.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", entry.Status)
	}
	if !entry.WasConnected || entry.ConnectionID != "conn-1" {
		t.Error("connectivity snapshot not captured")
	}

	stored, err := tracker.Get(context.Background(), entry.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != StatusPending {
		t.Errorf("stored status = %s, want PENDING", stored.Status)
	}
}

func TestMarkDeliveredFinalizesOnce(t *testing.T) {
	tracker, _ := newTestTracker()
	entry, err := tracker.Create(context.Background(), "notif-1", "user-a", true, "conn-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := tracker.MarkDelivered(context.Background(), entry.ID, 12); err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}

	stored, _ := tracker.Get(context.Background(), entry.ID)
	if stored.Status != StatusDelivered {
		t.Fatalf("status = %s, want DELIVERED", stored.Status)
	}
	if stored.LatencyMs == nil || *stored.LatencyMs != 12 {
		t.Error("latency not recorded")
	}

	// A late failure signal for the same attempt must not overwrite the
	// terminal state.
	if err := tracker.MarkFailed(context.Background(), entry.ID, "late write error"); err != nil {
		t.Fatalf("duplicate completion should not error: %v", err)
	}
	stored, _ = tracker.Get(context.Background(), entry.ID)
	if stored.Status != StatusDelivered {
		t.Errorf("terminal status overwritten to %s", stored.Status)
	}
	if stored.ErrorReason != "" {
		t.Errorf("error reason set on delivered log: %q", stored.ErrorReason)
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	tracker, _ := newTestTracker()
	entry, err := tracker.Create(context.Background(), "notif-1", "user-a", false, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if err := tracker.MarkFailed(context.Background(), entry.ID, "not connected"); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}

	stored, _ := tracker.Get(context.Background(), entry.ID)
	if stored.Status != StatusFailed {
		t.Fatalf("status = %s, want FAILED", stored.Status)
	}
	if stored.ErrorReason != "not connected" {
		t.Errorf("error reason = %q", stored.ErrorReason)
	}
	if stored.LatencyMs != nil {
		t.Error("failed log must not carry latency")
	}

	// Duplicate delivered signal is ignored.
	if err := tracker.MarkDelivered(context.Background(), entry.ID, 5); err != nil {
		t.Fatalf("duplicate completion should not error: %v", err)
	}
	stored, _ = tracker.Get(context.Background(), entry.ID)
	if stored.Status != StatusFailed {
		t.Errorf("terminal status overwritten to %s", stored.Status)
	}
}

func TestCreatePropagatesStoreError(t *testing.T) {
	tracker, store := newTestTracker()
	store.insertErr = errors.New("connection refused")

	if _, err := tracker.Create(context.Background(), "notif-1", "user-a", false, ""); err == nil {
		t.Fatal("expected insert error")
	}
}

func TestListByStatus(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	a, _ := tracker.Create(ctx, "notif-1", "user-a", true, "conn-1")
	tracker.Create(ctx, "notif-2", "user-b", false, "")
	tracker.MarkDelivered(ctx, a.ID, 3)

	pending, err := tracker.ByStatus(ctx, StatusPending, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(pending) != 1 || pending[0].NotificationID != "notif-2" {
		t.Errorf("unexpected pending set: %+v", pending)
	}

	delivered, err := tracker.ByStatus(ctx, StatusDelivered, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(delivered) != 1 || delivered[0].NotificationID != "notif-1" {
		t.Errorf("unexpected delivered set: %+v", delivered)
	}
}
