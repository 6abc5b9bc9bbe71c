package registry

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/carebridge/notify/internal/logger"
	"github.com/carebridge/notify/internal/notify"
)

type fakeConn struct {
	mu       sync.Mutex
	events   []notify.Event
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.events = append(c.events, v.(notify.Event))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) eventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError})
}

func testEvent(t *testing.T) notify.Event {
	t.Helper()
	event, err := notify.NewEvent(notify.EventUnreadCount, map[string]int{"count": 1})
	if err != nil {
		t.Fatalf("failed to build event: %v", err)
	}
	return event
}

func TestRegisterReplacesExistingConnection(t *testing.T) {
	reg := New(testLogger())
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	id1 := reg.Register("user-a", c1)
	id2 := reg.Register("user-a", c2)

	if id1 == id2 {
		t.Fatal("expected distinct connection ids")
	}
	if !reg.IsConnected("user-a") {
		t.Fatal("user-a should be connected")
	}
	if got := reg.ConnectionID("user-a"); got != id2 {
		t.Errorf("expected current connection %s, got %s", id2, got)
	}
	if !c1.closed {
		t.Error("replaced connection should have been closed")
	}

	// Push routes to c2 only.
	result := reg.Push("user-a", testEvent(t))
	if !result.Success {
		t.Fatalf("push failed: %v", result.Err)
	}
	if c2.eventCount() != 1 {
		t.Errorf("expected 1 event on new connection, got %d", c2.eventCount())
	}
	if c1.eventCount() != 0 {
		t.Errorf("expected 0 events on replaced connection, got %d", c1.eventCount())
	}
}

func TestUnregisterIsCompareAndDelete(t *testing.T) {
	reg := New(testLogger())
	c1 := &fakeConn{}
	c2 := &fakeConn{}

	id1 := reg.Register("user-a", c1)
	reg.Register("user-a", c2)

	// Stale teardown from the replaced connection must not evict c2.
	reg.Unregister("user-a", id1)
	if !reg.IsConnected("user-a") {
		t.Fatal("stale unregister must not disconnect the newer connection")
	}

	// Matching teardown removes the entry.
	reg.Unregister("user-a", reg.ConnectionID("user-a"))
	if reg.IsConnected("user-a") {
		t.Fatal("matching unregister should disconnect")
	}
}

func TestPushNotConnected(t *testing.T) {
	reg := New(testLogger())

	result := reg.Push("nobody", testEvent(t))
	if result.Success {
		t.Fatal("push to unknown recipient should fail")
	}
	if !errors.Is(result.Err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", result.Err)
	}
}

func TestPushWriteErrorEvictsConnection(t *testing.T) {
	reg := New(testLogger())
	broken := &fakeConn{writeErr: errors.New("broken pipe")}
	reg.Register("user-a", broken)

	result := reg.Push("user-a", testEvent(t))
	if result.Success {
		t.Fatal("push over a broken handle should fail")
	}
	if reg.IsConnected("user-a") {
		t.Error("broken connection should have been evicted")
	}
	if !broken.closed {
		t.Error("broken connection should have been closed")
	}
}

func TestCountAndCloseAll(t *testing.T) {
	reg := New(testLogger())
	c1 := &fakeConn{}
	c2 := &fakeConn{}
	reg.Register("user-a", c1)
	reg.Register("user-b", c2)

	if reg.Count() != 2 {
		t.Fatalf("expected 2 connections, got %d", reg.Count())
	}

	reg.CloseAll()
	if reg.Count() != 0 {
		t.Errorf("expected 0 connections after CloseAll, got %d", reg.Count())
	}
	if !c1.closed || !c2.closed {
		t.Error("all connections should be closed")
	}
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	reg := New(testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := reg.Register("user-a", &fakeConn{})
			reg.Push("user-a", notify.Event{Type: notify.EventHeartbeat})
			reg.Unregister("user-a", id)
		}()
	}
	wg.Wait()

	// Whatever interleaving happened, the registry must be consistent:
	// either empty or holding exactly one live entry.
	if reg.Count() > 1 {
		t.Errorf("expected at most one connection, got %d", reg.Count())
	}
}
