package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// memStore 内存事件存储，仅测试用
type memStore struct {
	mu     sync.Mutex
	events map[string][]*Event
	fail   bool
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]*Event)}
}

func (s *memStore) SaveEvent(ctx context.Context, evt *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return fmt.Errorf("store unavailable")
	}
	s.events[evt.SessionID] = append(s.events[evt.SessionID], evt)
	return nil
}

func (s *memStore) GetEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Event(nil), s.events[sessionID]...), nil
}

func (s *memStore) ClearEvents(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
	return nil
}

func TestBusPublishStoresAndNotifies(t *testing.T) {
	store := newMemStore()
	bus := NewBus(store)

	received := make(chan *Event, 1)
	if err := bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		received <- evt
		return nil
	})); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	evt := NewEvent("s1", "u1", EventPaused)
	evt.Reason = "network"
	if err := bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case got := <-received:
		if got.EventType != EventPaused || got.Reason != "network" {
			t.Errorf("received = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified")
	}

	events, err := bus.GetEvents(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetEvents() error = %v", err)
	}
	if len(events) != 1 {
		t.Errorf("stored events = %d, want 1", len(events))
	}
}

func TestBusPublishFailsWhenStoreFails(t *testing.T) {
	store := newMemStore()
	store.fail = true
	bus := NewBus(store)

	notified := make(chan struct{}, 1)
	_ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		notified <- struct{}{}
		return nil
	}))

	if err := bus.Publish(context.Background(), NewEvent("s1", "u1", EventWarning)); err == nil {
		t.Error("Publish() = nil error, want store failure")
	}

	// 存储失败时订阅者不该收到事件
	select {
	case <-notified:
		t.Error("subscriber notified despite store failure")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusWithoutStore(t *testing.T) {
	bus := NewBus(nil)

	// 没有存储时发布仍然通知订阅者
	received := make(chan *Event, 1)
	_ = bus.Subscribe(HandlerFunc(func(ctx context.Context, evt *Event) error {
		received <- evt
		return nil
	}))

	if err := bus.Publish(context.Background(), NewEvent("s1", "u1", EventResumed)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("subscriber not notified without store")
	}
}

func TestBusSubscribeNil(t *testing.T) {
	bus := NewBus(nil)
	if err := bus.Subscribe(nil); err == nil {
		t.Error("Subscribe(nil) = nil error, want error")
	}
}

func TestBusClearEvents(t *testing.T) {
	store := newMemStore()
	bus := NewBus(store)

	_ = bus.Publish(context.Background(), NewEvent("s1", "u1", EventSessionStarted))
	if err := bus.ClearEvents(context.Background(), "s1"); err != nil {
		t.Fatalf("ClearEvents() error = %v", err)
	}

	events, _ := bus.GetEvents(context.Background(), "s1")
	if len(events) != 0 {
		t.Errorf("events after clear = %d, want 0", len(events))
	}
}
