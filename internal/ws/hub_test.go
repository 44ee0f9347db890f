package ws

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/splax/creditledger/internal/domain"
)

type fakeSubscriber struct {
	mu       sync.Mutex
	payloads [][]byte
	fail     bool
	closed   bool
	received chan struct{}
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{received: make(chan struct{}, 8)}
}

func (f *fakeSubscriber) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.payloads = append(f.payloads, payload)
	f.received <- struct{}{}
	return nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(hub.Close)
	return hub
}

func TestPublishSettlementReachesOnlyOwner(t *testing.T) {
	hub := newTestHub(t)
	owner := newFakeSubscriber()
	other := newFakeSubscriber()
	hub.Register("acct-1", owner)
	hub.Register("acct-2", other)

	hub.PublishSettlement(domain.SettlementEvent{EntryID: "entry-1", AccountID: "acct-1", Credits: 100, Balance: 100})

	select {
	case <-owner.received:
	case <-time.After(time.Second):
		t.Fatalf("owner did not receive settlement")
	}
	var decoded map[string]any
	if err := json.Unmarshal(owner.payloads[0], &decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded["type"] != "credits.settled" || decoded["transactionId"] != "entry-1" || decoded["creditBalance"] != float64(100) {
		t.Fatalf("unexpected payload %v", decoded)
	}
	select {
	case <-other.received:
		t.Fatalf("other account must not receive the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFailingSubscriberIsDropped(t *testing.T) {
	hub := newTestHub(t)
	broken := newFakeSubscriber()
	broken.fail = true
	hub.Register("acct-1", broken)

	hub.Broadcast("acct-1", []byte("{}"))

	deadline := time.Now().Add(time.Second)
	for !broken.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("failing subscriber was not closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sub := newFakeSubscriber()
	hub.Register("acct-1", sub)
	hub.Close()

	deadline := time.Now().Add(time.Second)
	for !sub.isClosed() {
		if time.Now().After(deadline) {
			t.Fatalf("subscriber not closed on hub shutdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Broadcast("acct-1", []byte("{}")) {
		t.Fatalf("broadcast after close should report false")
	}
}

func TestConnectedCountsSubscribers(t *testing.T) {
	hub := newTestHub(t)
	a, b := newFakeSubscriber(), newFakeSubscriber()
	hub.Register("acct-1", a)
	hub.Register("acct-1", b)
	if got := hub.Connected("acct-1"); got != 2 {
		t.Fatalf("Connected = %d, want 2", got)
	}
	hub.Unregister("acct-1", a)
	if got := hub.Connected("acct-1"); got != 1 {
		t.Fatalf("Connected = %d, want 1", got)
	}
	if got := hub.Connected("acct-2"); got != 0 {
		t.Fatalf("Connected = %d, want 0", got)
	}
}
