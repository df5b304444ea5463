package stream

import (
	"testing"

	"github.com/hiveswarm/hive/internal/types"
)

func TestBrokerPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	defer unsubscribe()

	b.Publish(types.Event{Sequence: 1, Type: types.EventCellCreated})

	select {
	case ev := <-ch:
		if ev.Sequence != 1 {
			t.Errorf("expected sequence 1, got %d", ev.Sequence)
		}
	default:
		t.Fatal("expected a buffered event, got none")
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	ch, unsubscribe := b.Subscribe()
	unsubscribe()

	b.Publish(types.Event{Sequence: 1})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBrokerRecentFiltersByAfterSequence(t *testing.T) {
	b := NewBroker()
	b.Publish(types.Event{Sequence: 1})
	b.Publish(types.Event{Sequence: 2})
	b.Publish(types.Event{Sequence: 3})

	got := b.Recent(1)
	if len(got) != 2 {
		t.Fatalf("expected 2 events after sequence 1, got %d", len(got))
	}
	if got[0].Sequence != 2 || got[1].Sequence != 3 {
		t.Errorf("unexpected sequences: %+v", got)
	}
}

func TestRegistryGetIsPerProject(t *testing.T) {
	r := NewRegistry()
	a := r.Get("proj-a")
	b := r.Get("proj-b")
	if a == b {
		t.Fatal("expected distinct brokers for distinct project keys")
	}
	if r.Get("proj-a") != a {
		t.Fatal("expected Get to return the same broker on repeat calls")
	}
}
