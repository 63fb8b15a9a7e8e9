package eventbus

import "testing"

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	s1 := b.Subscribe(Player)
	s2 := b.Subscribe(Player)
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()

	b.Publish(Player, "ev")

	for i, s := range []*Subscription{s1, s2} {
		select {
		case got := <-s.Events():
			if got != "ev" {
				t.Fatalf("subscriber %d got %v", i, got)
			}
		default:
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestPublishPreservesEmissionOrder(t *testing.T) {
	b := New()
	s := b.Subscribe(Player)
	defer s.Unsubscribe()

	for i := 0; i < 10; i++ {
		b.Publish(Player, i)
	}
	for want := 0; want < 10; want++ {
		got := <-s.Events()
		if got != want {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLaggingSubscriberIsDisconnectedNotBlocking(t *testing.T) {
	b := New()
	lagging := b.Subscribe(Player)

	// Fill past the backlog without draining; the publisher must never
	// block, and the lagging subscriber must be dropped.
	for i := 0; i < backlog+5; i++ {
		b.Publish(Player, i)
	}

	drained := 0
	for range lagging.Events() {
		drained++
	}
	if drained != backlog {
		t.Fatalf("expected exactly the backlog to be delivered, got %d", drained)
	}

	healthy := b.Subscribe(Player)
	defer healthy.Unsubscribe()
	b.Publish(Player, "after")
	select {
	case got := <-healthy.Events():
		if got != "after" {
			t.Fatalf("got %v", got)
		}
	default:
		t.Fatal("bus must keep delivering to healthy subscribers")
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	s := b.Subscribe(Chat)
	s.Unsubscribe()
	s.Unsubscribe()

	b.Publish(Chat, "ignored")
}
