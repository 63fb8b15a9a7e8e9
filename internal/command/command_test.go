package command

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"songbot/internal/events"
	"songbot/internal/eventbus"
	"songbot/internal/scope"
)

func TestDispatchInvokesRegisteredCommand(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	d := New("!", scope.NewGate(nil), bus, logrus.NewEntry(logrus.New()))
	d.Register(Command{
		Name: "song",
		Handler: func(ctx context.Context, inv Invocation) string {
			return "ok:" + inv.Args
		},
	})

	d.Dispatch(context.Background(), "chan", "alice", "Alice", nil, "!song request abc")

	select {
	case payload := <-sub.Events():
		msg, ok := payload.(events.ChatMessage)
		if !ok || msg.Text != "ok:request abc" {
			t.Fatalf("unexpected response: %+v", payload)
		}
	default:
		t.Fatal("expected a response to be published")
	}
}

func TestDispatchDeniesWithoutRequiredScope(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	called := false
	d := New("!", scope.NewGate(nil), bus, logrus.NewEntry(logrus.New()))
	d.Register(Command{
		Name:     "skip",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv Invocation) string {
			called = true
			return "skipped"
		},
	})

	d.Dispatch(context.Background(), "chan", "alice", "Alice", nil, "!skip")
	if called {
		t.Fatal("handler must not run when scope gate denies")
	}

	select {
	case payload := <-sub.Events():
		msg, ok := payload.(events.ChatMessage)
		if !ok || msg.Text != scope.DeniedTemplate {
			t.Fatalf("expected denial template, got %+v", payload)
		}
	default:
		t.Fatal("expected a denial message to be published")
	}
}

func TestDispatchResolvesAliases(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	d := New("!", scope.NewGate(nil), bus, logrus.NewEntry(logrus.New()))
	d.Register(Command{
		Name: "song",
		Handler: func(ctx context.Context, inv Invocation) string {
			return "ok:" + inv.Args
		},
	})
	d.SetAliasResolver(func(ctx context.Context, channel, name string) (string, bool) {
		if name == "sr" {
			return "song", true
		}
		return "", false
	})

	d.Dispatch(context.Background(), "chan", "alice", "Alice", nil, "!sr request abc")

	select {
	case payload := <-sub.Events():
		msg, ok := payload.(events.ChatMessage)
		if !ok || msg.Text != "ok:request abc" {
			t.Fatalf("alias should invoke its target, got %+v", payload)
		}
	default:
		t.Fatal("expected the aliased command to respond")
	}
}

func TestDispatchIgnoresUnknownCommand(t *testing.T) {
	bus := eventbus.New()
	sub := bus.Subscribe(eventbus.Chat)
	defer sub.Unsubscribe()

	d := New("!", scope.NewGate(nil), bus, logrus.NewEntry(logrus.New()))
	d.Dispatch(context.Background(), "chan", "alice", "Alice", nil, "!nope")

	select {
	case <-sub.Events():
		t.Fatal("unknown command should not publish a response")
	default:
	}
}
