package scope

import "testing"

func TestFromBadgesIgnoresUnknownBadges(t *testing.T) {
	s := FromBadges([]string{"moderator", "founder", "bits-leader"})
	if !s.Has(Moderator) {
		t.Fatal("expected moderator scope from its badge")
	}
	if !s.Has(Viewer) {
		t.Fatal("every chatter holds the viewer scope")
	}
	if len(s) != 2 {
		t.Fatalf("unknown badges must not add scopes, got %v", s)
	}
}

func TestRequiredSatisfyIsSubsetCheck(t *testing.T) {
	effective := NewSet(Moderator, Subscriber)

	if !(Required{Moderator}).Satisfy(effective) {
		t.Fatal("moderator requirement should pass")
	}
	if (Required{Broadcaster}).Satisfy(effective) {
		t.Fatal("broadcaster requirement should fail")
	}
	if !(Required{}).Satisfy(effective) {
		t.Fatal("empty requirement is open to any viewer")
	}
}

func TestGrantsExtendBadges(t *testing.T) {
	g := NewGrants()
	g.Grant("chan", "alice", VIP)

	if !g.Effective("chan", "alice", nil).Has(VIP) {
		t.Fatal("grant should appear in effective set")
	}
	if g.Effective("other", "alice", nil).Has(VIP) {
		t.Fatal("grants are channel-specific")
	}

	g.Revoke("chan", "alice")
	if g.Effective("chan", "alice", nil).Has(VIP) {
		t.Fatal("revoked grant should disappear")
	}
}

func TestGateAllow(t *testing.T) {
	gate := NewGate(nil)
	if gate.Allow("chan", "alice", nil, Required{Moderator}) {
		t.Fatal("viewer must not pass a moderator gate")
	}
	if !gate.Allow("chan", "alice", []string{"moderator"}, Required{Moderator}) {
		t.Fatal("moderator badge must pass a moderator gate")
	}
}
