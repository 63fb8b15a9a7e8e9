// Package scope is the Scope / Auth Gate: it mediates which chat users may
// invoke which commands, deriving an effective scope set from chat badges
// plus channel-specific grants, and evaluating it against a command's
// declared requirement before a handler ever runs.
package scope

// Scope is one unit of command authority. Badge-derived scopes map 1:1 to
// the badges the chat ingress parses; Grant-derived scopes are
// per-channel and held in memory by Grants; they are not persisted.
type Scope string

const (
	Broadcaster Scope = "broadcaster"
	Moderator   Scope = "moderator"
	VIP         Scope = "vip"
	Subscriber  Scope = "subscriber"
	Viewer      Scope = "viewer"
)

// Set is an unordered collection of Scopes a user holds, e.g. in one
// channel at one moment: their badges plus any explicit grants.
type Set map[Scope]struct{}

// NewSet builds a Set from the given scopes, always including Viewer since
// every chat participant is at minimum a viewer.
func NewSet(scopes ...Scope) Set {
	s := make(Set, len(scopes)+1)
	s[Viewer] = struct{}{}
	for _, sc := range scopes {
		s[sc] = struct{}{}
	}
	return s
}

// Has reports whether the set contains sc.
func (s Set) Has(sc Scope) bool {
	_, ok := s[sc]
	return ok
}

// FromBadges derives a Set from a chat badge list (see internal/chat's tag
// parser), ignoring any badge name scope does not recognise.
func FromBadges(badges []string) Set {
	s := NewSet()
	for _, b := range badges {
		switch Scope(b) {
		case Broadcaster, Moderator, VIP, Subscriber:
			s[Scope(b)] = struct{}{}
		}
	}
	return s
}

// Required is the scope(s) a command declares; Satisfy is required ⊆
// effective, i.e. every required scope must be present in the caller's
// set. A command with no Required entries is open to any viewer.
type Required []Scope

// Satisfy reports whether effective holds every scope Required lists.
func (r Required) Satisfy(effective Set) bool {
	for _, sc := range r {
		if !effective.Has(sc) {
			return false
		}
	}
	return true
}

// Grants tracks channel-specific scope grants made to individual users
// beyond what their badges alone would confer (e.g. a broadcaster
// promoting a regular to a trusted-requester scope).
type Grants struct {
	granted map[string]map[string]Scope // channel -> user -> scope
}

// NewGrants returns an empty Grants table.
func NewGrants() *Grants {
	return &Grants{granted: make(map[string]map[string]Scope)}
}

// Grant records that user holds sc in channel, in addition to their badges.
func (g *Grants) Grant(channel, user string, sc Scope) {
	byUser, ok := g.granted[channel]
	if !ok {
		byUser = make(map[string]Scope)
		g.granted[channel] = byUser
	}
	byUser[user] = sc
}

// Revoke removes any channel-specific grant held by user.
func (g *Grants) Revoke(channel, user string) {
	delete(g.granted[channel], user)
}

// Effective returns the user's effective scope set: their badges plus any
// channel grant.
func (g *Grants) Effective(channel, user string, badges []string) Set {
	set := FromBadges(badges)
	if sc, ok := g.granted[channel][user]; ok {
		set[sc] = struct{}{}
	}
	return set
}

// DeniedTemplate is the fixed, stable sentence returned to chat whenever a
// Gate check fails. It is the same for every command and every failure
// reason; on failure the gate never invokes the handler.
const DeniedTemplate = "you do not have permission to do that"

// Gate evaluates a command's Required scopes against a caller's effective
// Set before a handler is invoked.
type Gate struct {
	grants *Grants
}

// NewGate builds a Gate backed by grants (may be nil to use badges alone).
func NewGate(grants *Grants) *Gate {
	if grants == nil {
		grants = NewGrants()
	}
	return &Gate{grants: grants}
}

// Allow reports whether a user with the given channel/badges may invoke a
// command declaring the given Required scopes.
func (g *Gate) Allow(channel, user string, badges []string, required Required) bool {
	return required.Satisfy(g.grants.Effective(channel, user, badges))
}
