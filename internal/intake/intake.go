// Package intake is the Request Intake: it validates a chat-originated
// song request against bans, per-user and global limits, and duration
// caps before it ever reaches the Request Store. Every rejection maps to
// exactly one stable, brief chat sentence; nothing here panics or returns
// a raw error to chat.
package intake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"songbot/internal/cooldown"
	"songbot/internal/scope"
	"songbot/internal/store"
	"songbot/internal/track"
)

// Reason names why a request was rejected. Each has exactly one
// corresponding user-facing sentence, built in reasonMessage.
type Reason string

const (
	ReasonParse           Reason = "parse_error"
	ReasonNotPlayable     Reason = "not_playable"
	ReasonBannedTrack     Reason = "banned_track"
	ReasonBannedArtist    Reason = "banned_artist"
	ReasonUserLimit       Reason = "user_limit"
	ReasonUserCooldown    Reason = "user_cooldown"
	ReasonGlobalCooldown  Reason = "global_cooldown"
	ReasonQueueFull       Reason = "queue_full"
	ReasonDurationTooLong Reason = "duration_too_long"
	ReasonInternal        Reason = "internal"
)

// Config tunes the limits Submit enforces.
type Config struct {
	MaxInFlightPerUser int
	UserCooldown       time.Duration
	GlobalCooldown     time.Duration
	MaxQueueLength     int
	MaxDurationS       int
	ElevatedScope      scope.Scope
}

// DefaultConfig returns reasonable defaults a deployment can override from
// persisted settings.
func DefaultConfig() Config {
	return Config{
		MaxInFlightPerUser: 2,
		UserCooldown:       10 * time.Second,
		GlobalCooldown:     0,
		MaxQueueLength:     100,
		MaxDurationS:       600,
		ElevatedScope:      scope.Moderator,
	}
}

// Result is returned on a successful Submit.
type Result struct {
	Request       store.Request
	QueuePosition int
	Message       string
}

// Rejection is returned (as an error) when a request fails any check.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string { return r.Message }

// Intake is the per-channel-set request validator. One Intake may serve
// multiple channels; cooldown state is keyed by (channel, user).
type Intake struct {
	st       *store.Store
	metadata *track.Registry
	cfg      Config

	mu         sync.Mutex
	userGates  map[string]cooldown.Cooldown
	globalGate cooldown.Cooldown
}

// New builds an Intake backed by st for persistence and metadata for
// resolving track descriptors.
func New(st *store.Store, metadata *track.Registry, cfg Config) *Intake {
	return &Intake{
		st:         st,
		metadata:   metadata,
		cfg:        cfg,
		userGates:  make(map[string]cooldown.Cooldown),
		globalGate: cooldown.New(cfg.GlobalCooldown),
	}
}

func userKey(channel, user string) string { return channel + "\x00" + user }

// Submit validates and, on success, appends a request to the store. The
// caller (command dispatch) is responsible for invoking FSM.Wake() after a
// successful Submit so an idle player picks the request up.
func (in *Intake) Submit(ctx context.Context, channel, user string, badges []string, query string) (Result, error) {
	query = strings.TrimSpace(query)
	id, err := track.Parse(query)
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonParse, Message: reasonMessage(user, ReasonParse, nil)}
	}

	meta, err := in.metadata.Resolve(id)
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonParse, Message: reasonMessage(user, ReasonParse, nil)}
	}
	if id.Provider == track.StreamingAudio && !meta.Playable {
		return Result{}, &Rejection{Reason: ReasonNotPlayable, Message: reasonMessage(user, ReasonNotPlayable, nil)}
	}

	banned, err := in.st.IsBanned(ctx, channel, store.BanTrack, id.String())
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonInternal, Message: reasonMessage(user, ReasonInternal, nil)}
	}
	if banned {
		return Result{}, &Rejection{Reason: ReasonBannedTrack, Message: reasonMessage(user, ReasonBannedTrack, nil)}
	}
	if id.Provider == track.StreamingAudio {
		for _, artist := range meta.Artists {
			bannedArtist, err := in.st.IsBanned(ctx, channel, store.BanArtist, artist)
			if err != nil {
				return Result{}, &Rejection{Reason: ReasonInternal, Message: reasonMessage(user, ReasonInternal, nil)}
			}
			if bannedArtist {
				return Result{}, &Rejection{Reason: ReasonBannedArtist, Message: reasonMessage(user, ReasonBannedArtist, nil)}
			}
		}
	}

	inFlight, err := in.st.CountActiveByUser(ctx, channel, user)
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonInternal, Message: reasonMessage(user, ReasonInternal, nil)}
	}
	if in.cfg.MaxInFlightPerUser > 0 && inFlight >= in.cfg.MaxInFlightPerUser {
		return Result{}, &Rejection{Reason: ReasonUserLimit, Message: reasonMessage(user, ReasonUserLimit, nil)}
	}

	now := time.Now()
	if remaining, rejected := in.checkUserCooldown(channel, user, now); rejected {
		return Result{}, &Rejection{Reason: ReasonUserCooldown, Message: reasonMessage(user, ReasonUserCooldown, remaining)}
	}
	if remaining, rejected := in.checkGlobalCooldown(now); rejected {
		return Result{}, &Rejection{Reason: ReasonGlobalCooldown, Message: reasonMessage(user, ReasonGlobalCooldown, remaining)}
	}

	queued, err := in.st.CountActive(ctx, channel)
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonInternal, Message: reasonMessage(user, ReasonInternal, nil)}
	}
	if in.cfg.MaxQueueLength > 0 && queued >= in.cfg.MaxQueueLength {
		return Result{}, &Rejection{Reason: ReasonQueueFull, Message: reasonMessage(user, ReasonQueueFull, nil)}
	}

	elevated := scope.FromBadges(badges).Has(in.cfg.ElevatedScope)
	if !elevated && in.cfg.MaxDurationS > 0 && meta.DurationS > in.cfg.MaxDurationS {
		return Result{}, &Rejection{Reason: ReasonDurationTooLong, Message: reasonMessage(user, ReasonDurationTooLong, nil)}
	}

	req, err := in.st.Append(ctx, channel, id.String(), user)
	if err != nil {
		return Result{}, &Rejection{Reason: ReasonInternal, Message: reasonMessage(user, ReasonInternal, nil)}
	}

	in.pokeGates(channel, user, now)

	position := queued + 1
	artists := strings.Join(meta.Artists, ", ")
	var msg string
	if artists == "" {
		msg = fmt.Sprintf("%s -> Added %q at position #%d", user, meta.Title, position)
	} else {
		msg = fmt.Sprintf("%s -> Added %q by %s at position #%d", user, meta.Title, artists, position)
	}
	return Result{Request: req, QueuePosition: position, Message: msg}, nil
}

func (in *Intake) checkUserCooldown(channel, user string, now time.Time) (time.Duration, bool) {
	if in.cfg.UserCooldown <= 0 {
		return 0, false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	key := userKey(channel, user)
	gate, ok := in.userGates[key]
	if !ok {
		gate = cooldown.New(in.cfg.UserCooldown)
	}
	remaining, closed := gate.Check(now)
	return remaining, closed
}

func (in *Intake) checkGlobalCooldown(now time.Time) (time.Duration, bool) {
	if in.cfg.GlobalCooldown <= 0 {
		return 0, false
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.globalGate.Check(now)
}

// pokeGates advances both cooldown gates after a successful submission.
func (in *Intake) pokeGates(channel, user string, now time.Time) {
	in.mu.Lock()
	defer in.mu.Unlock()
	key := userKey(channel, user)
	gate, ok := in.userGates[key]
	if !ok {
		gate = cooldown.New(in.cfg.UserCooldown)
	}
	in.userGates[key] = gate.Poke(now)
	in.globalGate = in.globalGate.Poke(now)
}

func reasonMessage(user string, reason Reason, remaining interface{}) string {
	switch reason {
	case ReasonParse:
		return fmt.Sprintf("%s -> I couldn't understand that as a song request", user)
	case ReasonNotPlayable:
		return fmt.Sprintf("%s -> that track isn't playable here", user)
	case ReasonBannedTrack:
		return fmt.Sprintf("%s -> that song can't be requested in this channel", user)
	case ReasonBannedArtist:
		return fmt.Sprintf("%s -> that artist can't be requested in this channel", user)
	case ReasonUserLimit:
		return fmt.Sprintf("%s -> you already have too many songs queued", user)
	case ReasonUserCooldown:
		d, _ := remaining.(time.Duration)
		return fmt.Sprintf("%s -> You must wait %ds before requesting another song", user, int(d.Round(time.Second).Seconds()))
	case ReasonGlobalCooldown:
		d, _ := remaining.(time.Duration)
		return fmt.Sprintf("%s -> please wait %ds before the next request", user, int(d.Round(time.Second).Seconds()))
	case ReasonQueueFull:
		return fmt.Sprintf("%s -> the queue is full right now", user)
	case ReasonDurationTooLong:
		return fmt.Sprintf("%s -> that song is too long to request", user)
	default:
		return fmt.Sprintf("%s -> something went wrong with that request", user)
	}
}
