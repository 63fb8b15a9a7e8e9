// Package cmd is the CLI entrypoint: it assembles every component into one
// runnable App and drives its lifecycle, from flag parsing through
// signal-driven shutdown.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"songbot/internal/backend"
	"songbot/internal/backend/local"
	"songbot/internal/backend/remote"
	"songbot/internal/buffer"
	"songbot/internal/cache"
	"songbot/internal/chat"
	"songbot/internal/command"
	"songbot/internal/config"
	"songbot/internal/encoder"
	"songbot/internal/eventbus"
	"songbot/internal/events"
	"songbot/internal/httpserver"
	"songbot/internal/idle"
	"songbot/internal/intake"
	"songbot/internal/playerfsm"
	"songbot/internal/provider"
	"songbot/internal/reconciler"
	"songbot/internal/scope"
	"songbot/internal/songfile"
	"songbot/internal/store"
	"songbot/internal/track"
)

// moderatorOnly is the Required set for song sub-commands the Scope Gate
// doesn't see directly (handleSong dispatches on its own args, not through
// the Dispatcher's per-Command Required field).
var moderatorOnly = scope.Required{scope.Moderator}

// channelRuntime bundles the per-channel resources the App owns.
type channelRuntime struct {
	fsm        *playerfsm.FSM
	idle       *idle.Detector
	reconciler *reconciler.Reconciler
}

// App owns every long-running component for one bot process: one Player
// State Machine (and its backends/reconciler) per configured channel,
// sharing one request store, response cache, event bus, command
// dispatcher, chat client, current-song writer, and admin/overlay server.
type App struct {
	cfg config.Config
	log *logrus.Entry

	store    *store.Store
	cache    *cache.Cache
	bus      *eventbus.Bus
	registry *track.Registry
	intake   *intake.Intake
	grants   *scope.Grants
	gate     *scope.Gate
	dispatch *command.Dispatcher
	channels map[string]*channelRuntime

	chatClient *chat.Client
	songWriter *songfile.Writer
	http       *httpserver.Server
}

// New builds an App from cfg. It opens the store and cache, resolves
// providers, and constructs one channel runtime per cfg.ChatChannels entry.
// Each channel's Player State Machine and remote event relay start here;
// the reconcilers, chat client, idle promos, current-song writer and HTTP
// server start only in Run.
func New(cfg config.Config, log *logrus.Entry) (*App, error) {
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("cmd: open store: %w", err)
	}

	responseCache, err := cache.Open(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("cmd: open cache: %w", err)
	}

	bus := eventbus.New()
	registry := track.NewRegistry()
	registry.Register(track.VideoHost, provider.NewCached(provider.NewVideoHost(), responseCache, "videohost", time.Hour))

	streamingCfg := provider.StreamingConfig{
		ClientID:     os.Getenv("SONGBOT_SPOTIFY_CLIENT_ID"),
		ClientSecret: os.Getenv("SONGBOT_SPOTIFY_CLIENT_SECRET"),
		Market:       os.Getenv("SONGBOT_SPOTIFY_MARKET"),
	}
	streamingResolver, err := provider.NewStreaming(context.Background(), streamingCfg)
	if err != nil {
		return nil, fmt.Errorf("cmd: init streaming provider: %w", err)
	}
	registry.Register(track.StreamingAudio, provider.NewCached(streamingResolver, responseCache, "streaming", time.Hour))

	intakeCfg := intake.DefaultConfig()
	intakeCfg.UserCooldown = cfg.UserCooldown()
	intakeCfg.GlobalCooldown = cfg.GlobalCooldown()
	intakeCfg.MaxInFlightPerUser = cfg.MaxInFlightPerUser
	intakeCfg.MaxQueueLength = cfg.MaxQueueLength
	intakeCfg.MaxDurationS = cfg.MaxDurationSeconds
	in := intake.New(st, registry, intakeCfg)

	grants := scope.NewGrants()
	gate := scope.NewGate(grants)
	dispatch := command.New("!", gate, bus, log)
	dispatch.SetAliasResolver(func(ctx context.Context, channel, name string) (string, bool) {
		target, ok, err := st.ResolveAlias(ctx, channel, name)
		return target, err == nil && ok
	})

	a := &App{
		cfg:      cfg,
		log:      log,
		store:    st,
		cache:    responseCache,
		bus:      bus,
		registry: registry,
		intake:   in,
		grants:   grants,
		gate:     gate,
		dispatch: dispatch,
		channels: make(map[string]*channelRuntime),
	}

	for _, channel := range cfg.ChatChannels {
		rt, err := a.buildChannel(channel, streamingResolver)
		if err != nil {
			return nil, fmt.Errorf("cmd: build channel %q: %w", channel, err)
		}
		a.channels[channel] = rt
	}

	a.registerCommands()

	fsms := make(map[string]httpserver.StateSnapshotter, len(a.channels))
	for ch, rt := range a.channels {
		fsms[ch] = rt.fsm
	}
	a.http = httpserver.New(bus, fsms, log)

	a.chatClient = chat.New(chat.Config{
		Addr:     cfg.ChatAddr,
		Nick:     cfg.ChatNick,
		Token:    cfg.ChatToken,
		Channels: cfg.ChatChannels,
	}, bus, a.onChatMessage, func() string { return cfg.ChatToken }, log)

	if cfg.CurrentSongPath != "" {
		tmpl := cfg.CurrentSongTemplate
		if tmpl == "" {
			tmpl = songfile.DefaultTemplate
		}
		a.songWriter = songfile.New(cfg.CurrentSongPath, tmpl, log)
	}

	return a, nil
}

// buildChannel constructs the Local/Remote backends, FSM, and reconciler
// for one channel.
func (a *App) buildChannel(channel string, streamingResolver local.StreamResolver) (*channelRuntime, error) {
	localBackend := local.New(streamingResolver, encoder.DefaultConfig(), buffer.Config{
		Bitrate:   encoder.DefaultConfig().Bitrate,
		Prebuffer: 500 * time.Millisecond,
		MinDelay:  20 * time.Millisecond,
		MaxDelay:  200 * time.Millisecond,
		MaxBuffer: 2 * time.Second,
		Interval:  20 * time.Millisecond,
	})

	merged := newMergingRemote(remote.New(remote.Config{
		BaseURL:   a.cfg.RemoteBaseURL,
		Token:     a.cfg.RemoteToken,
		UserAgent: a.cfg.UserAgent,
	}))

	backends := map[track.Provider]backend.Backend{
		track.StreamingAudio: localBackend,
		track.VideoHost:      merged,
	}

	themes, err := loadThemes(context.Background(), a.store, channel)
	if err != nil {
		return nil, err
	}

	fsm := playerfsm.New(channel, a.store, backends, a.registry, a.bus, themes, a.log)
	fsm.Start()

	if raw, ok, err := a.store.GetSetting(context.Background(), "volume:"+channel); err == nil && ok {
		if percent, err := strconv.Atoi(raw); err == nil {
			fsm.SetVolume(percent)
		}
	}

	rec := reconciler.New(merged.remote, func() reconciler.Intended {
		snap := fsm.Snapshot()
		return reconciler.Intended{
			Mode:          snap.Mode,
			TrackID:       snap.TrackID,
			ElapsedMS:     snap.ElapsedMS,
			VolumePercent: snap.VolumePercent,
		}
	}, reconciler.Callbacks{
		UpdateElapsed: fsm.ReconcilerUpdateElapsed,
		Warn:          fsm.ReconcilerWarn,
		ForcePause:    fsm.RequestPause,
	}, reconciler.DefaultConfig(), merged.merged, a.log)

	return &channelRuntime{fsm: fsm, idle: idle.New(a.cfg.IdleThreshold), reconciler: rec}, nil
}

// loadThemes reads the "themes:<channel>" setting, a JSON array of
// {name, track_id, offset_seconds}, into playerfsm.Theme values. Absent or
// malformed settings yield an empty theme set rather than failing startup.
func loadThemes(ctx context.Context, st *store.Store, channel string) (map[string]playerfsm.Theme, error) {
	raw, ok, err := st.GetSetting(ctx, "themes:"+channel)
	if err != nil {
		return nil, err
	}
	themes := make(map[string]playerfsm.Theme)
	if !ok || raw == "" {
		return themes, nil
	}
	var entries []struct {
		Name          string `json:"name"`
		TrackID       string `json:"track_id"`
		OffsetSeconds int    `json:"offset_seconds"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return themes, nil
	}
	for _, e := range entries {
		themes[e.Name] = playerfsm.Theme{
			Name:    e.Name,
			TrackID: e.TrackID,
			Offset:  time.Duration(e.OffsetSeconds) * time.Second,
		}
	}
	return themes, nil
}

// onChatMessage is the chat client's Handler: it bumps the channel's idle
// counter, then dispatches to the command table.
func (a *App) onChatMessage(msg chat.Message) {
	if rt, ok := a.channels[msg.Channel]; ok {
		rt.idle.Count()
	}
	a.dispatch.Dispatch(context.Background(), msg.Channel, msg.User, msg.DisplayName, msg.Badges, msg.Text)
}

// Run starts every component and blocks until ctx is cancelled, then shuts
// down in reverse order, completing each within a bounded grace period.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, rt := range a.channels {
		go rt.reconciler.Run(runCtx)
	}
	go a.runIdlePromos(runCtx)

	songDone := make(chan struct{})
	if a.songWriter != nil {
		go a.songWriter.Run(a.bus, songDone)
	}

	httpErrCh := make(chan error, 1)
	go func() { httpErrCh <- a.http.Run(runCtx, a.cfg.WebBindAddr) }()

	chatErrCh := make(chan struct{})
	go func() {
		a.chatClient.Run(runCtx)
		close(chatErrCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-httpErrCh:
		if err != nil {
			a.log.WithError(err).Error("admin/overlay server exited")
		}
	}

	cancel()
	close(songDone)
	for _, rt := range a.channels {
		rt.fsm.Close()
	}
	<-chatErrCh
	a.cache.Close()
	return nil
}

// runIdlePromos periodically asks each channel's idle detector whether
// chat has gone quiet and, if so, posts the channel's configured promo
// line (the "promo:<channel>" setting). Channels with no promo configured
// are skipped; a busy channel's burst of messages suppresses exactly one
// promo cycle via the detector's reset-on-trip contract.
func (a *App) runIdlePromos(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for channel, rt := range a.channels {
				if !rt.idle.IsIdle() {
					continue
				}
				text, ok, err := a.store.GetSetting(ctx, "promo:"+channel)
				if err != nil || !ok || text == "" {
					continue
				}
				a.bus.Publish(eventbus.Chat, events.ChatMessage{Channel: channel, Text: text})
			}
		}
	}
}

// AcquireLock creates an exclusive single-instance lock file at path,
// failing whenever the file already exists. Whether the process that wrote
// it is still alive is not checked.
func AcquireLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cmd: another instance appears to be running (lock %s): %w", path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return f, nil
}

// ReleaseLock removes the lock file acquired by AcquireLock.
func ReleaseLock(f *os.File, path string) {
	f.Close()
	os.Remove(path)
}

// SetupLogging configures logrus, writing JSON-formatted entries to stderr
// and, when logPath is non-empty, appending them to logPath as well, so
// every component logs structured fields through one logger.
func SetupLogging(logPath string) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if logPath == "" {
		logger.SetOutput(os.Stderr)
		return logger, nil
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cmd: open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return logger, nil
}

// registerCommands installs the song/theme/volume/moderation command table.
func (a *App) registerCommands() {
	a.dispatch.Register(command.Command{
		Name: "song",
		Handler: func(ctx context.Context, inv command.Invocation) string {
			return a.handleSong(ctx, inv)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "theme",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			rt, ok := a.channels[inv.Channel]
			if !ok {
				return ""
			}
			rt.fsm.PlayTheme(strings.TrimSpace(inv.Args))
			return fmt.Sprintf("%s -> playing theme %q", inv.User, inv.Args)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "volume",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			rt, ok := a.channels[inv.Channel]
			if !ok {
				return ""
			}
			percent, err := strconv.Atoi(strings.TrimSpace(inv.Args))
			if err != nil {
				return fmt.Sprintf("%s -> usage: !volume <0-100>", inv.User)
			}
			rt.fsm.SetVolume(percent)
			return fmt.Sprintf("%s -> volume set to %d", inv.User, percent)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "ban",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			kind, value, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			if kind == "" || value == "" {
				return fmt.Sprintf("%s -> usage: !ban <track|artist> <value>", inv.User)
			}
			if err := a.store.Ban(ctx, inv.Channel, store.BanKind(kind), value, ""); err != nil {
				return fmt.Sprintf("%s -> ban failed", inv.User)
			}
			return fmt.Sprintf("%s -> banned %s %q", inv.User, kind, value)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "unban",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			kind, value, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			ok, err := a.store.Unban(ctx, inv.Channel, store.BanKind(kind), value)
			if err != nil || !ok {
				return fmt.Sprintf("%s -> nothing to unban", inv.User)
			}
			return fmt.Sprintf("%s -> unbanned %s %q", inv.User, kind, value)
		},
	})
	a.dispatch.Register(command.Command{
		Name: "afterstream",
		Handler: func(ctx context.Context, inv command.Invocation) string {
			name, rest, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			switch name {
			case "add":
				if rest == "" {
					return fmt.Sprintf("%s -> usage: !afterstream add <text>", inv.User)
				}
				for _, word := range strings.Fields(strings.ToLower(rest)) {
					if bad, err := a.store.IsBadWord(ctx, word); err == nil && bad {
						return fmt.Sprintf("%s -> that note can't be saved", inv.User)
					}
				}
				if _, err := a.store.AddAfterStream(ctx, inv.Channel, inv.User, rest); err != nil {
					return fmt.Sprintf("%s -> could not save that note", inv.User)
				}
				return fmt.Sprintf("%s -> saved for after the stream", inv.User)
			case "list":
				notes, err := a.store.ListAfterStreams(ctx, inv.Channel)
				if err != nil || len(notes) == 0 {
					return fmt.Sprintf("%s -> no after-stream notes yet", inv.User)
				}
				return fmt.Sprintf("%s -> %d after-stream note(s) pending", inv.User, len(notes))
			default:
				return fmt.Sprintf("%s -> usage: !afterstream <add|list> ...", inv.User)
			}
		},
	})
	a.dispatch.Register(command.Command{
		Name: "count",
		Handler: func(ctx context.Context, inv command.Invocation) string {
			name := strings.TrimSpace(inv.Args)
			if name == "" {
				return fmt.Sprintf("%s -> usage: !count <name>", inv.User)
			}
			value, err := a.store.IncrementCounter(ctx, inv.Channel, name, 1)
			if err != nil {
				return ""
			}
			return fmt.Sprintf("%s -> %s: %d", inv.User, name, value)
		},
	})
	a.dispatch.Register(command.Command{
		Name: "points",
		Handler: func(ctx context.Context, inv command.Invocation) string {
			sub, rest, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			if sub == "give" {
				if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
					return scope.DeniedTemplate
				}
				target, amountStr, _ := strings.Cut(strings.TrimSpace(rest), " ")
				amount, err := strconv.ParseInt(strings.TrimSpace(amountStr), 10, 64)
				if target == "" || err != nil {
					return fmt.Sprintf("%s -> usage: !points give <user> <amount>", inv.User)
				}
				total, err := a.store.AddBalance(ctx, inv.Channel, target, amount)
				if err != nil {
					return fmt.Sprintf("%s -> could not update that balance", inv.User)
				}
				return fmt.Sprintf("%s -> %s now has %d points", inv.User, target, total)
			}
			amount, err := a.store.Balance(ctx, inv.Channel, inv.User)
			if err != nil {
				return ""
			}
			return fmt.Sprintf("%s -> you have %d points", inv.User, amount)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "alias",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			name, target, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			target = strings.TrimSpace(target)
			if name == "" || target == "" {
				return fmt.Sprintf("%s -> usage: !alias <name> <target>", inv.User)
			}
			if err := a.store.SetAlias(ctx, inv.Channel, strings.ToLower(name), strings.ToLower(target)); err != nil {
				return fmt.Sprintf("%s -> could not save that alias", inv.User)
			}
			return fmt.Sprintf("%s -> !%s now runs !%s", inv.User, name, target)
		},
	})
	a.dispatch.Register(command.Command{
		Name:     "badword",
		Required: scope.Required{scope.Moderator},
		Handler: func(ctx context.Context, inv command.Invocation) string {
			sub, rest, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
			word, why, _ := strings.Cut(strings.TrimSpace(rest), " ")
			word = strings.ToLower(word)
			switch sub {
			case "add":
				if word == "" {
					return fmt.Sprintf("%s -> usage: !badword add <word> [reason]", inv.User)
				}
				if err := a.store.AddBadWord(ctx, word, why); err != nil {
					return fmt.Sprintf("%s -> could not add that word", inv.User)
				}
				return fmt.Sprintf("%s -> added", inv.User)
			case "remove":
				if word == "" {
					return fmt.Sprintf("%s -> usage: !badword remove <word>", inv.User)
				}
				if err := a.store.RemoveBadWord(ctx, word); err != nil {
					return fmt.Sprintf("%s -> could not remove that word", inv.User)
				}
				return fmt.Sprintf("%s -> removed", inv.User)
			default:
				return fmt.Sprintf("%s -> usage: !badword <add|remove> <word>", inv.User)
			}
		},
	})
}

// handleSong dispatches !song's sub-commands: request, play, pause, skip,
// promote, delete, queue, purge.
func (a *App) handleSong(ctx context.Context, inv command.Invocation) string {
	sub, rest, _ := strings.Cut(strings.TrimSpace(inv.Args), " ")
	rt, ok := a.channels[inv.Channel]
	if !ok {
		return ""
	}

	switch sub {
	case "request":
		result, err := a.intake.Submit(ctx, inv.Channel, inv.User, inv.Badges, rest)
		if err != nil {
			if rej, ok := err.(*intake.Rejection); ok {
				return rej.Message
			}
			return fmt.Sprintf("%s -> something went wrong with that request", inv.User)
		}
		rt.fsm.Wake()
		return result.Message

	case "skip":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		rt.fsm.RequestSkip()
		return fmt.Sprintf("%s -> skipped", inv.User)

	case "play":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		rt.fsm.RequestPlay()
		return fmt.Sprintf("%s -> playing", inv.User)

	case "pause":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		rt.fsm.RequestPause()
		return fmt.Sprintf("%s -> paused", inv.User)

	case "promote":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return fmt.Sprintf("%s -> usage: !song promote <id>", inv.User)
		}
		ok, err := a.store.Promote(ctx, id, inv.User)
		if err != nil || !ok {
			return fmt.Sprintf("%s -> nothing to promote", inv.User)
		}
		return fmt.Sprintf("%s -> promoted #%d", inv.User, id)

	case "delete":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return fmt.Sprintf("%s -> usage: !song delete <id>", inv.User)
		}
		ok, err := a.store.Delete(ctx, id)
		if err != nil || !ok {
			return fmt.Sprintf("%s -> nothing to delete", inv.User)
		}
		return fmt.Sprintf("%s -> deleted #%d", inv.User, id)

	case "queue":
		list, err := a.store.List(ctx, inv.Channel)
		if err != nil || len(list) == 0 {
			return fmt.Sprintf("%s -> the queue is empty", inv.User)
		}
		return fmt.Sprintf("%s -> %d song(s) queued", inv.User, len(list))

	case "purge":
		if !moderatorOnly.Satisfy(a.grants.Effective(inv.Channel, inv.User, inv.Badges)) {
			return scope.DeniedTemplate
		}
		if err := a.store.Purge(ctx, inv.Channel); err != nil {
			return fmt.Sprintf("%s -> purge failed", inv.User)
		}
		rt.fsm.RequestSkip()
		return fmt.Sprintf("%s -> queue purged", inv.User)

	default:
		return fmt.Sprintf("%s -> usage: !song <request|play|pause|skip|promote|delete|queue|purge>", inv.User)
	}
}

