// Package config loads the bot's configuration by layering, in
// increasing priority, a .env file, process environment, and explicit CLI
// flags into one typed Config.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully-resolved, typed configuration for one bot process.
type Config struct {
	ConfigPath          string
	LogPath             string
	LockPath            string
	WebBindAddr         string
	DBPath              string
	CachePath           string
	CurrentSongPath     string
	CurrentSongTemplate string

	ChatAddr     string
	ChatNick     string
	ChatToken    string
	ChatChannels []string

	RemoteBaseURL string
	RemoteToken   string

	UserAgent string

	UserCooldownSeconds   int
	GlobalCooldownSeconds int
	MaxInFlightPerUser    int
	MaxQueueLength        int
	MaxDurationSeconds    int
	IdleThreshold         int
}

// UserCooldown returns UserCooldownSeconds as a Duration.
func (c Config) UserCooldown() time.Duration {
	return time.Duration(c.UserCooldownSeconds) * time.Second
}

// GlobalCooldown returns GlobalCooldownSeconds as a Duration.
func (c Config) GlobalCooldown() time.Duration {
	return time.Duration(c.GlobalCooldownSeconds) * time.Second
}

// Load layers a .env file (if present), the process environment, and CLI
// flags (highest priority) into a Config.
func Load(args []string) (Config, error) {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("songbot", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.ConfigPath, "config", envOr("SONGBOT_CONFIG", ""), "path to a config file")
	fs.StringVar(&cfg.LogPath, "log", envOr("SONGBOT_LOG_PATH", ""), "path to write logs (stderr if empty)")
	fs.StringVar(&cfg.LockPath, "lock", envOr("SONGBOT_LOCK_PATH", "songbot.lock"), "single-instance lock file path")
	fs.StringVar(&cfg.WebBindAddr, "web-bind", envOr("SONGBOT_WEB_BIND", ":8080"), "admin/overlay HTTP bind address")
	fs.StringVar(&cfg.DBPath, "db", envOr("SONGBOT_DB_PATH", "songbot.db"), "path to the SQLite request store")
	fs.StringVar(&cfg.CachePath, "cache", envOr("SONGBOT_CACHE_PATH", "songbot_cache.db"), "path to the bbolt response cache")
	fs.StringVar(&cfg.CurrentSongPath, "current-song", envOr("SONGBOT_CURRENT_SONG_PATH", ""), "path to the current-song file")
	fs.StringVar(&cfg.CurrentSongTemplate, "current-song-template", envOr("SONGBOT_CURRENT_SONG_TEMPLATE", ""), "mustache-style template for the current-song file")

	fs.StringVar(&cfg.ChatAddr, "chat-addr", envOr("SONGBOT_CHAT_ADDR", "irc.chat.twitch.tv:6667"), "chat server host:port")
	fs.StringVar(&cfg.ChatNick, "chat-nick", envOr("SONGBOT_CHAT_NICK", ""), "chat login nick")
	fs.StringVar(&cfg.ChatToken, "chat-token", envOr("SONGBOT_CHAT_TOKEN", ""), "chat OAuth token")

	fs.StringVar(&cfg.RemoteBaseURL, "remote-base-url", envOr("SONGBOT_REMOTE_BASE_URL", ""), "base URL of the hosted device API")
	fs.StringVar(&cfg.RemoteToken, "remote-token", envOr("SONGBOT_REMOTE_TOKEN", ""), "bearer token for the hosted device API")
	fs.StringVar(&cfg.UserAgent, "user-agent", envOr("SONGBOT_USER_AGENT", "songbot/1.0"), "User-Agent sent on provider requests")

	fs.IntVar(&cfg.UserCooldownSeconds, "user-cooldown", envIntOr("SONGBOT_USER_COOLDOWN_S", 10), "per-user request cooldown, seconds")
	fs.IntVar(&cfg.GlobalCooldownSeconds, "global-cooldown", envIntOr("SONGBOT_GLOBAL_COOLDOWN_S", 0), "global request cooldown, seconds")
	fs.IntVar(&cfg.MaxInFlightPerUser, "max-in-flight", envIntOr("SONGBOT_MAX_IN_FLIGHT", 2), "max queued requests per user")
	fs.IntVar(&cfg.MaxQueueLength, "max-queue", envIntOr("SONGBOT_MAX_QUEUE", 100), "max total queued requests")
	fs.IntVar(&cfg.MaxDurationSeconds, "max-duration", envIntOr("SONGBOT_MAX_DURATION_S", 600), "max requestable track duration, seconds")
	fs.IntVar(&cfg.IdleThreshold, "idle-threshold", envIntOr("SONGBOT_IDLE_THRESHOLD", 20), "chat messages before the channel is no longer idle")

	var channelsCSV string
	fs.StringVar(&channelsCSV, "chat-channels", envOr("SONGBOT_CHAT_CHANNELS", ""), "comma-separated chat channels to join")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.ChatChannels = splitCSV(channelsCSV)

	if cfg.ChatNick == "" || cfg.ChatToken == "" {
		return Config{}, fmt.Errorf("config: chat-nick and chat-token are required")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
