// Package chat is the chat transport: an IRC-style line protocol client
// over a plain TCP connection, reconnecting with backoff, parsing the
// IRCv3 tag map and badge list, and exposing incoming PRIVMSGs as typed
// Messages. The Event Bus Chat topic is the sole producer of outgoing
// lines; Client.Run drains it.
package chat

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"songbot/internal/events"
	"songbot/internal/eventbus"
)

// Config configures the chat client's connection and identity.
type Config struct {
	Addr     string // host:port of the chat server
	Nick     string
	Token    string // OAuth token; refreshed externally, read fresh each Dial
	Channels []string
	Timeout  time.Duration
}

// Message is one parsed incoming chat line.
type Message struct {
	Channel     string
	User        string // login name, from the prefix
	DisplayName string
	UserID      string
	Color       string
	Badges      []string
	Emotes      string
	MsgID       string
	ID          string
	Text        string
}

// Handler is invoked once per parsed incoming Message.
type Handler func(Message)

// Client owns one reconnecting IRC-style connection.
type Client struct {
	cfg     Config
	bus     *eventbus.Bus
	handler Handler
	log     *logrus.Entry

	tokenFn func() string
}

// New builds a Client. tokenFn is called fresh on every (re)connect so a
// rotated OAuth token (refreshed by an external task) takes effect
// without restarting the process; if nil, cfg.Token is used as-is.
func New(cfg Config, bus *eventbus.Bus, handler Handler, tokenFn func() string, log *logrus.Entry) *Client {
	if tokenFn == nil {
		tokenFn = func() string { return cfg.Token }
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{cfg: cfg, bus: bus, handler: handler, tokenFn: tokenFn, log: log.WithField("component", "chat")}
}

// Run connects and processes lines until ctx is cancelled, reconnecting
// with exponential backoff on any connection error.
func (c *Client) Run(ctx context.Context) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.log.WithError(err).Warn("chat connection lost")
			wait := b.NextBackOff()
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		b.Reset()
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialer := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return fmt.Errorf("chat: dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := c.handshake(conn); err != nil {
		return err
	}

	egress := c.bus.Subscribe(eventbus.Chat)
	defer egress.Unsubscribe()
	go c.drainEgress(conn, egress)

	return c.readLoop(conn)
}

func (c *Client) handshake(conn net.Conn) error {
	lines := []string{
		fmt.Sprintf("PASS oauth:%s", c.tokenFn()),
		fmt.Sprintf("NICK %s", c.cfg.Nick),
		"CAP REQ :twitch.tv/tags twitch.tv/commands",
	}
	for _, ch := range c.cfg.Channels {
		lines = append(lines, "JOIN #"+strings.TrimPrefix(ch, "#"))
	}
	for _, line := range lines {
		if _, err := fmt.Fprintf(conn, "%s\r\n", line); err != nil {
			return fmt.Errorf("chat: handshake: %w", err)
		}
	}
	return nil
}

func (c *Client) drainEgress(conn net.Conn, sub *eventbus.Subscription) {
	for payload := range sub.Events() {
		msg, ok := payload.(events.ChatMessage)
		if !ok {
			continue
		}
		text := msg.Text
		if len(text) > 500 {
			text = text[:500]
		}
		line := fmt.Sprintf("PRIVMSG #%s :%s\r\n", strings.TrimPrefix(msg.Channel, "#"), text)
		if _, err := conn.Write([]byte(line)); err != nil {
			c.log.WithError(err).Warn("failed to write chat egress line")
			return
		}
	}
}

func (c *Client) readLoop(conn net.Conn) error {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "PING") {
			fmt.Fprintf(conn, "PONG%s\r\n", strings.TrimPrefix(line, "PING"))
			continue
		}
		if msg, ok := parseLine(line); ok && c.handler != nil {
			c.handler(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("chat: read: %w", err)
	}
	return fmt.Errorf("chat: connection closed")
}

// parseLine parses one IRC-style line into a Message, or returns ok=false
// for anything that is not a PRIVMSG (joins, pings, capability acks, etc).
func parseLine(line string) (Message, bool) {
	tags := map[string]string{}
	rest := line
	if strings.HasPrefix(rest, "@") {
		sp := strings.SplitN(rest, " ", 2)
		if len(sp) != 2 {
			return Message{}, false
		}
		tags = parseTags(sp[0][1:])
		rest = sp[1]
	}

	if !strings.HasPrefix(rest, ":") {
		return Message{}, false
	}
	rest = rest[1:]
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		return Message{}, false
	}
	prefix, tail := parts[0], parts[1]

	if !strings.HasPrefix(tail, "PRIVMSG ") {
		return Message{}, false
	}
	tail = strings.TrimPrefix(tail, "PRIVMSG ")
	chanAndText := strings.SplitN(tail, " :", 2)
	if len(chanAndText) != 2 {
		return Message{}, false
	}
	channel := strings.TrimPrefix(strings.TrimSpace(chanAndText[0]), "#")
	text := chanAndText[1]

	user := prefix
	if i := strings.Index(prefix, "!"); i >= 0 {
		user = prefix[:i]
	}

	return Message{
		Channel:     channel,
		User:        user,
		DisplayName: tags["display-name"],
		UserID:      tags["user-id"],
		Color:       tags["color"],
		Badges:      parseBadges(tags["badges"]),
		Emotes:      tags["emotes"],
		MsgID:       tags["msg-id"],
		ID:          tags["id"],
		Text:        text,
	}, true
}

// parseTags parses the IRCv3 tag blob "a=1;b=2;c" into a map, unescaping
// the handful of characters the tag grammar escapes.
func parseTags(blob string) map[string]string {
	out := make(map[string]string)
	for _, kv := range strings.Split(blob, ";") {
		if kv == "" {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			out[kv] = ""
			continue
		}
		out[kv[:eq]] = unescapeTagValue(kv[eq+1:])
	}
	return out
}

func unescapeTagValue(v string) string {
	replacer := strings.NewReplacer(`\s`, " ", `\:`, ";", `\\`, `\`, `\r`, "\r", `\n`, "\n")
	return replacer.Replace(v)
}

// parseBadges parses the comma-separated badge tag "moderator/1,vip/0"
// into bare badge names. Unknown badges are kept; scope.FromBadges ignores
// whatever it does not recognise, so unknown badges drop out at the point
// of interpretation rather than parsing.
func parseBadges(blob string) []string {
	if blob == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(blob, ",") {
		name := b
		if slash := strings.IndexByte(b, '/'); slash >= 0 {
			name = b[:slash]
		}
		out = append(out, name)
	}
	return out
}
