package chat

import "testing"

func TestParseLinePrivmsgWithTags(t *testing.T) {
	line := `@badges=moderator/1,subscriber/12;color=#FF0000;display-name=Alice;user-id=123;id=abc :alice!alice@alice.tmi.twitch.tv PRIVMSG #bobross :!song request spotify:track:xyz`
	msg, ok := parseLine(line)
	if !ok {
		t.Fatal("expected PRIVMSG to parse")
	}
	if msg.Channel != "bobross" {
		t.Fatalf("Channel = %q", msg.Channel)
	}
	if msg.User != "alice" {
		t.Fatalf("User = %q", msg.User)
	}
	if msg.DisplayName != "Alice" {
		t.Fatalf("DisplayName = %q", msg.DisplayName)
	}
	if msg.Text != "!song request spotify:track:xyz" {
		t.Fatalf("Text = %q", msg.Text)
	}
	if len(msg.Badges) != 2 || msg.Badges[0] != "moderator" || msg.Badges[1] != "subscriber" {
		t.Fatalf("Badges = %v", msg.Badges)
	}
}

func TestParseLineIgnoresNonPrivmsg(t *testing.T) {
	if _, ok := parseLine(":tmi.twitch.tv 001 bot :Welcome"); ok {
		t.Fatal("expected non-PRIVMSG line to be ignored")
	}
}

func TestParseBadgesHandlesUnknown(t *testing.T) {
	badges := parseBadges("broadcaster/1,some-unknown-badge/3")
	if len(badges) != 2 || badges[1] != "some-unknown-badge" {
		t.Fatalf("Badges = %v", badges)
	}
}
