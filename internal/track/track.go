// Package track canonicalises song identities across the two providers the
// bot understands. Providers are table-driven, so adding a third one is a
// data change, not a code change.
package track

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider identifies which backend a track belongs to.
type Provider string

const (
	// StreamingAudio is the Local backend's provider: tracks decoded and
	// streamed directly by the bot's own audio pipeline.
	StreamingAudio Provider = "streaming_audio"
	// VideoHost is the Remote backend's provider: tracks played by a
	// browser overlay the bot does not own, polled and reconciled.
	VideoHost Provider = "video_host"
)

// ID is a tagged value identifying one track within one provider's space.
type ID struct {
	Provider Provider
	Opaque   string
}

// wireTokens maps the concrete provider tokens chat and persistence use
// ("spotify" in "spotify:track:<id>", "youtube") to the internal Provider
// enum. The enum's own string value is kept recognised too, so persisted
// rows written before a provider gained a dedicated token still parse.
// Tokens MUST be prefix-disambiguated against each other and against the
// enum values so reverse lookup is total.
var wireTokens = map[string]Provider{
	"spotify": StreamingAudio,
	"youtube": VideoHost,
}

// canonicalToken is the token String/Format emit for a provider.
var canonicalToken = map[Provider]string{
	StreamingAudio: "spotify",
	VideoHost:      "youtube",
}

// String renders the persistence form "<token>:<id>", using the provider's
// concrete wire token rather than the internal enum value.
func (t ID) String() string {
	token, ok := canonicalToken[t.Provider]
	if !ok {
		token = string(t.Provider)
	}
	return fmt.Sprintf("%s:%s", token, t.Opaque)
}

// ParseError reports why a candidate string could not be parsed as an ID.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("track: cannot parse %q: %s", e.Input, e.Reason)
}

// hostSpec describes one recognised canonical URL shape for a provider.
type hostSpec struct {
	provider Provider
	host     string
	// pathPrefix, when non-empty, must prefix the URL path; the id is
	// whatever remains after the prefix.
	pathPrefix string
	// queryParam, when non-empty, is read as the id instead of the path.
	queryParam string
}

// registry is the open/closed table of recognised hosts. Adding a provider
// means adding a row here; every provider resolves to the same shape,
// host + path/query -> opaque id, so rows are data rather than an
// interface slice.
var registry = []hostSpec{
	{provider: StreamingAudio, host: "open.spotify.com", pathPrefix: "/track/"},
	{provider: VideoHost, host: "www.youtube.com", queryParam: "v"},
	{provider: VideoHost, host: "youtube.com", queryParam: "v"},
	{provider: VideoHost, host: "youtu.be", pathPrefix: "/"},
}

// Parse accepts either the native URI form "<provider>:track:<id>" or a
// canonical URL on a recognised host. It rejects unknown hosts and
// malformed paths.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, &ParseError{Input: s, Reason: "empty input"}
	}

	if id, ok := parseNativeURI(s); ok {
		return id, nil
	}

	if id, err := parseCanonicalURL(s); err == nil {
		return id, nil
	} else if _, isURL := err.(*url.Error); !isURL {
		return ID{}, err
	}

	return ID{}, &ParseError{Input: s, Reason: "not a recognised provider URI or host"}
}

// parseNativeURI accepts the chat-facing native form "<token>:track:<id>"
// and the persistence form "<token>:<id>" it round-trips through, both
// keyed on the same token table.
func parseNativeURI(s string) (ID, bool) {
	parts := strings.SplitN(s, ":", 3)
	switch len(parts) {
	case 3:
		if parts[1] != "track" {
			return ID{}, false
		}
		return tokenToID(parts[0], parts[2])
	case 2:
		return tokenToID(parts[0], parts[1])
	default:
		return ID{}, false
	}
}

// tokenToID resolves a provider token (either a concrete wire token like
// "spotify" or the internal enum's own string value) plus an opaque id
// into an ID.
func tokenToID(token, opaque string) (ID, bool) {
	if opaque == "" {
		return ID{}, false
	}
	if provider, ok := wireTokens[token]; ok {
		return ID{Provider: provider, Opaque: opaque}, true
	}
	provider := Provider(token)
	if provider == StreamingAudio || provider == VideoHost {
		return ID{Provider: provider, Opaque: opaque}, true
	}
	return ID{}, false
}

func parseCanonicalURL(s string) (ID, error) {
	u, err := url.Parse(s)
	if err != nil {
		return ID{}, err
	}
	if u.Scheme == "" || u.Host == "" {
		return ID{}, &ParseError{Input: s, Reason: "not an absolute URL"}
	}

	for _, spec := range registry {
		if !strings.EqualFold(spec.host, u.Host) {
			continue
		}
		if spec.queryParam != "" {
			id := u.Query().Get(spec.queryParam)
			if id == "" {
				return ID{}, &ParseError{Input: s, Reason: "missing query id"}
			}
			return ID{Provider: spec.provider, Opaque: id}, nil
		}
		if strings.HasPrefix(u.Path, spec.pathPrefix) {
			id := strings.TrimPrefix(u.Path, spec.pathPrefix)
			id = strings.Trim(id, "/")
			if id == "" {
				return ID{}, &ParseError{Input: s, Reason: "missing path id"}
			}
			return ID{Provider: spec.provider, Opaque: id}, nil
		}
	}
	return ID{}, &ParseError{Input: s, Reason: "unrecognised host"}
}

// Format is the inverse of Parse's native form: the persistence string
// "<token>:<id>" (not "<token>:track:<id>").
func Format(id ID) string {
	return id.String()
}
