package track

import "testing"

func TestParseNativeURI(t *testing.T) {
	id, err := Parse("streaming_audio:track:abc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.Provider != StreamingAudio || id.Opaque != "abc" {
		t.Fatalf("got %+v", id)
	}
}

func TestParseCanonicalURLs(t *testing.T) {
	cases := []struct {
		in       string
		provider Provider
		opaque   string
	}{
		{"https://open.spotify.com/track/XYZ", StreamingAudio, "XYZ"},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", VideoHost, "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", VideoHost, "dQw4w9WgXcQ"},
	}
	for _, c := range cases {
		id, err := Parse(c.in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c.in, err)
		}
		if id.Provider != c.provider || id.Opaque != c.opaque {
			t.Fatalf("Parse(%q) = %+v, want {%s %s}", c.in, id, c.provider, c.opaque)
		}
	}
}

func TestParseRejectsUnknownHost(t *testing.T) {
	if _, err := Parse("https://example.com/track/abc"); err == nil {
		t.Fatal("expected error for unrecognised host")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{"", "streaming_audio:track:", "video_host:notrack:1", "not a url at all ::: "}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) expected error", c)
		}
	}
}

// parse(format(parse(s))) == parse(s), the round-trip invariant.
func TestParseFormatRoundTrip(t *testing.T) {
	inputs := []string{
		"https://open.spotify.com/track/XYZ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"video_host:track:abc123",
	}
	for _, in := range inputs {
		first, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		again, err := Parse(Format(first))
		if err != nil {
			t.Fatalf("Parse(Format(%+v)): %v", first, err)
		}
		if again != first {
			t.Fatalf("round trip mismatch: %+v != %+v", again, first)
		}
	}
}

func TestFormatStringMatchesPersistenceForm(t *testing.T) {
	id := ID{Provider: StreamingAudio, Opaque: "XYZ"}
	if Format(id) != "spotify:XYZ" {
		t.Fatalf("got %q", Format(id))
	}
}

func TestParseAcceptsConcreteProviderToken(t *testing.T) {
	id, err := Parse("spotify:track:abc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if id.Provider != StreamingAudio || id.Opaque != "abc" {
		t.Fatalf("got %+v", id)
	}
	if Format(id) != "spotify:abc" {
		t.Fatalf("Format = %q, want spotify:abc", Format(id))
	}
}
