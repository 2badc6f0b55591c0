package didl

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCapabilitiesFiltersAudioAndStripsStar(t *testing.T) {
	raw := "http-get:*:audio/mpeg:*,http-get:*:video/mp4:*,http-get:*:audio/x-flac:DLNA.ORG_PN=FLAC"
	got := ParseCapabilities(raw)
	want := []string{
		"http-get:*:audio/mpeg:",
		"http-get:*:audio/x-flac:DLNA.ORG_PN=FLAC",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("ParseCapabilities mismatch (-want +got):\n%s", diff)
	}
}

func TestMatchFormatMP3Exact(t *testing.T) {
	caps := ParseCapabilities("http-get:*:audio/mp3:*")
	src := SourceFormat{Codec: 'm', Channels: 2, SampleRate: 44100, SampleSize: 16}
	m := matchFormat(caps, src, nil, false, false)
	if !m.Matched || m.ContentType != "audio/mp3" {
		t.Fatalf("expected audio/mp3 match, got %+v", m)
	}
}

func TestMatchFormatNoMatchYieldsUnknown(t *testing.T) {
	caps := ParseCapabilities("http-get:*:video/mp4:*")
	src := SourceFormat{Codec: 'm', Channels: 2, SampleRate: 44100, SampleSize: 16}
	m := matchFormat(caps, src, nil, false, false)
	if m.Matched || m.ContentType != "audio/unknown" {
		t.Fatalf("expected no match, got %+v", m)
	}
}

func TestMatchFormatPCMExactRateChannels(t *testing.T) {
	caps := ParseCapabilities("http-get:*:audio/L16;rate=44100;channels=2:*")
	src := SourceFormat{Codec: 'p', Channels: 2, SampleRate: 44100, SampleSize: 16}
	m := matchFormat(caps, src, []string{"pcm"}, true, false)
	if !m.Matched {
		t.Fatalf("expected pcm exact match, got %+v", m)
	}
}

func TestBuildProtocolInfoByteSeekOption(t *testing.T) {
	pi := BuildProtocolInfo("audio/mp3", 1000, true)
	if !containsAll(pi, "DLNA.ORG_OP=01") {
		t.Fatalf("expected byte-seek op flag, got %s", pi)
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		found := false
		for i := 0; i+len(sub) <= len(s); i++ {
			if s[i:i+len(sub)] == sub {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
