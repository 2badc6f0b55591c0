// Package didl implements the protocol-info matching engine and the
// DIDL-Lite metadata synthesis the bridge needs to describe a track to a
// renderer.
package didl

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// SourceFormat describes the codec/rate/channel/sample-size shape of the
// audio LMS is about to stream, as reported by SETFORMAT.
type SourceFormat struct {
	Codec      byte // 'm' mp3, 'f' flac, 'p' raw pcm, ...
	Channels   int
	SampleRate int
	SampleSize int // bits: 16 or 24
	BigEndian  bool
	DurationMS int64 // 0 == live/unknown
}

// Match is the result of matching a SourceFormat against a renderer's
// advertised capability set.
type Match struct {
	ContentType    string
	ProtocolInfo   string
	SwapEndian     bool // source/renderer endianness mismatch, caller must byte-swap
	Truncate24To16 bool
	Matched        bool
}

var codecCandidates = map[byte][]string{
	'm': {"audio/mp3", "audio/mpeg", "audio/mpeg3"},
	'f': {"audio/x-flac", "audio/flac"},
}

// pcmCandidates builds the raw-PCM candidate MIME list honoring the
// caller's RawAudioFormat ordering preference (pcm/wav/aif) and sample
// size.
func pcmCandidates(rawAudioFormat []string, sampleSize int) []string {
	var out []string
	for _, kind := range rawAudioFormat {
		switch strings.ToLower(kind) {
		case "pcm":
			out = append(out, fmt.Sprintf("audio/L%d", sampleSize))
		case "wav":
			out = append(out, "audio/wav", "audio/x-wav", "audio/wave")
		case "aif":
			out = append(out, "audio/aiff", "audio/x-aiff")
		}
	}
	if len(out) == 0 {
		out = append(out, fmt.Sprintf("audio/L%d", sampleSize), "audio/wav")
	}
	return out
}

// ParseCapabilities splits a renderer's advertised http-get:*:... sink
// list on commas, keeps only audio entries, and strips the trailing '*'
// option marker (DLNA options get re-appended per-call).
func ParseCapabilities(raw string) []string {
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" || !strings.HasPrefix(entry, "http-get:") {
			continue
		}
		fields := strings.SplitN(entry, ":", 4)
		if len(fields) != 4 || !strings.HasPrefix(fields[2], "audio/") {
			continue
		}
		fields[3] = strings.TrimSuffix(fields[3], "*")
		out = append(out, strings.Join(fields, ":"))
	}
	return out
}

// MatchCache memoizes Match results keyed on renderer UDN + source shape,
// since a renderer's capability set is stable between discovery cycles
// and re-deriving a match on every SETFORMAT would repeat identical work.
type MatchCache struct {
	c *ttlcache.Cache[string, Match]
}

// NewMatchCache returns a cache with a 10-minute entry TTL, much longer
// than one discovery cycle. A changed capability list is not part of the
// key, so a renderer that advertises new capabilities keeps getting its
// cached match until the entry expires.
func NewMatchCache() *MatchCache {
	c := ttlcache.New[string, Match](
		ttlcache.WithTTL[string, Match](10 * time.Minute),
	)
	go c.Start()
	return &MatchCache{c: c}
}

func (m *MatchCache) Stop() { m.c.Stop() }

func cacheKey(udn string, src SourceFormat, rawAudioFormat []string, matchEndianness bool) string {
	return fmt.Sprintf("%s|%c|%d|%d|%d|%t|%t|%s",
		udn, src.Codec, src.Channels, src.SampleRate, src.SampleSize, src.BigEndian, matchEndianness, strings.Join(rawAudioFormat, ","))
}

// MatchFormat chooses a content-type and protocolInfo for src against a
// renderer's capability list, consulting the cache first.
func (m *MatchCache) MatchFormat(udn string, capabilities []string, src SourceFormat, rawAudioFormat []string, matchEndianness, byteSeek bool) Match {
	key := cacheKey(udn, src, rawAudioFormat, matchEndianness) + fmt.Sprintf("|%t|%t", src.DurationMS == 0, byteSeek)
	if item := m.c.Get(key); item != nil {
		return item.Value()
	}
	match := matchFormat(capabilities, src, rawAudioFormat, matchEndianness, byteSeek)
	m.c.Set(key, match, ttlcache.DefaultTTL)
	return match
}

func matchFormat(capabilities []string, src SourceFormat, rawAudioFormat []string, matchEndianness, byteSeek bool) Match {
	candidates := codecCandidates[src.Codec]
	if src.Codec == 'p' {
		candidates = pcmCandidates(rawAudioFormat, src.SampleSize)
	}
	if len(candidates) == 0 {
		return noMatch()
	}

	if src.Codec != 'p' {
		for _, cap := range capabilities {
			mime := mimeOf(cap)
			for _, want := range candidates {
				if mime == want {
					return buildMatch(mime, src, false, false, byteSeek)
				}
			}
		}
		return noMatch()
	}

	// PCM priority: exact rate+channels, then templated "any", then
	// 24->16 truncation. matchPCM does not compare byte order, so the
	// second pass below (matchEndianness off) never matches where the
	// first did not, and SwapEndian is never set.
	if match, ok := matchPCM(capabilities, candidates, src, matchEndianness, byteSeek); ok {
		return match
	}
	if matchEndianness {
		if match, ok := matchPCM(capabilities, candidates, src, false, byteSeek); ok {
			match.SwapEndian = true
			return match
		}
	}
	return noMatch()
}

func matchPCM(capabilities, candidates []string, src SourceFormat, matchEndianness, byteSeek bool) (Match, bool) {
	for _, want := range candidates {
		for _, cap := range capabilities {
			if mimeOf(cap) != want {
				continue
			}
			opts := optionsOf(cap)
			if exactPCMMatch(opts, src) {
				return buildMatch(want, src, false, false, byteSeek), true
			}
		}
	}
	// Template "any rate/channels" match: inject channels/rate params.
	for _, want := range candidates {
		for _, cap := range capabilities {
			if mimeOf(cap) != want {
				continue
			}
			if !strings.Contains(cap, "rate=") && !strings.Contains(cap, "channels=") {
				return buildMatch(fmt.Sprintf("%s;channels=%d;rate=%d", want, src.Channels, src.SampleRate), src, false, false, byteSeek), true
			}
		}
	}
	// 24 -> 16 truncation fallback.
	if src.SampleSize == 24 {
		truncSrc := src
		truncSrc.SampleSize = 16
		truncCandidates := pcmCandidates([]string{"pcm"}, 16)
		for _, want := range truncCandidates {
			for _, cap := range capabilities {
				if mimeOf(cap) == want {
					return buildMatch(want, truncSrc, false, true, byteSeek), true
				}
			}
		}
	}
	return Match{}, false
}

func exactPCMMatch(opts string, src SourceFormat) bool {
	rate := fmt.Sprintf("rate=%d", src.SampleRate)
	ch := fmt.Sprintf("channels=%d", src.Channels)
	return strings.Contains(opts, rate) && strings.Contains(opts, ch)
}

func mimeOf(capability string) string {
	fields := strings.SplitN(capability, ":", 4)
	if len(fields) < 3 {
		return ""
	}
	return strings.SplitN(fields[2], ";", 2)[0]
}

func optionsOf(capability string) string {
	fields := strings.SplitN(capability, ":", 4)
	if len(fields) < 3 {
		return ""
	}
	return fields[2]
}

func buildMatch(mime string, src SourceFormat, swap, trunc, byteSeek bool) Match {
	return Match{
		ContentType:    strings.SplitN(mime, ";", 2)[0],
		ProtocolInfo:   BuildProtocolInfo(mime, src.DurationMS, byteSeek),
		SwapEndian:     swap,
		Truncate24To16: trunc,
		Matched:        true,
	}
}

func noMatch() Match {
	return Match{ContentType: "audio/unknown", ProtocolInfo: "", Matched: false}
}

// BuildProtocolInfo appends the fixed and conditional DLNA options to a
// base "http-get:*:<mime>" descriptor.
func BuildProtocolInfo(mime string, durationMS int64, byteSeek bool) string {
	flags := dlnaFlags(durationMS)
	op := "00"
	if byteSeek {
		op = "01"
	}
	return fmt.Sprintf("http-get:*:%s:DLNA.ORG_PN=;DLNA.ORG_CI=0;DLNA.ORG_OP=%s;DLNA.ORG_FLAGS=%s",
		mime, op, flags)
}

func dlnaFlags(durationMS int64) string {
	const baseFlags = "01700000000000000000000000000000"
	if durationMS == 0 {
		// "sN increasing" style flag for infinite/live streams.
		return "21700000000000000000000000000000"
	}
	return baseFlags
}

// MillisToDuration formats milliseconds as the "H:MM:SS.mmm" duration
// attribute the <res> element carries.
func MillisToDuration(ms int64) string {
	h := ms / 3600000
	rem := ms % 3600000
	m := rem / 60000
	rem %= 60000
	s := rem / 1000
	millis := rem % 1000
	return strconv.FormatInt(h, 10) + ":" + pad2(int(m)) + ":" + pad2(int(s)) + "." + pad3(int(millis))
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

func pad3(v int) string {
	s := strconv.Itoa(v)
	for len(s) < 3 {
		s = "0" + s
	}
	return s
}
