// Package config implements the persistent XML configuration store: a
// root document with global defaults and per-device overrides,
// idempotent save that preserves unknown fields and offline devices,
// and legacy field migration.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/lms2upnp/bridge/internal/model"
)

// Document is the root squeeze2upnp element.
type Document struct {
	XMLName         xml.Name `xml:"squeeze2upnp"`
	Binding         string   `xml:"binding,omitempty"`
	CustomDiscovery string   `xml:"custom_discovery,omitempty"`
	SlimprotoLog    string   `xml:"slimproto_log,omitempty"`
	StreamLog       string   `xml:"stream_log,omitempty"`
	DecodeLog       string   `xml:"decode_log,omitempty"`
	OutputLog       string   `xml:"output_log,omitempty"`
	MainLog         string   `xml:"main_log,omitempty"`
	UPnPLog         string   `xml:"upnp_log,omitempty"`
	UtilLog         string   `xml:"util_log,omitempty"`
	SlimmainLog     string   `xml:"slimmain_log,omitempty"`
	LogLimit        int      `xml:"log_limit,omitempty"`
	ScanInterval    int      `xml:"scan_interval,omitempty"`
	ScanTimeout     int      `xml:"scan_timeout,omitempty"`
	Common          Common   `xml:"common"`
	Devices         []Device `xml:"device"`

	// UnknownSocket is the legacy field name migrated to Binding on
	// load. Never written back out.
	UnknownSocket string `xml:"upnp_socket,omitempty"`

	// Unknown captures every top-level child element this struct
	// doesn't otherwise model, verbatim (innerxml and attributes), so a
	// save never clobbers fields the struct doesn't know about.
	Unknown []RawElement `xml:",any"`
}

// RawElement captures an unrecognized XML element for lossless
// round-trip: its name, attributes, and inner content are preserved
// exactly as read.
type RawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

// Common holds the global default values every Device inherits unless
// it overrides them.
type Common struct {
	Enabled         *bool  `xml:"enabled,omitempty"`
	RemoveTimeout   *int   `xml:"remove_timeout,omitempty"`
	Name            string `xml:"name,omitempty"`
	Server          string `xml:"server,omitempty"`
	CoverArt        string `xml:"coverart,omitempty"`
	StreamBufSize   *int   `xml:"streambuf_size,omitempty"`
	OutputSize      *int   `xml:"output_size,omitempty"`
	StreamLength    *int64 `xml:"stream_length,omitempty"`
	BufferLimit     *int64 `xml:"buffer_limit,omitempty"`
	MaxReadWait     *int   `xml:"max_read_wait,omitempty"`
	MaxGetBytes     *int   `xml:"max_GET_bytes,omitempty"`
	KeepBufferFile  *bool  `xml:"keep_buffer_file,omitempty"`
	Codecs          string `xml:"codecs,omitempty"`
	SampleRate      *int   `xml:"sample_rate,omitempty"`
	L24Format       string `xml:"L24_format,omitempty"`
	FlacHeader      string `xml:"flac_header,omitempty"`
	RawAudioFormat  string `xml:"raw_audio_format,omitempty"`
	MatchEndianness *bool  `xml:"match_endianness,omitempty"`
	AcceptNextURI   *bool  `xml:"accept_nexturi,omitempty"`
	NextDelay       *int   `xml:"next_delay,omitempty"`
	SeekAfterPause  *bool  `xml:"seek_after_pause,omitempty"`
	ByteSeek        *bool  `xml:"byte_seek,omitempty"`
	LivePause       *bool  `xml:"live_pause,omitempty"`
	SendICY         *bool  `xml:"send_icy,omitempty"`
	SendMetadata    *bool  `xml:"send_metadata,omitempty"`
	SendCoverArt    *bool  `xml:"send_coverart,omitempty"`
	VolumeOnPlay    *int   `xml:"volume_on_play,omitempty"`
	VolumeFeedback  *bool  `xml:"volume_feedback,omitempty"`
	MaxVolume       *int   `xml:"max_volume,omitempty"`
	AutoPlay        *bool  `xml:"auto_play,omitempty"`
	ForcedMimetypes *bool  `xml:"forced_mimetypes,omitempty"`
	RoonMode        *bool  `xml:"roon_mode,omitempty"`
}

// Device is a per-renderer element; any Common field left nil/empty
// inherits the parent document's Common value.
type Device struct {
	UDN          string `xml:"udn,attr"`
	MAC          string `xml:"mac,attr,omitempty"`
	FriendlyName string `xml:"friendly_name,attr,omitempty"`
	Common

	// Unknown preserves any per-device child element this struct
	// doesn't model, the same don't-clobber-on-save guarantee as
	// Document.Unknown, scoped to a single device entry.
	Unknown []RawElement `xml:",any"`
}

var (
	ErrNotFound = fmt.Errorf("config: document not found")
)

// Store owns the loaded Document and the path it was read from, guarding
// concurrent Load/Save calls.
type Store struct {
	mu   sync.Mutex
	path string
	doc  Document
}

// Load reads and parses path, migrating the legacy upnp_socket field to
// binding. A missing or malformed file returns defaults and a non-nil
// error; the caller runs with defaults and does not save until asked to.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("config: read %s: %w", path, err)
	}

	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if doc.Binding == "" && doc.UnknownSocket != "" {
		doc.Binding = doc.UnknownSocket
	}
	doc.UnknownSocket = ""

	s.doc = doc
	return s, nil
}

// Snapshot returns a copy of the currently loaded document.
func (s *Store) Snapshot() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// DeviceConfig resolves a Device's effective configuration, applying
// Common as the base and the Device's own non-nil/non-empty overrides
// on top.
func DeviceConfig(doc Document, udn string) model.DeviceConfig {
	base := resolveCommon(doc.Common)
	for _, dev := range doc.Devices {
		if dev.UDN != udn {
			continue
		}
		return mergeOverride(base, dev.Common)
	}
	return base
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func int64Or(p *int64, def int64) int64 {
	if p == nil {
		return def
	}
	return *p
}

func resolveCommon(c Common) model.DeviceConfig {
	return model.DeviceConfig{
		Enabled:         boolOr(c.Enabled, true),
		RemoveTimeout:   intOr(c.RemoveTimeout, 6),
		Name:            c.Name,
		Server:          c.Server,
		CoverArt:        c.CoverArt,
		StreamBufSize:   intOr(c.StreamBufSize, 262144),
		OutputSize:      intOr(c.OutputSize, 262144),
		StreamLength:    int64Or(c.StreamLength, 0x7FFFFFFF),
		BufferLimit:     int64Or(c.BufferLimit, 20*1024*1024),
		MaxReadWaitMS:   intOr(c.MaxReadWait, 2000),
		MaxGetBytes:     intOr(c.MaxGetBytes, 131072),
		KeepBufferFile:  boolOr(c.KeepBufferFile, false),
		Codecs:          c.Codecs,
		SampleRate:      intOr(c.SampleRate, 44100),
		L24Format:       orString(c.L24Format, "PACKED_LPCM"),
		FlacHeader:      orString(c.FlacHeader, "NORMAL"),
		RawAudioFormat:  splitCSV(c.RawAudioFormat),
		MatchEndianness: boolOr(c.MatchEndianness, true),
		AcceptNextURI:   boolOr(c.AcceptNextURI, false),
		NextDelaySec:    intOr(c.NextDelay, 0),
		SeekAfterPause:  boolOr(c.SeekAfterPause, false),
		ByteSeek:        boolOr(c.ByteSeek, false),
		LivePause:       boolOr(c.LivePause, false),
		SendICY:         boolOr(c.SendICY, false),
		SendMetadata:    boolOr(c.SendMetadata, true),
		SendCoverArt:    boolOr(c.SendCoverArt, true),
		VolumeOnPlay:    intOr(c.VolumeOnPlay, 0),
		VolumeFeedback:  boolOr(c.VolumeFeedback, true),
		MaxVolume:       intOr(c.MaxVolume, 100),
		AutoPlay:        boolOr(c.AutoPlay, false),
		ForcedMimetypes: boolOr(c.ForcedMimetypes, false),
		RoonMode:        boolOr(c.RoonMode, false),
	}
}

func mergeOverride(base model.DeviceConfig, o Common) model.DeviceConfig {
	if o.Enabled != nil {
		base.Enabled = *o.Enabled
	}
	if o.RemoveTimeout != nil {
		base.RemoveTimeout = *o.RemoveTimeout
	}
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Server != "" {
		base.Server = o.Server
	}
	if o.CoverArt != "" {
		base.CoverArt = o.CoverArt
	}
	if o.StreamBufSize != nil {
		base.StreamBufSize = *o.StreamBufSize
	}
	if o.OutputSize != nil {
		base.OutputSize = *o.OutputSize
	}
	if o.StreamLength != nil {
		base.StreamLength = *o.StreamLength
	}
	if o.BufferLimit != nil {
		base.BufferLimit = *o.BufferLimit
	}
	if o.MaxReadWait != nil {
		base.MaxReadWaitMS = *o.MaxReadWait
	}
	if o.MaxGetBytes != nil {
		base.MaxGetBytes = *o.MaxGetBytes
	}
	if o.KeepBufferFile != nil {
		base.KeepBufferFile = *o.KeepBufferFile
	}
	if o.Codecs != "" {
		base.Codecs = o.Codecs
	}
	if o.SampleRate != nil {
		base.SampleRate = *o.SampleRate
	}
	if o.L24Format != "" {
		base.L24Format = o.L24Format
	}
	if o.FlacHeader != "" {
		base.FlacHeader = o.FlacHeader
	}
	if o.RawAudioFormat != "" {
		base.RawAudioFormat = splitCSV(o.RawAudioFormat)
	}
	if o.MatchEndianness != nil {
		base.MatchEndianness = *o.MatchEndianness
	}
	if o.AcceptNextURI != nil {
		base.AcceptNextURI = *o.AcceptNextURI
	}
	if o.NextDelay != nil {
		base.NextDelaySec = *o.NextDelay
	}
	if o.SeekAfterPause != nil {
		base.SeekAfterPause = *o.SeekAfterPause
	}
	if o.ByteSeek != nil {
		base.ByteSeek = *o.ByteSeek
	}
	if o.LivePause != nil {
		base.LivePause = *o.LivePause
	}
	if o.SendICY != nil {
		base.SendICY = *o.SendICY
	}
	if o.SendMetadata != nil {
		base.SendMetadata = *o.SendMetadata
	}
	if o.SendCoverArt != nil {
		base.SendCoverArt = *o.SendCoverArt
	}
	if o.VolumeOnPlay != nil {
		base.VolumeOnPlay = *o.VolumeOnPlay
	}
	if o.VolumeFeedback != nil {
		base.VolumeFeedback = *o.VolumeFeedback
	}
	if o.MaxVolume != nil {
		base.MaxVolume = *o.MaxVolume
	}
	if o.AutoPlay != nil {
		base.AutoPlay = *o.AutoPlay
	}
	if o.ForcedMimetypes != nil {
		base.ForcedMimetypes = *o.ForcedMimetypes
	}
	if o.RoonMode != nil {
		base.RoonMode = *o.RoonMode
	}
	return base
}

func orString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
