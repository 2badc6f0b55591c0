// Package lms defines the narrow interface the bridge uses to notify
// the music-library server of renderer-side state changes. The wire
// client itself (framing, decoding, resampling) lives elsewhere; this
// package only specifies what the bridge requires from it.
package lms

import (
	"github.com/rs/zerolog"

	"github.com/lms2upnp/bridge/internal/log"
)

// PlayerEvents is implemented by the LMS adapter and passed in when a
// device is constructed. Every method must be safe to call
// without the caller holding any renderer lock — the bridge guarantees
// it calls these only after releasing the renderer mutex.
type PlayerEvents interface {
	// OnPlay reports a PLAYING transition. Unsolicited is true when the
	// renderer resumed on its own while LMS intent was PAUSE.
	OnPlay(playerHandle string, unsolicited bool)

	// OnPause reports a PAUSED_PLAYBACK transition.
	OnPause(playerHandle string, unsolicited bool)

	// OnStop reports a STOPPED transition with no next track queued.
	OnStop(playerHandle string)

	// OnTrackChange reports a non-gapless or gapless-nudge rollover to
	// the next queued track.
	OnTrackChange(playerHandle string)

	// OnTime reports the last polled elapsed-time sample in milliseconds.
	OnTime(playerHandle string, elapsedMS uint32)

	// OnVolume reports the renderer's current volume, expressed back in
	// LMS's 0-100 scale.
	OnVolume(playerHandle string, lmsVolume int)
}

// NopEvents discards every notification; useful for bring-up of a
// device before its player handle's real adapter is wired, and in
// tests that don't care about the LMS-facing side.
type NopEvents struct{}

func (NopEvents) OnPlay(string, bool)   {}
func (NopEvents) OnPause(string, bool)  {}
func (NopEvents) OnStop(string)         {}
func (NopEvents) OnTrackChange(string)  {}
func (NopEvents) OnTime(string, uint32) {}
func (NopEvents) OnVolume(string, int)  {}

// LoggingEvents logs every notification through the component logger at
// debug level, standing in for a real slimproto client in deployments
// that don't wire one, so
// the bridge's LMS-facing behavior stays observable.
type LoggingEvents struct{}

func (LoggingEvents) logger() zerolog.Logger { return log.WithComponent("lms") }

func (e LoggingEvents) OnPlay(handle string, unsolicited bool) {
	e.logger().Debug().Str("player", handle).Bool("unsolicited", unsolicited).Msg("play")
}

func (e LoggingEvents) OnPause(handle string, unsolicited bool) {
	e.logger().Debug().Str("player", handle).Bool("unsolicited", unsolicited).Msg("pause")
}

func (e LoggingEvents) OnStop(handle string) {
	e.logger().Debug().Str("player", handle).Msg("stop")
}

func (e LoggingEvents) OnTrackChange(handle string) {
	e.logger().Debug().Str("player", handle).Msg("track change")
}

func (e LoggingEvents) OnTime(handle string, elapsedMS uint32) {
	e.logger().Debug().Str("player", handle).Uint32("elapsed_ms", elapsedMS).Msg("time")
}

func (e LoggingEvents) OnVolume(handle string, lmsVolume int) {
	e.logger().Debug().Str("player", handle).Int("volume", lmsVolume).Msg("volume")
}
