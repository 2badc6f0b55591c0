package bridge

import (
	"context"
	"errors"

	"github.com/lms2upnp/bridge/internal/didl"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
)

// ErrNoCodecMatch is returned by SetFormat when no advertised renderer
// capability matches the requested source format.
var ErrNoCodecMatch = errors.New("bridge: no matching renderer capability")

// SetOnOff implements the ONOFF callback: subsequent ops on a disabled
// device short-circuit.
func (d *Device) SetOnOff(enabled bool) {
	d.R.Mu.Lock()
	d.R.Enabled = enabled
	d.R.Mu.Unlock()
}

// SetFormat runs the capability match (memoized by the device's
// MatchCache) and returns the chosen format; SetURI/SetNextURI take the
// protocolInfo as an argument.
func (d *Device) SetFormat(src didl.SourceFormat) (didl.Match, error) {
	r := d.R
	r.Mu.Lock()
	caps := r.ProtocolInfos
	udn := r.UDN
	rawAudioFormat := r.Config.RawAudioFormat
	matchEndianness := r.Config.MatchEndianness
	byteSeek := r.Config.ByteSeek
	r.Mu.Unlock()

	match := d.matchCache.MatchFormat(udn, caps, src, rawAudioFormat, matchEndianness, byteSeek)
	if !match.Matched {
		return match, ErrNoCodecMatch
	}
	return match, nil
}

// SetURI implements SETURI: clears cached URIs, builds DIDL, sends
// SetAVTransportURI, and records the new current URI.
func (d *Device) SetURI(ctx context.Context, trackURL, protocolInfo string, meta model.TrackMetadata) error {
	r := d.R
	r.Mu.Lock()
	r.CurrentURI = trackURL
	r.NextURI = ""
	transportURL := r.Services[model.ServiceTransport].ControlURL
	r.Mu.Unlock()

	didlXML := didl.BuildMetadata(meta, trackURL, protocolInfo)
	return soap.Do(ctx, d.soapClient, soap.SetAVTransportURI(transportURL, trackURL, didlXML), nil)
}

// SetNextURI implements SETNEXTURI: always caches the next URI and its
// protocol-info; only sends SetNextAVTransportURI when the renderer
// supports it.
func (d *Device) SetNextURI(ctx context.Context, trackURL, protocolInfo string, meta model.TrackMetadata) error {
	r := d.R
	r.Mu.Lock()
	r.NextURI = trackURL
	r.NextProtocolInfo = protocolInfo
	r.NextMetadata = meta
	acceptNext := r.AcceptNextURI
	transportURL := r.Services[model.ServiceTransport].ControlURL
	r.Mu.Unlock()

	if !acceptNext {
		return nil
	}
	didlXML := didl.BuildMetadata(meta, trackURL, protocolInfo)
	return soap.Do(ctx, d.soapClient, soap.SetNextAVTransportURI(transportURL, trackURL, didlXML), nil)
}

// Play implements PLAY: send SetPlayMode("NORMAL") then enqueue PLAY;
// reassert volume when VolumeOnPlay==1.
func (d *Device) Play(ctx context.Context) error {
	r := d.R
	if _, err := d.intentFSM.Fire(model.IntentPlay); err != nil {
		return err
	}
	r.Mu.Lock()
	r.Intent = model.IntentPlay
	transportURL := r.Services[model.ServiceTransport].ControlURL
	volumeOnPlay := r.Config.VolumeOnPlay
	lastVol := r.LastLMSVolume
	handle := r.PlayerHandle
	r.Mu.Unlock()

	if err := soap.Do(ctx, d.soapClient, soap.SetPlayMode(transportURL, "NORMAL"), nil); err != nil {
		d.recordError()
		return err
	}
	d.recordSuccess()

	r.Mu.Lock()
	r.Queue = append(r.Queue, model.QueuedAction{PlayerHandle: handle, Action: model.ActionPlay, Ordered: false})
	r.Mu.Unlock()

	if volumeOnPlay == 1 {
		d.reassertVolume(lastVol)
	}
	return nil
}

// Unpause implements UNPAUSE: if SeekAfterPause, re-assert the current
// LMS-reported elapsed time before resuming.
func (d *Device) Unpause(ctx context.Context, lmsElapsedMS int64) error {
	r := d.R
	if _, err := d.intentFSM.Fire(model.IntentPlay); err != nil {
		return err
	}
	r.Mu.Lock()
	seekAfterPause := r.Config.SeekAfterPause
	transportURL := r.Services[model.ServiceTransport].ControlURL
	handle := r.PlayerHandle
	r.Intent = model.IntentPlay
	r.Mu.Unlock()

	if seekAfterPause {
		target := soap.MillisToSeekTarget(lmsElapsedMS)
		if err := soap.Do(ctx, d.soapClient, soap.Seek(transportURL, target), nil); err != nil {
			d.recordError()
		} else {
			d.recordSuccess()
		}
	}

	r.Mu.Lock()
	r.Queue = append(r.Queue, model.QueuedAction{PlayerHandle: handle, Action: model.ActionPlay, Ordered: false})
	r.Mu.Unlock()
	return nil
}

// Stop implements STOP: sends Stop directly, bypassing the queue (stop
// must win), flushes the queue, and clears cached URIs.
// Stop's RPC is dispatched against d.ctx, not the caller's context: it
// fires asynchronously (ForceStop spawns the SOAP round trip in its own
// goroutine), and must keep running after this call returns.
func (d *Device) Stop(ctx context.Context) error {
	r := d.R
	if _, err := d.intentFSM.Fire(model.IntentStop); err != nil {
		return err
	}
	r.Mu.Lock()
	r.Intent = model.IntentStop
	r.CurrentURI = ""
	r.NextURI = ""
	transportURL := r.Services[model.ServiceTransport].ControlURL
	r.Mu.Unlock()

	soap.ForceStop(d.ctx, d.soapClient, r, soap.Stop(transportURL), d.rpcOutcome)

	r.Mu.Lock()
	r.Queue = nil
	r.Mu.Unlock()
	return nil
}

// Pause implements PAUSE: enqueue PAUSE.
func (d *Device) Pause() {
	r := d.R
	_, _ = d.intentFSM.Fire(model.IntentPause) // always succeeds, every intent accepts PAUSE
	r.Mu.Lock()
	r.Intent = model.IntentPause
	handle := r.PlayerHandle
	r.Queue = append(r.Queue, model.QueuedAction{PlayerHandle: handle, Action: model.ActionPause, Ordered: false})
	r.Mu.Unlock()
}

// Seek implements SEEK(ms): send Seek with REL_TIME H:MM:SS, rounding
// ms to the nearest second.
func (d *Device) Seek(ctx context.Context, ms int64) error {
	r := d.R
	r.Mu.Lock()
	transportURL := r.Services[model.ServiceTransport].ControlURL
	r.Mu.Unlock()

	target := soap.MillisToSeekTarget(ms)
	if err := soap.Do(ctx, d.soapClient, soap.Seek(transportURL, target), nil); err != nil {
		d.recordError()
		return err
	}
	d.recordSuccess()
	return nil
}

// Volume implements VOLUME(0-100): maps through the fixed curve, scales
// by MaxVolume, and honors VolumeOnPlay suppression rules.
func (d *Device) Volume(lmsVolume int) {
	r := d.R
	r.Mu.Lock()
	r.LastLMSVolume = lmsVolume
	volumeOnPlay := r.Config.VolumeOnPlay
	state := r.State
	maxVolume := r.Config.MaxVolume
	controlURL := r.Services[model.ServiceRendering].ControlURL
	r.Mu.Unlock()

	if volumeOnPlay == -1 {
		return
	}
	if volumeOnPlay == 1 && state != model.StatePlaying {
		return
	}
	if controlURL == "" {
		return
	}

	desired := model.MapVolume(lmsVolume, maxVolume)
	r.Mu.Lock()
	r.LastRendererVolume = desired
	r.Mu.Unlock()

	soap.Submit(d.ctx, d.soapClient, r, soap.SetVolume(controlURL, desired), d.rpcOutcome)
}
