package bridge

import (
	"github.com/lms2upnp/bridge/internal/didl"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
)

// syncNotifState reconciles an observed DLNA transport state against
// the renderer's previous state and LMS intent, dispatching RPCs and
// LMS notifications as needed. Notifications are always sent after the
// device mutex is released.
func (d *Device) syncNotifState(observed model.TransportState) {
	r := d.R

	if observed == model.StateTransitioning {
		r.Mu.Lock()
		r.PreviousState = r.State
		r.State = observed
		r.Mu.Unlock()
		return
	}

	r.Mu.Lock()
	previous := r.State
	handle := r.PlayerHandle
	intent := r.Intent
	queueHeadIsPause := len(r.Queue) > 0 && r.Queue[0].Action == model.ActionPause
	r.PreviousState = previous
	r.State = observed
	r.Mu.Unlock()

	switch observed {
	case model.StateStopped:
		if previous == model.StateStopped {
			return
		}
		d.handleStopped(handle)

	case model.StatePlaying:
		d.checkGaplessTrackChange(handle)
		if previous == model.StatePlaying {
			return
		}
		unsolicited := intent == model.IntentPause && !queueHeadIsPause
		d.events.OnPlay(handle, unsolicited)

		r.Mu.Lock()
		volumeOnPlay := r.Config.VolumeOnPlay
		lastVol := r.LastLMSVolume
		r.Mu.Unlock()
		if volumeOnPlay != -1 {
			d.reassertVolume(lastVol)
		}

	case model.StatePaused:
		if previous == model.StatePaused {
			return
		}
		r.Mu.Lock()
		pauseVolumeUnset := !r.PauseVolume
		lastVol := r.LastLMSVolume
		r.Mu.Unlock()
		if pauseVolumeUnset {
			d.reassertVolume(lastVol)
		}
		d.events.OnPause(handle, false)
	}
}

// onOriginUnderrun fires when an HTTP GET against one of this device's
// origin slots times out waiting for data: the renderer has stalled
// with nothing left to pull, so LMS is told the player stopped.
func (d *Device) onOriginUnderrun() {
	d.R.Mu.Lock()
	handle := d.R.PlayerHandle
	d.R.Mu.Unlock()
	d.events.OnStop(handle)
}

// onOriginEndOfTrack fires when a slot's Read reaches the writer-closed
// end of its buffer: the renderer has pulled everything offered for the
// current track, so LMS is nudged to advance.
func (d *Device) onOriginEndOfTrack() {
	d.R.Mu.Lock()
	handle := d.R.PlayerHandle
	d.R.Mu.Unlock()
	d.events.OnTrackChange(handle)
}

// checkGaplessTrackChange compares the TrackURI GetPositionInfo last
// reported against the queued next track. An AcceptNextURI renderer can
// roll onto NextURI entirely on its own, with transport state staying
// PLAYING the whole time and no STOPPED/TRANSITIONING edge for
// handleStopped to react to - this is the only place that rollover is
// ever observed, so it runs on every PLAYING tick rather than being
// gated on a state transition.
func (d *Device) checkGaplessTrackChange(handle string) {
	r := d.R

	r.Mu.Lock()
	trackURI := r.LastTrackURI
	nextURI := r.NextURI
	matched := nextURI != "" && trackURI == nextURI
	if matched {
		r.CurrentURI = nextURI
		r.NextURI = ""
	}
	r.Mu.Unlock()

	if matched {
		d.events.OnTrackChange(handle)
	}
}

// handleStopped implements the STOPPED branch of the reconciliation:
// empty next-URI notifies STOP; an AcceptNextURI device gets a NEXT
// nudge (it may have already rolled to the next track internally);
// otherwise the non-gapless fallback fabricates SetAVTransportURI+Play.
func (d *Device) handleStopped(handle string) {
	r := d.R

	r.Mu.Lock()
	nextURI := r.NextURI
	acceptNext := r.AcceptNextURI
	transportURL := r.Services[model.ServiceTransport].ControlURL
	r.Mu.Unlock()

	if nextURI == "" {
		d.events.OnStop(handle)
		return
	}

	if acceptNext {
		r.Mu.Lock()
		r.Queue = append(r.Queue, model.QueuedAction{PlayerHandle: handle, Action: model.ActionNext, Ordered: false})
		r.Mu.Unlock()
		return
	}

	// Non-gapless fallback: promote next to current, fabricate
	// SetAVTransportURI then a PLAY gated on that RPC's cookie so PLAY
	// always follows it in order.
	r.Mu.Lock()
	nextProtocolInfo := r.NextProtocolInfo
	nextMeta := r.NextMetadata
	r.CurrentURI = nextURI
	r.NextURI = ""
	r.Mu.Unlock()

	didlXML := didl.BuildMetadata(nextMeta, nextURI, nextProtocolInfo)
	doc := soap.SetAVTransportURI(transportURL, nextURI, didlXML)

	soap.Submit(d.ctx, d.soapClient, r, doc, func(cookie uint64, err error) {
		if err != nil {
			d.recordError()
			return
		}
		d.recordSuccess()
		r.Mu.Lock()
		r.Queue = append(r.Queue, model.QueuedAction{PlayerHandle: handle, Action: model.ActionPlay, Cookie: cookie, Ordered: true})
		r.Mu.Unlock()
	})

	d.events.OnTrackChange(handle)
}

func (d *Device) reassertVolume(lmsVolume int) {
	r := d.R
	r.Mu.Lock()
	controlURL := r.Services[model.ServiceRendering].ControlURL
	maxVolume := r.Config.MaxVolume
	r.Mu.Unlock()
	if controlURL == "" {
		return
	}
	desired := model.MapVolume(lmsVolume, maxVolume)
	soap.Submit(d.ctx, d.soapClient, r, soap.SetVolume(controlURL, desired), func(cookie uint64, err error) {
		if err != nil {
			d.recordError()
			return
		}
		d.recordSuccess()
	})
}

// drainQueue dispatches the queue head if it is unordered, or ordered
// and its cookie has already been acknowledged.
// It always submits against d.ctx (the device's own lifetime), never a
// caller-supplied context, because Submit dispatches asynchronously and
// must not be cancelled when the calling tick iteration returns.
func (d *Device) drainQueue() {
	r := d.R

	r.Mu.Lock()
	if len(r.Queue) == 0 {
		r.Mu.Unlock()
		return
	}
	head := r.Queue[0]
	lastAck := r.LastAck
	ready := !head.Ordered || head.Cookie <= lastAck
	transportURL := r.Services[model.ServiceTransport].ControlURL
	if ready {
		r.Queue = r.Queue[1:]
	}
	r.Mu.Unlock()

	if !ready {
		return
	}

	switch head.Action {
	case model.ActionPlay:
		soap.Submit(d.ctx, d.soapClient, r, soap.Play(transportURL), d.rpcOutcome)
	case model.ActionPause:
		soap.Submit(d.ctx, d.soapClient, r, soap.Pause(transportURL), d.rpcOutcome)
	case model.ActionNext:
		soap.Submit(d.ctx, d.soapClient, r, soap.Next(transportURL), d.rpcOutcome)
	}
}

func (d *Device) rpcOutcome(cookie uint64, err error) {
	if err != nil {
		d.recordError()
		return
	}
	d.recordSuccess()
}
