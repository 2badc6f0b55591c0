package bridge

import (
	"context"
	"time"

	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
)

// loop is the single polling goroutine per device. It runs until ctx is cancelled by TearDown.
func (d *Device) loop() {
	defer close(d.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.iteration++
			d.tick()
		}
	}
}

func (d *Device) tick() {
	r := d.R

	r.Mu.Lock()
	skip := !r.Enabled || (r.Intent == model.IntentStop && r.State == model.StateStopped) || r.ErrorCount > model.ErrorThreshold
	state := r.State
	transportURL := r.Services[model.ServiceTransport].ControlURL
	renderingURL := r.Services[model.ServiceRendering].ControlURL
	r.Mu.Unlock()

	if skip || transportURL == "" {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 3*time.Second)
	defer cancel()

	if state == model.StatePlaying || state == model.StateTransitioning {
		if d.iteration%positionPollEvery == 0 {
			d.pollPosition(ctx, transportURL)
		}
	}

	d.pollTransport(ctx, transportURL)

	if renderingURL != "" && d.iteration%volumeKeepAliveDiv == 0 {
		d.pollVolume(ctx, renderingURL)
	}

	d.maybeRenewSubscription(ctx)
	d.drainQueue()
}

func (d *Device) pollPosition(ctx context.Context, controlURL string) {
	var resp soap.PositionInfoResponse
	if err := soap.Do(ctx, d.soapClient, soap.GetPositionInfo(controlURL), &resp); err != nil {
		d.recordError()
		return
	}
	d.recordSuccess()
	ms := soap.RelTimeToMillis(resp.RelTime)
	d.R.Mu.Lock()
	d.R.ElapsedMS = uint32(ms)
	d.R.LastTrackURI = resp.TrackURI
	handle := d.R.PlayerHandle
	d.R.Mu.Unlock()
	d.events.OnTime(handle, uint32(ms))
}

func (d *Device) pollVolume(ctx context.Context, controlURL string) {
	var resp soap.VolumeResponse
	if err := soap.Do(ctx, d.soapClient, soap.GetVolume(controlURL), &resp); err != nil {
		d.recordError()
		return
	}
	d.recordSuccess()
}

func (d *Device) pollTransport(ctx context.Context, controlURL string) {
	var resp soap.TransportInfoResponse
	err := soap.Do(ctx, d.soapClient, soap.GetTransportInfo(controlURL), &resp)
	if err != nil {
		d.recordError()
		return
	}
	d.recordSuccess()
	d.syncNotifState(model.TransportState(resp.CurrentTransportState))
}

func (d *Device) recordError() {
	d.R.Mu.Lock()
	d.R.ErrorCount++
	d.R.Mu.Unlock()
}

func (d *Device) recordSuccess() {
	d.R.Mu.Lock()
	d.R.ErrorCount = 0
	d.R.Mu.Unlock()
}
