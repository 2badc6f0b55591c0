package bridge

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/lms2upnp/bridge/internal/log"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
	"github.com/lms2upnp/bridge/internal/streaming"
)

// subscriptionTimeoutSeconds is the GENA timeout requested at SUBSCRIBE
// and renewal time. Transport and ConnectionManager get no subscription
// at all - only RenderingControl changes (volume/mute) are worth
// observing as events; transport state is already tracked by polling.
const subscriptionTimeoutSeconds = 300

// renewMargin is how far ahead of the granted timeout's expiry the
// bridge loop renews, so a 500ms-granularity poll never lets a
// subscription lapse even under scheduling jitter.
const renewMargin = 30 * time.Second

// retryBackoff is how soon a failed subscribe/renew is retried, rather
// than waiting a full subscriptionTimeoutSeconds before trying again.
const retryBackoff = 30 * time.Second

// subsMu/subsByID routes an incoming NOTIFY to its owning Device by the
// SID the renderer echoes back, mirroring the registryMu/devices
// UDN-keyed table this package already keeps.
var (
	subsMu   sync.Mutex
	subsByID = make(map[string]*Device)
)

// HandleNotify is wired into the shared streaming.Origin as its GENA
// NOTIFY callback. Transport-state and volume tracking both already
// come from polling (see loop.go); a NOTIFY arriving here today is
// logged for observability rather than acted on; the subscription
// exists so the renderer-side behavior the bridge's polling depends on
// (a live, acknowledged control point) stays healthy.
func HandleNotify(sid string, body []byte) {
	subsMu.Lock()
	d, ok := subsByID[sid]
	subsMu.Unlock()
	if !ok {
		return
	}
	log.WithComponent("bridge.gena").Debug().
		Str("udn", d.R.UDN).Str("sid", sid).Int("bytes", len(body)).Msg("event notify received")
}

// subscribeRenderingControl issues the initial GENA SUBSCRIBE for r's
// RenderingControl service, if it has one, storing the granted SID and
// timeout back onto the service and registering the SID for NOTIFY
// routing. Failure is logged and left for the bridge loop's renewal
// check to retry; bring-up never fails because a renderer doesn't
// support eventing.
func (d *Device) subscribeRenderingControl(ctx context.Context, callbackPort string) {
	r := d.R
	r.Mu.Lock()
	svc := r.Services[model.ServiceRendering]
	remoteIP := r.IPv4
	r.Mu.Unlock()

	if svc.EventSubscribeURL == "" || callbackPort == "" {
		return
	}

	callbackURL, err := buildCallbackURL(remoteIP, callbackPort)
	logger := log.WithComponent("bridge.gena").With().Str("udn", r.UDN).Logger()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine callback address, skipping event subscription")
		return
	}

	sub, err := soap.Subscribe(ctx, d.soapClient, svc.EventSubscribeURL, callbackURL, subscriptionTimeoutSeconds)
	if err != nil {
		logger.Warn().Err(err).Msg("RenderingControl subscribe failed, will retry from the bridge loop")
		d.nextRenewAt = time.Now().Add(retryBackoff)
		return
	}

	r.Mu.Lock()
	svc.SubscriptionID = sub.SID
	svc.TimeoutSeconds = sub.TimeoutSeconds
	r.Services[model.ServiceRendering] = svc
	r.Mu.Unlock()

	subsMu.Lock()
	subsByID[sub.SID] = d
	subsMu.Unlock()

	d.nextRenewAt = time.Now().Add(time.Duration(sub.TimeoutSeconds)*time.Second - renewMargin)
	logger.Debug().Str("sid", sub.SID).Int("timeout_s", sub.TimeoutSeconds).Msg("subscribed to RenderingControl events")
}

// maybeRenewSubscription is called every tick; it only issues an HTTP
// round trip once d.nextRenewAt has passed, which is most ticks a no-op
// comparison. On renewal failure it retries after retryBackoff rather
// than waiting out the remainder of the (now possibly expired) grant.
func (d *Device) maybeRenewSubscription(ctx context.Context) {
	if d.nextRenewAt.IsZero() || time.Now().Before(d.nextRenewAt) {
		return
	}

	r := d.R
	r.Mu.Lock()
	svc := r.Services[model.ServiceRendering]
	r.Mu.Unlock()

	if svc.EventSubscribeURL == "" || svc.SubscriptionID == "" {
		return
	}

	logger := log.WithComponent("bridge.gena").With().Str("udn", r.UDN).Logger()
	sub, err := soap.Renew(ctx, d.soapClient, svc.EventSubscribeURL, svc.SubscriptionID, subscriptionTimeoutSeconds)
	if err != nil {
		logger.Warn().Err(err).Msg("RenderingControl subscription renewal failed, retrying shortly")
		d.nextRenewAt = time.Now().Add(retryBackoff)
		return
	}

	r.Mu.Lock()
	svc.TimeoutSeconds = sub.TimeoutSeconds
	r.Services[model.ServiceRendering] = svc
	r.Mu.Unlock()

	d.nextRenewAt = time.Now().Add(time.Duration(sub.TimeoutSeconds)*time.Second - renewMargin)
}

// unsubscribeRenderingControl is called from TearDown. It best-effort
// releases the subscription; the SID entry is dropped either way so a
// stale NOTIFY after teardown can't be routed to a torn-down Device.
func unsubscribeRenderingControl(d *Device) {
	r := d.R
	r.Mu.Lock()
	svc := r.Services[model.ServiceRendering]
	r.Mu.Unlock()

	if svc.SubscriptionID != "" {
		subsMu.Lock()
		delete(subsByID, svc.SubscriptionID)
		subsMu.Unlock()
	}

	if svc.EventSubscribeURL == "" || svc.SubscriptionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := soap.Unsubscribe(ctx, d.soapClient, svc.EventSubscribeURL, svc.SubscriptionID); err != nil {
		log.WithComponent("bridge.gena").With().Str("udn", r.UDN).Logger().
			Debug().Err(err).Msg("unsubscribe failed, renderer will let the grant lapse on its own")
	}
}

// buildCallbackURL derives the NOTIFY callback this bridge instance can
// be reached at for a given renderer, combining the origin HTTP
// server's bound port with whichever local interface address the
// kernel would route traffic to remoteIP through - binding ":0" alone
// only tells us the port, not which of possibly several local
// addresses the renderer can actually reach.
func buildCallbackURL(remoteIP, callbackPort string) (string, error) {
	localIP, err := localAddrForPeer(remoteIP)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(localIP, callbackPort), streaming.BasePath+"/notify"), nil
}

func localAddrForPeer(remoteIP string) (string, error) {
	conn, err := net.Dial("udp4", net.JoinHostPort(remoteIP, "1900"))
	if err != nil {
		return "", err
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "", fmt.Errorf("bridge: unexpected local addr type %T", conn.LocalAddr())
	}
	return addr.IP.String(), nil
}
