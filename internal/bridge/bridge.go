// Package bridge implements the per-renderer lifecycle: bring-up,
// the 500ms polling bridge loop, transport-state/LMS-intent
// reconciliation, and the LMS-facing callback surface.
package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lms2upnp/bridge/internal/didl"
	"github.com/lms2upnp/bridge/internal/discovery"
	"github.com/lms2upnp/bridge/internal/fsm"
	"github.com/lms2upnp/bridge/internal/lms"
	"github.com/lms2upnp/bridge/internal/log"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
	"github.com/lms2upnp/bridge/internal/streaming"
)

// pollInterval is the bridge loop's wake-up cadence: one poll per
// device every 500ms.
const pollInterval = 500 * time.Millisecond

const (
	positionPollEvery  = 2  // * pollInterval = 1000ms
	volumeKeepAliveDiv = 20 // * pollInterval = 10000ms
)

// Device wraps a *model.Renderer with everything the bridge loop needs
// beyond the data model: the SOAP client, the protocol-info match
// cache, the HTTP origin its slots live on, and the LMS notification
// sink. One Device per live renderer; the registry owns its lifetime.
type Device struct {
	R *model.Renderer

	soapClient *soap.Client
	matchCache *didl.MatchCache
	origin     *streaming.Origin
	events     lms.PlayerEvents

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	iteration uint64

	// nextRenewAt is when the bridge loop should next renew this
	// device's RenderingControl event subscription; zero means no
	// subscription is active (renderer has no RenderingControl
	// eventSubURL, or the initial subscribe never succeeded).
	nextRenewAt time.Time

	// intentFSM validates and tracks LMS intent transitions (PLAY/PAUSE/
	// STOP callbacks), the only part of the renderer's state this bridge
	// actually commands rather than observes - the transport state itself
	// arrives from polling the renderer, not from firing events, so it
	// isn't driven through this machine (see reconcile.go).
	intentFSM *fsm.Machine[model.LMSIntent]
}

// newIntentFSM builds the LMS-intent state machine: every intent can be
// re-commanded to any other intent (including itself), so every (from,
// event) pair maps to a transition named after the event.
func newIntentFSM(initial model.LMSIntent) *fsm.Machine[model.LMSIntent] {
	states := []model.LMSIntent{model.IntentNone, model.IntentPlay, model.IntentPause, model.IntentStop}
	var transitions []fsm.Transition[model.LMSIntent]
	for _, from := range states {
		for _, event := range []model.LMSIntent{model.IntentPlay, model.IntentPause, model.IntentStop} {
			transitions = append(transitions, fsm.Transition[model.LMSIntent]{From: from, Event: event, To: event})
		}
	}
	m, _ := fsm.New(initial, transitions) // transitions are exhaustively enumerated above, never duplicated
	return m
}

// Deps bundles the shared, process-wide collaborators every Device is
// constructed with.
type Deps struct {
	SoapClient *soap.Client
	MatchCache *didl.MatchCache
	Origin     *streaming.Origin
	Events     lms.PlayerEvents

	// FastShutdown skips the synchronous Stop RPC during TearDown and
	// exits immediately; set from the CLI's `-k` flag.
	FastShutdown bool

	// CallbackPort is the port the shared streaming.Origin HTTP server
	// is bound to, used to build each device's GENA NOTIFY callback
	// URL. Empty disables event subscription entirely.
	CallbackPort string
}

// BringUp implements discovery.BringUpFunc: load
// config overrides, initialize state, issue GetProtocolInfo and wait up
// to 500ms for capabilities (kept as parsed, capped at
// model.MaxCapabilities; no codec filter is applied), derive a player
// handle, then spawn the bridge loop. configFor resolves each
// device's effective config by UDN at bring-up time.
func BringUp(deps Deps, configFor func(udn string) model.DeviceConfig) discovery.BringUpFunc {
	return func(ctx context.Context, pd *discovery.ParsedDevice, ip string) (*model.Renderer, error) {
		cfg := configFor(pd.UDN)
		r := &model.Renderer{
			UDN:             pd.UDN,
			DescriptionURL:  "",
			PresentationURL: pd.PresentationURL,
			FriendlyName:    pd.FriendlyName,
			Manufacturer:    pd.Manufacturer,
			IPv4:            ip,
			HardwareAddr:    model.DeriveHardwareAddress(pd.UDN),
			State:           model.StateStopped,
			PreviousState:   model.StateStopped,
			Intent:          model.IntentStop,
			AcceptNextURI:   pd.AcceptNextURI,
			Enabled:         cfg.Enabled,
			Config:          cfg,
			CreatedAt:       time.Now(),
		}
		r.PlayerHandle = fmt.Sprintf("lms2upnp-%s", model.MACString(r.HardwareAddr))

		for _, svc := range pd.Services {
			switch {
			case isServiceType(svc.ServiceType, "AVTransport"):
				r.Services[model.ServiceTransport] = toService(svc)
			case isServiceType(svc.ServiceType, "RenderingControl"):
				r.Services[model.ServiceRendering] = toService(svc)
			case isServiceType(svc.ServiceType, "ConnectionManager"):
				r.Services[model.ServiceConnectionManager] = toService(svc)
			}
		}

		logger := log.WithComponent("bridge").With().Str("udn", r.UDN).Logger()

		cmURL := r.Services[model.ServiceConnectionManager].ControlURL
		if cmURL != "" {
			doc := soap.GetProtocolInfo(cmURL)
			waitCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			var resp soap.ProtocolInfoResponse
			err := soap.Do(waitCtx, deps.SoapClient, doc, &resp)
			cancel()
			if err != nil {
				logger.Warn().Err(err).Msg("GetProtocolInfo failed during bring-up, continuing with empty capability set")
			} else {
				r.ProtocolInfos = didl.ParseCapabilities(resp.Sink)
				if len(r.ProtocolInfos) > model.MaxCapabilities {
					r.ProtocolInfos = r.ProtocolInfos[:model.MaxCapabilities]
				}
				r.Ready = true
			}
		}

		d := &Device{R: r, soapClient: deps.SoapClient, matchCache: deps.MatchCache, origin: deps.Origin, events: deps.Events, intentFSM: newIntentFSM(r.Intent)}
		d.ctx, d.cancel = context.WithCancel(context.Background())
		d.done = make(chan struct{})

		for _, idx := range []int{0, 1} {
			slot := streaming.NewSlot(model.SlotName(r.HardwareAddr, idx), cfg.StreamLength, cfg.BufferLimit)
			slot.SetEventHooks(d.onOriginUnderrun, d.onOriginEndOfTrack)
			deps.Origin.Register(slot)
		}

		registryMu.Lock()
		devices[r.UDN] = d
		registryMu.Unlock()

		subCtx, subCancel := context.WithTimeout(ctx, 3*time.Second)
		d.subscribeRenderingControl(subCtx, deps.CallbackPort)
		subCancel()

		go d.loop()

		return r, nil
	}
}

// TearDown implements discovery.TearDownFunc.
func TearDown(deps Deps) discovery.TearDownFunc {
	return func(r *model.Renderer) {
		registryMu.Lock()
		d := devices[r.UDN]
		delete(devices, r.UDN)
		registryMu.Unlock()
		if d == nil {
			return
		}

		r.Mu.Lock()
		intent := r.Intent
		controlURL := r.Services[model.ServiceTransport].ControlURL
		r.Mu.Unlock()

		if !deps.FastShutdown && (intent == model.IntentPlay || intent == model.IntentPause) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = soap.Do(stopCtx, d.soapClient, soap.Stop(controlURL), nil)
			cancel()
		}

		unsubscribeRenderingControl(d)

		soap.Flush(r)
		d.cancel()
		<-d.done

		deps.Origin.Remove(model.SlotName(r.HardwareAddr, 0))
		deps.Origin.Remove(model.SlotName(r.HardwareAddr, 1))
	}
}

// registryMu/devices is the process-wide Device table keyed by UDN,
// encapsulated here rather than exposed through model.Renderer to avoid
// the cyclic device<->bridge reference this package source has.
var (
	registryMu sync.Mutex
	devices    = make(map[string]*Device)
)

// Lookup returns the live Device for a UDN, used by the LMS callback
// surface (callbacks.go) to route an incoming player command.
func Lookup(udn string) (*Device, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := devices[udn]
	return d, ok
}

func isServiceType(serviceType, want string) bool {
	return strings.Contains(serviceType, want)
}

func toService(svc discovery.ServiceDescription) model.Service {
	return model.Service{
		ID:                svc.ServiceID,
		Type:              svc.ServiceType,
		EventSubscribeURL: svc.EventSubURL,
		ControlURL:        svc.ControlURL,
	}
}
