package discovery

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/lms2upnp/bridge/internal/log"
	"github.com/lms2upnp/bridge/internal/metrics"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/tracing"
)

// MaxDevices bounds the device table.
const MaxDevices = 32

// ErrTableFull is returned when a new renderer is discovered but the
// device table has no free slot.
var ErrTableFull = errors.New("discovery: device table full")

// BringUpFunc constructs and brings up a new renderer record;
// supplied by internal/bridge so discovery stays free of bridge-loop
// concerns.
type BringUpFunc func(ctx context.Context, pd *ParsedDevice, ip string) (*model.Renderer, error)

// TearDownFunc tears a renderer down.
type TearDownFunc func(r *model.Renderer)

// Registry holds the live renderer table, keyed by UDN, that each scan
// cycle updates.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*model.Renderer // keyed by UDN
	slots   int

	removeTimeout int

	bringUp  BringUpFunc
	tearDown TearDownFunc

	httpClient *http.Client
	fetchGroup singleflight.Group
}

// NewRegistry constructs an empty registry. removeTimeout is the number
// of consecutive missed scans before a stale device is torn down.
func NewRegistry(removeTimeout int, bringUp BringUpFunc, tearDown TearDownFunc) *Registry {
	return &Registry{
		devices:       make(map[string]*model.Renderer),
		removeTimeout: removeTimeout,
		bringUp:       bringUp,
		tearDown:      tearDown,
		httpClient:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Snapshot returns every currently-live renderer.
func (r *Registry) Snapshot() []*model.Renderer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Renderer, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// RunScan performs one complete discovery cycle: mark-stale, multicast
// search, single non-overlapping update worker over the results, then a
// stale sweep.
func (r *Registry) RunScan(ctx context.Context, scanTimeout time.Duration) error {
	ctx, span := tracing.Tracer().Start(ctx, "discovery.RunScan")
	defer span.End()

	r.markAllStale()

	results, err := Search(ctx, scanTimeout)
	if err != nil {
		return err
	}

	urls := dedupeURLs(results)
	if err := r.updateFromURLs(ctx, urls); err != nil {
		return err
	}

	r.sweepStale()
	return nil
}

func dedupeURLs(results []SearchResult) []string {
	seen := make(map[string]struct{}, len(results))
	var out []string
	for _, res := range results {
		if _, ok := seen[res.DescriptionURL]; ok {
			continue
		}
		seen[res.DescriptionURL] = struct{}{}
		out = append(out, res.DescriptionURL)
	}
	return out
}

func (r *Registry) markAllStale() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		d.Mu.Lock()
		d.Stale = true
		d.Mu.Unlock()
	}
}

// updateFromURLs fetches and processes every queued description URL
// concurrently (bounded by errgroup), deduplicating concurrent fetches of
// the same URL via singleflight the way lineup cache does.
func (r *Registry) updateFromURLs(ctx context.Context, urls []string) error {
	logger := log.WithComponent("discovery")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, u := range urls {
		u := u
		g.Go(func() error {
			v, err, _ := r.fetchGroup.Do(u, func() (any, error) {
				return FetchDescription(gctx, r.httpClient, u)
			})
			if err != nil {
				logger.Warn().Err(err).Str("url", u).Msg("description fetch failed, will retry next cycle")
				return nil // a failed fetch just skips this URL; it retries next cycle
			}
			pd := v.(*ParsedDevice)
			r.processDevice(gctx, pd, remoteIPFromURL(u))
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) processDevice(ctx context.Context, pd *ParsedDevice, ip string) {
	logger := log.WithComponent("discovery")

	r.mu.Lock()
	existing, live := r.devices[pd.UDN]
	r.mu.Unlock()

	if live {
		existing.Mu.Lock()
		existing.Stale = false
		existing.StaleCount = 0
		existing.ErrorCount = 0
		existing.FriendlyName = pd.FriendlyName
		existing.PresentationURL = pd.PresentationURL
		existing.Mu.Unlock()
		return
	}

	r.mu.Lock()
	if len(r.devices) >= MaxDevices {
		r.mu.Unlock()
		logger.Error().Str("udn", pd.UDN).Msg("device table full, dropping new discovery")
		return
	}
	r.mu.Unlock()

	renderer, err := r.bringUp(ctx, pd, ip)
	if err != nil {
		logger.Error().Err(err).Str("udn", pd.UDN).Msg("bring-up failed")
		return
	}

	r.mu.Lock()
	r.devices[pd.UDN] = renderer
	r.mu.Unlock()
	metrics.DiscoveryDevicesFound.WithLabelValues().Inc()
}

// sweepStale increments the missing-counter of every still-stale device
// and tears down any that hit the removal threshold.
func (r *Registry) sweepStale() {
	r.mu.Lock()
	var toRemove []*model.Renderer
	for udn, d := range r.devices {
		d.Mu.Lock()
		if d.Stale {
			d.StaleCount++
			if d.StaleCount >= r.removeTimeout {
				toRemove = append(toRemove, d)
				delete(r.devices, udn)
			}
		}
		d.Mu.Unlock()
	}
	r.mu.Unlock()

	for _, d := range toRemove {
		metrics.DiscoveryDevicesEvicted.WithLabelValues().Inc()
		r.tearDown(d)
	}
}

func remoteIPFromURL(descriptionURL string) string {
	// http://<ip>:<port>/description.xml -> <ip>
	const scheme = "http://"
	s := descriptionURL
	if len(s) > len(scheme) && s[:len(scheme)] == scheme {
		s = s[len(scheme):]
	}
	for i := 0; i < len(s); i++ {
		if s[i] == ':' || s[i] == '/' {
			return s[:i]
		}
	}
	return s
}
