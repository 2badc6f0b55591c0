package soap

import (
	"context"
	"time"

	"github.com/lms2upnp/bridge/internal/metrics"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/tracing"
)

// Submit dispatches doc against the renderer's control point if no RPC is
// currently outstanding, or appends it to the wire queue otherwise: at
// most one outstanding RPC per device, everything else FIFOs. onComplete,
// if non-nil, runs after the RPC returns (success or error) with the
// cookie that was assigned to this call.
func Submit(ctx context.Context, c *Client, r *model.Renderer, doc model.SOAPDoc, onComplete func(cookie uint64, err error)) {
	r.Mu.Lock()
	if r.WaitCookie != 0 {
		r.WireQueue = append(r.WireQueue, doc)
		queued := len(r.WireQueue)
		r.Mu.Unlock()
		metrics.QueueDepth.WithLabelValues(r.UDN).Set(float64(queued))
		return
	}
	r.NextCookie++
	cookie := r.NextCookie
	r.WaitCookie = cookie
	queued := len(r.WireQueue)
	r.Mu.Unlock()
	metrics.QueueDepth.WithLabelValues(r.UDN).Set(float64(queued))

	go dispatch(ctx, c, r, doc, cookie, onComplete)
}

// ForceStop clears the wire queue and dispatches doc (a Stop action)
// immediately, regardless of any RPC already in flight: "stop must win".
// The superseded in-flight call's own completion still runs and still
// advances lastAck, but its result no longer gates anything because the
// queue it would have drained is gone.
func ForceStop(ctx context.Context, c *Client, r *model.Renderer, doc model.SOAPDoc, onComplete func(cookie uint64, err error)) {
	r.Mu.Lock()
	r.WireQueue = nil
	r.NextCookie++
	cookie := r.NextCookie
	r.WaitCookie = cookie
	r.Mu.Unlock()

	go dispatch(ctx, c, r, doc, cookie, onComplete)
}

// dispatch performs the actual SOAP round trip, then acknowledges the
// cookie and drains the next queued document, if any.
func dispatch(ctx context.Context, c *Client, r *model.Renderer, doc model.SOAPDoc, cookie uint64, onComplete func(cookie uint64, err error)) {
	ctx, span := tracing.Tracer().Start(ctx, "soap."+doc.Action)
	defer span.End()

	start := time.Now()
	_, err := c.Invoke(ctx, doc.ControlURL, doc.ServiceURN, doc.Action, doc.Body)
	metrics.RPCLatencySeconds.WithLabelValues(r.UDN, doc.Action).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(r.UDN, doc.Action).Inc()
		span.RecordError(err)
	}

	r.Mu.Lock()
	if cookie > r.LastAck {
		r.LastAck = cookie
	}
	var next *model.SOAPDoc
	queued := 0
	if r.WaitCookie == cookie {
		r.WaitCookie = 0
		if len(r.WireQueue) > 0 {
			d := r.WireQueue[0]
			r.WireQueue = r.WireQueue[1:]
			next = &d
		}
		queued = len(r.WireQueue)
	}
	r.Mu.Unlock()
	metrics.QueueDepth.WithLabelValues(r.UDN).Set(float64(queued))

	if onComplete != nil {
		onComplete(cookie, err)
	}
	if next != nil {
		Submit(ctx, c, r, *next, onComplete)
	}
}

// Flush drops every wire-queued document without dispatching them,
// without disturbing an already in-flight RPC's bookkeeping.
func Flush(r *model.Renderer) {
	r.Mu.Lock()
	r.WireQueue = nil
	r.Mu.Unlock()
}
