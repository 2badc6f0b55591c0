package streaming

import (
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/unicode/norm"

	"github.com/lms2upnp/bridge/internal/log"
	"github.com/lms2upnp/bridge/internal/metrics"
)

// BasePath is the fixed virtual directory the origin serves.
const BasePath = "/LMS2UPNP"

// Origin is the embedded HTTP server the renderer pulls audio from.
// Slots are keyed by their synthesized filename.
type Origin struct {
	mu    sync.RWMutex
	slots map[string]*Slot

	maxReadWaitIters int
	maxGetBytes      int
	byteSeek         bool

	notifyHandler func(sid string, body []byte)
}

// NewOrigin constructs an Origin. maxReadWait is the configured
// max_read_wait (ms), converted to 50ms polling iterations.
func NewOrigin(maxReadWaitMS, maxGetBytes int, byteSeek bool) *Origin {
	iters := maxReadWaitMS / 50
	if iters < 1 {
		iters = 1
	}
	return &Origin{
		slots:            make(map[string]*Slot),
		maxReadWaitIters: iters,
		maxGetBytes:      maxGetBytes,
		byteSeek:         byteSeek,
	}
}

// Register adds or replaces a slot.
func (o *Origin) Register(s *Slot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.slots[s.Name] = s
}

// Remove deletes a slot, e.g. on renderer tear-down.
func (o *Origin) Remove(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.slots, name)
}

// SetNotifyHandler wires the callback invoked for every GENA NOTIFY
// this origin's embedded server receives, keyed by the subscription SID
// the NOTIFY carries. Passing nil disables NOTIFY handling (incoming
// requests are still acknowledged).
func (o *Origin) SetNotifyHandler(h func(sid string, body []byte)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifyHandler = h
}

func (o *Origin) lookup(name string) (*Slot, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.slots[name]
	return s, ok
}

// Router builds the chi mux for the origin: request-rate limiting via
// go-chi/httprate, structured request logging, and a single GET/HEAD
// route for /LMS2UPNP/{slot}.
func (o *Origin) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(log.Middleware())
	r.Use(httprate.LimitByIP(120, time.Minute))
	r.Get(BasePath+"/{slot}", o.serve)
	r.Head(BasePath+"/{slot}", o.serve)
	r.Method("NOTIFY", BasePath+"/notify", http.HandlerFunc(o.handleNotify))
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// handleNotify accepts a GENA event NOTIFY, hands the SID and body to
// the wired notifyHandler (if any), and acknowledges with 200 OK -
// GENA requires a prompt response regardless of whether the payload was
// understood.
func (o *Origin) handleNotify(w http.ResponseWriter, r *http.Request) {
	sid := r.Header.Get("SID")
	body, _ := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	defer r.Body.Close()

	o.mu.RLock()
	h := o.notifyHandler
	o.mu.RUnlock()
	if h != nil {
		h(sid, body)
	}
	w.WriteHeader(http.StatusOK)
}

// isSafeSlotName guards against path traversal in the {slot} segment,
// normalizing first so an encoded/overlong dot-dot doesn't slip through.
func isSafeSlotName(name string) bool {
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "\\") {
		return false
	}
	normalized := norm.NFC.String(name)
	return !strings.Contains(normalized, "..")
}

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponent("streaming.origin")

	name := chi.URLParam(r, "slot")
	if !isSafeSlotName(name) {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	slot, ok := o.lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}

	info := slot.GetInfo()
	w.Header().Set("Content-Type", info.ContentType)
	if o.byteSeek {
		w.Header().Set("Accept-Ranges", "bytes")
	}

	var rng Range
	hasRange := false
	if o.byteSeek {
		if h := r.Header.Get("Range"); h != "" {
			parsed, err := ParseRange(h, info.FileLength)
			if err != nil {
				http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
				return
			}
			rng = parsed
			hasRange = true
		}
	}

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(info.FileLength, 10))
		return
	}

	if err := slot.Open(); err != nil {
		http.Error(w, "Locked", http.StatusLocked)
		return
	}
	defer slot.Close()

	if hasRange {
		slot.Seek(rng.Start, 0)
		w.Header().Set("Content-Range", FormatContentRange(rng, info.FileLength))
		w.WriteHeader(http.StatusPartialContent)
	}

	var total int64
	flusher, canFlush := w.(http.Flusher)
	for {
		chunk, err := slot.Read(64*1024, o.maxGetBytes, o.maxReadWaitIters)
		if err != nil {
			metrics.OriginUnderrunsTotal.WithLabelValues(name).Inc()
			logger.Warn().Err(err).Str("slot", name).Str("served", humanize.Bytes(uint64(total))).Msg("read underrun")
			return
		}
		if chunk == nil {
			logger.Info().Str("slot", name).Str("served", humanize.Bytes(uint64(total))).Msg("end of track")
			return
		}
		n, werr := w.Write(chunk)
		total += int64(n)
		metrics.OriginBytesServed.WithLabelValues(name).Add(float64(n))
		if werr != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}
