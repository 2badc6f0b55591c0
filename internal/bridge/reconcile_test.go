package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lms2upnp/bridge/internal/didl"
	"github.com/lms2upnp/bridge/internal/lms"
	"github.com/lms2upnp/bridge/internal/model"
	"github.com/lms2upnp/bridge/internal/soap"
	"github.com/lms2upnp/bridge/internal/streaming"
)

// TestMain verifies no device goroutine survives past its owning test,
// since every test here either drives d.loop() directly or exercises
// code that spawns one via go dispatch(...) in internal/soap.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingEvents struct {
	plays        int32
	unsolicited  int32
	trackChanges int32
	stops        int32
}

func (e *recordingEvents) OnPlay(_ string, unsolicited bool) {
	atomic.AddInt32(&e.plays, 1)
	if unsolicited {
		atomic.AddInt32(&e.unsolicited, 1)
	}
}
func (e *recordingEvents) OnPause(string, bool)  {}
func (e *recordingEvents) OnStop(string)         { atomic.AddInt32(&e.stops, 1) }
func (e *recordingEvents) OnTrackChange(string)  { atomic.AddInt32(&e.trackChanges, 1) }
func (e *recordingEvents) OnTime(string, uint32) {}
func (e *recordingEvents) OnVolume(string, int)  {}

func okSOAPServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:Resp xmlns:u="x"></u:Resp></s:Body></s:Envelope>`))
	}))
}

func newTestDevice(t *testing.T, controlURL string) *Device {
	t.Helper()
	r := &model.Renderer{
		UDN:           "uuid:test",
		PlayerHandle:  "handle-1",
		State:         model.StateStopped,
		PreviousState: model.StateStopped,
		Intent:        model.IntentStop,
		Enabled:       true,
		Config:        model.DeviceConfig{MaxVolume: 100},
	}
	r.Services[model.ServiceTransport] = model.Service{ControlURL: controlURL}

	ctx, cancel := context.WithCancel(context.Background())
	events := &recordingEvents{}
	d := &Device{
		R:          r,
		soapClient: soap.NewClient(),
		matchCache: didl.NewMatchCache(),
		origin:     streaming.NewOrigin(1000, 65536, false),
		events:     events,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		intentFSM:  newIntentFSM(r.Intent),
	}
	t.Cleanup(func() { d.matchCache.Stop() })
	return d
}

func TestSyncNotifState_StoppedWithNoNextNotifiesStop(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.State = model.StatePlaying
	d.R.PreviousState = model.StatePlaying

	d.syncNotifState(model.StateStopped)

	ev := d.events.(*recordingEvents)
	require.EqualValues(t, 1, atomic.LoadInt32(&ev.stops))
}

func TestSyncNotifState_UnsolicitedResume(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.Intent = model.IntentPause
	d.R.State = model.StatePaused
	d.R.PreviousState = model.StatePaused
	d.R.Config.VolumeOnPlay = -1 // suppress the reassert RPC for this test

	d.syncNotifState(model.StatePlaying)

	ev := d.events.(*recordingEvents)
	require.EqualValues(t, 1, atomic.LoadInt32(&ev.plays))
	require.EqualValues(t, 1, atomic.LoadInt32(&ev.unsolicited))
}

func TestSyncNotifState_NonGaplessFabricatesSetURIThenOrderedPlay(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.State = model.StatePlaying
	d.R.PreviousState = model.StatePlaying
	d.R.AcceptNextURI = false
	d.R.NextURI = "http://origin/mac-idx-1"

	d.syncNotifState(model.StateStopped)

	// Wait for the async SetAVTransportURI dispatch to land the ordered
	// PLAY on the queue.
	require.Eventually(t, func() bool {
		d.R.Mu.Lock()
		defer d.R.Mu.Unlock()
		return len(d.R.Queue) == 1
	}, time.Second, 5*time.Millisecond)

	d.R.Mu.Lock()
	head := d.R.Queue[0]
	current := d.R.CurrentURI
	next := d.R.NextURI
	d.R.Mu.Unlock()

	require.Equal(t, model.ActionPlay, head.Action)
	require.True(t, head.Ordered)
	require.Equal(t, "http://origin/mac-idx-1", current)
	require.Empty(t, next)

	ev := d.events.(*recordingEvents)
	require.EqualValues(t, 1, atomic.LoadInt32(&ev.trackChanges))
}

func TestSyncNotifState_GaplessNudgesQueueNext(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.State = model.StatePlaying
	d.R.PreviousState = model.StatePlaying
	d.R.AcceptNextURI = true
	d.R.NextURI = "http://origin/mac-idx-1"

	d.syncNotifState(model.StateStopped)

	d.R.Mu.Lock()
	defer d.R.Mu.Unlock()
	require.Len(t, d.R.Queue, 1)
	require.Equal(t, model.ActionNext, d.R.Queue[0].Action)
	require.False(t, d.R.Queue[0].Ordered)
}

func TestCheckGaplessTrackChange_MatchingTrackURIPromotesAndNotifies(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.State = model.StatePlaying
	d.R.PreviousState = model.StatePlaying
	d.R.AcceptNextURI = true
	d.R.CurrentURI = "http://origin/mac-idx-0"
	d.R.NextURI = "http://origin/mac-idx-1"
	d.R.LastTrackURI = "http://origin/mac-idx-1"

	d.syncNotifState(model.StatePlaying)

	d.R.Mu.Lock()
	current := d.R.CurrentURI
	next := d.R.NextURI
	d.R.Mu.Unlock()

	require.Equal(t, "http://origin/mac-idx-1", current)
	require.Empty(t, next)

	ev := d.events.(*recordingEvents)
	require.EqualValues(t, 1, atomic.LoadInt32(&ev.trackChanges))
}

func TestCheckGaplessTrackChange_NoMatchLeavesQueueAlone(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.State = model.StatePlaying
	d.R.PreviousState = model.StatePlaying
	d.R.AcceptNextURI = true
	d.R.NextURI = "http://origin/mac-idx-1"
	d.R.LastTrackURI = "http://origin/mac-idx-0"

	d.syncNotifState(model.StatePlaying)

	d.R.Mu.Lock()
	next := d.R.NextURI
	d.R.Mu.Unlock()

	require.Equal(t, "http://origin/mac-idx-1", next)

	ev := d.events.(*recordingEvents)
	require.Zero(t, atomic.LoadInt32(&ev.trackChanges))
}

func TestDrainQueue_OrderedActionGatesOnLastAck(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.Queue = []model.QueuedAction{{Action: model.ActionPlay, Cookie: 5, Ordered: true}}
	d.R.LastAck = 4 // not yet acknowledged

	d.drainQueue()

	d.R.Mu.Lock()
	require.Len(t, d.R.Queue, 1, "ordered action with unacknowledged cookie must stay queued")
	d.R.Mu.Unlock()

	d.R.Mu.Lock()
	d.R.LastAck = 5
	d.R.Mu.Unlock()

	d.drainQueue()

	require.Eventually(t, func() bool {
		d.R.Mu.Lock()
		defer d.R.Mu.Unlock()
		return len(d.R.Queue) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestStop_BypassesQueueAndFlushesIt(t *testing.T) {
	srv := okSOAPServer(t)
	defer srv.Close()

	d := newTestDevice(t, srv.URL)
	d.R.Queue = []model.QueuedAction{{Action: model.ActionPlay, Ordered: false}}
	d.R.Intent = model.IntentPlay

	require.NoError(t, d.Stop(context.Background()))

	d.R.Mu.Lock()
	defer d.R.Mu.Unlock()
	require.Empty(t, d.R.Queue)
	require.Equal(t, model.IntentStop, d.R.Intent)
}
