package soap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lms2upnp/bridge/internal/model"
)

func okSOAPServer(t *testing.T, delay time.Duration, action string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", `text/xml; charset="utf-8"`)
		w.Write([]byte(`<?xml version="1.0"?><s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">` +
			`<s:Body><u:` + action + `Response xmlns:u="urn:schemas-upnp-org:service:AVTransport:1"></u:` + action + `Response></s:Body></s:Envelope>`))
	}))
}

func TestSubmitSerializesOneOutstandingRPC(t *testing.T) {
	srv := okSOAPServer(t, 30*time.Millisecond, "Play")
	defer srv.Close()

	r := &model.Renderer{}
	c := NewClient()

	var mu sync.Mutex
	var order []uint64
	done := make(chan struct{}, 3)
	onComplete := func(cookie uint64, err error) {
		require.NoError(t, err)
		mu.Lock()
		order = append(order, cookie)
		mu.Unlock()
		done <- struct{}{}
	}

	doc := Play(srv.URL)
	Submit(context.Background(), c, r, doc, onComplete)
	Submit(context.Background(), c, r, doc, onComplete)
	Submit(context.Background(), c, r, doc, onComplete)

	// Only the first should have dispatched immediately; the rest queue.
	r.Mu.Lock()
	queued := len(r.WireQueue)
	r.Mu.Unlock()
	require.Equal(t, 2, queued)

	for i := 0; i < 3; i++ {
		<-done
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint64{1, 2, 3}, order)

	r.Mu.Lock()
	defer r.Mu.Unlock()
	require.Equal(t, uint64(0), r.WaitCookie)
	require.Equal(t, uint64(3), r.LastAck)
	require.Empty(t, r.WireQueue)
}

func TestForceStopFlushesQueue(t *testing.T) {
	srv := okSOAPServer(t, 30*time.Millisecond, "Stop")
	defer srv.Close()

	r := &model.Renderer{}
	c := NewClient()

	Submit(context.Background(), c, r, Play(srv.URL), nil)
	Submit(context.Background(), c, r, Play(srv.URL), nil)

	r.Mu.Lock()
	require.Equal(t, 1, len(r.WireQueue))
	r.Mu.Unlock()

	done := make(chan struct{})
	ForceStop(context.Background(), c, r, Stop(srv.URL), func(cookie uint64, err error) {
		require.NoError(t, err)
		close(done)
	})

	r.Mu.Lock()
	require.Empty(t, r.WireQueue)
	r.Mu.Unlock()

	<-done
}
