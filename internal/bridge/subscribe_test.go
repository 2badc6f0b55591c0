package bridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lms2upnp/bridge/internal/model"
)

func genaServer(t *testing.T, sid string, timeoutHeader string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("SID", sid)
		w.Header().Set("TIMEOUT", timeoutHeader)
		w.WriteHeader(http.StatusOK)
	}))
}

func TestSubscribeRenderingControl_StoresGrantAndRegistersSID(t *testing.T) {
	srv := genaServer(t, "uuid:sub-1", "Second-180")
	defer srv.Close()

	d := newTestDevice(t, "http://unused")
	d.R.IPv4 = "127.0.0.1"
	d.R.Services[model.ServiceRendering] = model.Service{EventSubscribeURL: srv.URL}

	d.subscribeRenderingControl(context.Background(), "9999")

	d.R.Mu.Lock()
	svc := d.R.Services[model.ServiceRendering]
	d.R.Mu.Unlock()

	require.Equal(t, "uuid:sub-1", svc.SubscriptionID)
	require.Equal(t, 180, svc.TimeoutSeconds)
	require.False(t, d.nextRenewAt.IsZero())

	got, ok := subsByID["uuid:sub-1"]
	require.True(t, ok)
	require.Same(t, d, got)

	unsubscribeRenderingControl(d)
	_, stillThere := subsByID["uuid:sub-1"]
	require.False(t, stillThere)
}

func TestSubscribeRenderingControl_NoEventSubURLSkips(t *testing.T) {
	d := newTestDevice(t, "http://unused")
	d.R.Services[model.ServiceRendering] = model.Service{}

	d.subscribeRenderingControl(context.Background(), "9999")

	require.True(t, d.nextRenewAt.IsZero())
}

func TestSubscribeRenderingControl_NoCallbackPortSkips(t *testing.T) {
	d := newTestDevice(t, "http://unused")
	d.R.Services[model.ServiceRendering] = model.Service{EventSubscribeURL: "http://renderer/sub"}

	d.subscribeRenderingControl(context.Background(), "")

	require.True(t, d.nextRenewAt.IsZero())
}

func TestSubscribeRenderingControl_FailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := newTestDevice(t, "http://unused")
	d.R.IPv4 = "127.0.0.1"
	d.R.Services[model.ServiceRendering] = model.Service{EventSubscribeURL: srv.URL}

	d.subscribeRenderingControl(context.Background(), "9999")

	require.False(t, d.nextRenewAt.IsZero())
	require.WithinDuration(t, time.Now().Add(retryBackoff), d.nextRenewAt, 5*time.Second)
}

func TestMaybeRenewSubscription_NoOpBeforeDue(t *testing.T) {
	d := newTestDevice(t, "http://unused")
	d.R.Services[model.ServiceRendering] = model.Service{EventSubscribeURL: "http://renderer/sub", SubscriptionID: "uuid:sub-1"}
	d.nextRenewAt = time.Now().Add(time.Hour)

	d.maybeRenewSubscription(context.Background())

	d.R.Mu.Lock()
	svc := d.R.Services[model.ServiceRendering]
	d.R.Mu.Unlock()
	require.Equal(t, 0, svc.TimeoutSeconds)
}

func TestMaybeRenewSubscription_RenewsWhenDue(t *testing.T) {
	srv := genaServer(t, "uuid:sub-1", "Second-300")
	defer srv.Close()

	d := newTestDevice(t, "http://unused")
	d.R.Services[model.ServiceRendering] = model.Service{EventSubscribeURL: srv.URL, SubscriptionID: "uuid:sub-1"}
	d.nextRenewAt = time.Now().Add(-time.Second)

	d.maybeRenewSubscription(context.Background())

	d.R.Mu.Lock()
	svc := d.R.Services[model.ServiceRendering]
	d.R.Mu.Unlock()
	require.Equal(t, 300, svc.TimeoutSeconds)
	require.True(t, d.nextRenewAt.After(time.Now()))
}

func TestBuildCallbackURL_UsesRouteableLocalAddr(t *testing.T) {
	url, err := buildCallbackURL("127.0.0.1", "9999")
	require.NoError(t, err)
	require.Contains(t, url, ":9999")
	require.Contains(t, url, "/notify")
}

func TestHandleNotify_UnknownSIDIsIgnored(t *testing.T) {
	HandleNotify("uuid:does-not-exist", []byte("<e:propertyset/>"))
}
