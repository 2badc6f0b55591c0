package soap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubscribe_SendsCallbackAndParsesGrant(t *testing.T) {
	var gotMethod, gotCallback, gotNT, gotTimeout string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotCallback = r.Header.Get("CALLBACK")
		gotNT = r.Header.Get("NT")
		gotTimeout = r.Header.Get("TIMEOUT")
		w.Header().Set("SID", "uuid:abc-123")
		w.Header().Set("TIMEOUT", "Second-180")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	sub, err := Subscribe(context.Background(), c, srv.URL, "http://127.0.0.1:9/LMS2UPNP/notify", 300)
	require.NoError(t, err)
	require.Equal(t, "SUBSCRIBE", gotMethod)
	require.Equal(t, "<http://127.0.0.1:9/LMS2UPNP/notify>", gotCallback)
	require.Equal(t, "upnp:event", gotNT)
	require.Equal(t, "Second-300", gotTimeout)
	require.Equal(t, "uuid:abc-123", sub.SID)
	require.Equal(t, 180, sub.TimeoutSeconds)
}

func TestSubscribe_MissingSIDIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := Subscribe(context.Background(), c, srv.URL, "http://127.0.0.1:9/LMS2UPNP/notify", 300)
	require.ErrorIs(t, err, ErrNoSID)
}

func TestRenew_SendsSIDNotCallback(t *testing.T) {
	var gotSID, gotCallback string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSID = r.Header.Get("SID")
		gotCallback = r.Header.Get("CALLBACK")
		w.Header().Set("SID", "uuid:abc-123")
		w.Header().Set("TIMEOUT", "Second-300")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	sub, err := Renew(context.Background(), c, srv.URL, "uuid:abc-123", 300)
	require.NoError(t, err)
	require.Equal(t, "uuid:abc-123", gotSID)
	require.Empty(t, gotCallback)
	require.Equal(t, 300, sub.TimeoutSeconds)
}

func TestUnsubscribe_SendsSID(t *testing.T) {
	var gotMethod, gotSID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotSID = r.Header.Get("SID")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient()
	require.NoError(t, Unsubscribe(context.Background(), c, srv.URL, "uuid:abc-123"))
	require.Equal(t, "UNSUBSCRIBE", gotMethod)
	require.Equal(t, "uuid:abc-123", gotSID)
}

func TestParseTimeoutHeader(t *testing.T) {
	require.Equal(t, 300, parseTimeoutHeader("Second-300"))
	require.Equal(t, 300, parseTimeoutHeader("Second-infinite"))
	require.Equal(t, 300, parseTimeoutHeader(""))
	require.Equal(t, 60, parseTimeoutHeader("Second-60"))
}
