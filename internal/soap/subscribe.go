package soap

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// ErrNoSID is returned by Subscribe/Renew when the renderer's response
// carries no SID header.
var ErrNoSID = fmt.Errorf("soap: subscribe response missing SID header")

// Subscription is the renderer-assigned state of one GENA event
// subscription.
type Subscription struct {
	SID            string
	TimeoutSeconds int
}

// Subscribe issues a GENA SUBSCRIBE against eventSubURL, asking the
// renderer to NOTIFY callbackURL for timeoutSeconds. Renderers are free
// to grant a shorter timeout than requested; the caller must use the
// TimeoutSeconds this returns to schedule renewal, not the value it
// asked for.
func Subscribe(ctx context.Context, c *Client, eventSubURL, callbackURL string, timeoutSeconds int) (Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return Subscription{}, err
	}
	req.Header.Set("CALLBACK", "<"+callbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))
	return doSubscribe(c, req)
}

// Renew re-issues a SUBSCRIBE carrying the existing SID instead of a
// CALLBACK/NT pair, as GENA requires for subscription renewal.
func Renew(ctx context.Context, c *Client, eventSubURL, sid string, timeoutSeconds int) (Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return Subscription{}, err
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", fmt.Sprintf("Second-%d", timeoutSeconds))
	return doSubscribe(c, req)
}

// Unsubscribe issues a GENA UNSUBSCRIBE, releasing sid. Renderers
// commonly drop subscriptions on device teardown anyway, but an
// explicit unsubscribe avoids leaving one live against a renderer that
// stays up after the bridge lets go of it.
func Unsubscribe(ctx context.Context, c *Client, eventSubURL, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", eventSubURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("SID", sid)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("soap: unsubscribe failed with status %d", resp.StatusCode)
	}
	return nil
}

func doSubscribe(c *Client, req *http.Request) (Subscription, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Subscription{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Subscription{}, fmt.Errorf("soap: subscribe failed with status %d", resp.StatusCode)
	}

	sid := resp.Header.Get("SID")
	if sid == "" {
		return Subscription{}, ErrNoSID
	}
	return Subscription{SID: sid, TimeoutSeconds: parseTimeoutHeader(resp.Header.Get("TIMEOUT"))}, nil
}

// parseTimeoutHeader parses a "Second-300" GENA TIMEOUT header,
// defaulting to 300 for a malformed or "Second-infinite" value so a
// renewal timer always has something sane to schedule against.
func parseTimeoutHeader(h string) int {
	const def = 300
	_, secs, ok := strings.Cut(h, "-")
	if !ok {
		return def
	}
	n, err := strconv.Atoi(secs)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
