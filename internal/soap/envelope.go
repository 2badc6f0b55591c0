// Package soap builds and dispatches the AVTransport / RenderingControl /
// ConnectionManager SOAP actions the bridge needs, and
// implements the per-device action queue and at-most-one-outstanding-RPC
// facade.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Service URNs and SOAPACTION namespaces for the three services the
// bridge talks to.
const (
	AVTransportURN        = "urn:schemas-upnp-org:service:AVTransport:1"
	RenderingControlURN   = "urn:schemas-upnp-org:service:RenderingControl:1"
	ConnectionManagerURN  = "urn:schemas-upnp-org:service:ConnectionManager:1"
	soapEnvelopeNamespace = "http://schemas.xmlsoap.org/soap/envelope/"
	soapEncodingStyle     = "http://schemas.xmlsoap.org/soap/encoding/"
)

// UPnPError reports a SOAP fault translated from the renderer.
type UPnPError struct {
	Code        int
	Description string
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("upnp error %d: %s", e.Code, e.Description)
}

var ErrNoSOAPBody = errors.New("soap: response has no Body element")

// Client issues SOAP actions over HTTP with a bounded timeout, using a
// small purpose-built HTTP client rather than the shared default client.
// limiter caps the rate of outgoing RPCs sent through this Client; a
// Client shared by several devices shares one limit across all of them.
type Client struct {
	HTTP    *http.Client
	limiter *rate.Limiter
}

// NewClient returns a Client with a conservative per-request timeout and
// an RPC rate limit of 10/s with a burst of 5 for the whole Client; the bridge
// itself enforces the "no hard deadline, track via error counter" policy
// by not retrying here.
func NewClient() *Client {
	return &Client{
		HTTP:    &http.Client{Timeout: 5 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
}

// Invoke marshals actionBody (an already-built XML fragment, see
// actions.go) inside a SOAP envelope, posts it to controlURL with the
// given SOAPACTION header, and returns the raw response body.
func (c *Client) Invoke(ctx context.Context, controlURL, serviceURN, actionName string, actionBody string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("soap: rate limiter: %w", err)
	}

	env := fmt.Sprintf(
		`<?xml version="1.0" encoding="utf-8"?>`+
			`<s:Envelope xmlns:s="%s" s:encodingStyle="%s">`+
			`<s:Body>%s</s:Body></s:Envelope>`,
		soapEnvelopeNamespace, soapEncodingStyle, actionBody)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL, bytes.NewReader([]byte(env)))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", fmt.Sprintf(`"%s#%s"`, serviceURN, actionName))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		if upnpErr := parseSOAPFault(respBody); upnpErr != nil {
			return nil, upnpErr
		}
		return nil, fmt.Errorf("soap: %s failed with status %d", actionName, resp.StatusCode)
	}

	return respBody, nil
}

func parseSOAPFault(body []byte) *UPnPError {
	s := string(body)
	codeStart := strings.Index(s, "<errorCode>")
	if codeStart == -1 {
		return nil
	}
	codeStart += len("<errorCode>")
	codeEnd := strings.Index(s[codeStart:], "</errorCode>")
	if codeEnd == -1 {
		return nil
	}
	code, err := strconv.Atoi(s[codeStart : codeStart+codeEnd])
	if err != nil {
		return nil
	}
	desc := ""
	if ds := strings.Index(s, "<errorDescription>"); ds != -1 {
		ds += len("<errorDescription>")
		if de := strings.Index(s[ds:], "</errorDescription>"); de != -1 {
			desc = s[ds : ds+de]
		}
	}
	return &UPnPError{Code: code, Description: desc}
}

// extractResponse pulls the <s:Body> contents out of a SOAP response and
// unmarshals the inner element into v, stripping the "u:" action-result
// namespace prefix the way renderers commonly emit it.
func extractResponse(body []byte, v any) error {
	s := string(body)
	start := strings.Index(s, "<s:Body>")
	tagLen := len("<s:Body>")
	if start == -1 {
		start = strings.Index(s, "<Body>")
		tagLen = len("<Body>")
	}
	if start == -1 {
		return ErrNoSOAPBody
	}
	end := strings.Index(s, "</s:Body>")
	if end == -1 {
		end = strings.Index(s, "</Body>")
	}
	if end == -1 {
		return ErrNoSOAPBody
	}
	content := strings.TrimSpace(s[start+tagLen : end])
	content = strings.ReplaceAll(content, "u:", "")
	return xml.Unmarshal([]byte(content), v)
}
