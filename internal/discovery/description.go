package discovery

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// deviceDescription mirrors the subset of a UPnP device description
// document the bridge reads: manufacturer, UDN, friendlyName,
// URLBase, presentationURL, plus the three service entries it needs.
type deviceDescription struct {
	XMLName xml.Name `xml:"root"`
	URLBase string   `xml:"URLBase"`
	Device  struct {
		DeviceType      string `xml:"deviceType"`
		FriendlyName    string `xml:"friendlyName"`
		Manufacturer    string `xml:"manufacturer"`
		UDN             string `xml:"UDN"`
		PresentationURL string `xml:"presentationURL"`
		ServiceList     struct {
			Service []ServiceDescription `xml:"service"`
		} `xml:"serviceList"`
	} `xml:"device"`
}

// ServiceDescription is one <service> entry from a device description
// document.
type ServiceDescription struct {
	ServiceType string `xml:"serviceType"`
	ServiceID   string `xml:"serviceId"`
	ControlURL  string `xml:"controlURL"`
	EventSubURL string `xml:"eventSubURL"`
	SCPDURL     string `xml:"SCPDURL"`
}

// ParsedDevice is the description data the registry's update worker needs
// to bring a renderer up or refresh it.
type ParsedDevice struct {
	UDN             string
	FriendlyName    string
	Manufacturer    string
	PresentationURL string
	URLBase         string
	Services        []ServiceDescription
	AcceptNextURI   bool
}

// incompatibleManufacturers is the fixed substring exclusion list of
// manufacturers known not to work as renderers.
var incompatibleManufacturers = []string{"Logitech"}

// FetchDescription downloads and parses a renderer's description.xml,
// then probes the AVTransport SCPD for a SetNextAVTransportURI action to
// fill AcceptNextURI when the description itself doesn't expose a flag.
func FetchDescription(ctx context.Context, client *http.Client, descriptionURL string) (*ParsedDevice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, descriptionURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc deviceDescription
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse description: %w", err)
	}

	for _, excluded := range incompatibleManufacturers {
		if strings.Contains(doc.Device.Manufacturer, excluded) {
			return nil, fmt.Errorf("manufacturer %q excluded", doc.Device.Manufacturer)
		}
	}

	pd := &ParsedDevice{
		UDN:             doc.Device.UDN,
		FriendlyName:    doc.Device.FriendlyName,
		Manufacturer:    doc.Device.Manufacturer,
		PresentationURL: doc.Device.PresentationURL,
		URLBase:         doc.URLBase,
		Services:        doc.Device.ServiceList.Service,
	}

	pd.AcceptNextURI = probeAcceptNextURI(ctx, client, pd)
	return pd, nil
}

func probeAcceptNextURI(ctx context.Context, client *http.Client, pd *ParsedDevice) bool {
	for _, svc := range pd.Services {
		if !strings.Contains(svc.ServiceType, "AVTransport") || svc.SCPDURL == "" {
			continue
		}
		scpdURL := resolveURL(pd.URLBase, svc.SCPDURL)
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, scpdURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		return strings.Contains(string(body), "SetNextAVTransportURI")
	}
	return false
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	base = strings.TrimSuffix(base, "/")
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return base + ref
}
