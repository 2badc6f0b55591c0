package soap

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"github.com/lms2upnp/bridge/internal/model"
)

func xmlEscape(s string) string { return html.EscapeString(s) }

// SetAVTransportURI builds the action that points a renderer at a new
// stream URL with DIDL metadata.
func SetAVTransportURI(controlURL, uri, didl string) model.SOAPDoc {
	body := fmt.Sprintf(
		`<u:SetAVTransportURI xmlns:u="%s"><InstanceID>0</InstanceID>`+
			`<CurrentURI>%s</CurrentURI><CurrentURIMetaData>%s</CurrentURIMetaData>`+
			`</u:SetAVTransportURI>`,
		AVTransportURN, xmlEscape(uri), xmlEscape(didl))
	return model.SOAPDoc{ServiceURN: AVTransportURN, Action: "SetAVTransportURI", ControlURL: controlURL, Body: body}
}

// SetNextAVTransportURI builds the gapless "queue next track" action.
func SetNextAVTransportURI(controlURL, uri, didl string) model.SOAPDoc {
	body := fmt.Sprintf(
		`<u:SetNextAVTransportURI xmlns:u="%s"><InstanceID>0</InstanceID>`+
			`<NextURI>%s</NextURI><NextURIMetaData>%s</NextURIMetaData>`+
			`</u:SetNextAVTransportURI>`,
		AVTransportURN, xmlEscape(uri), xmlEscape(didl))
	return model.SOAPDoc{ServiceURN: AVTransportURN, Action: "SetNextAVTransportURI", ControlURL: controlURL, Body: body}
}

func simpleAVT(controlURL, action, extra string) model.SOAPDoc {
	body := fmt.Sprintf(`<u:%s xmlns:u="%s"><InstanceID>0</InstanceID>%s</u:%s>`,
		action, AVTransportURN, extra, action)
	return model.SOAPDoc{ServiceURN: AVTransportURN, Action: action, ControlURL: controlURL, Body: body}
}

func Play(controlURL string) model.SOAPDoc  { return simpleAVT(controlURL, "Play", "<Speed>1</Speed>") }
func Pause(controlURL string) model.SOAPDoc { return simpleAVT(controlURL, "Pause", "") }
func Stop(controlURL string) model.SOAPDoc  { return simpleAVT(controlURL, "Stop", "") }
func Next(controlURL string) model.SOAPDoc  { return simpleAVT(controlURL, "Next", "") }

func SetPlayMode(controlURL, mode string) model.SOAPDoc {
	return simpleAVT(controlURL, "SetPlayMode", fmt.Sprintf("<NewPlayMode>%s</NewPlayMode>", xmlEscape(mode)))
}

// Seek builds a REL_TIME seek action. target must already be "H:MM:SS".
func Seek(controlURL, target string) model.SOAPDoc {
	extra := fmt.Sprintf("<Unit>REL_TIME</Unit><Target>%s</Target>", xmlEscape(target))
	return simpleAVT(controlURL, "Seek", extra)
}

func GetPositionInfo(controlURL string) model.SOAPDoc {
	return simpleAVT(controlURL, "GetPositionInfo", "")
}
func GetTransportInfo(controlURL string) model.SOAPDoc {
	return simpleAVT(controlURL, "GetTransportInfo", "")
}
func GetMediaInfo(controlURL string) model.SOAPDoc { return simpleAVT(controlURL, "GetMediaInfo", "") }

// SetVolume/SetMute/GetVolume target RenderingControl, not AVTransport.
func SetVolume(controlURL string, desired int) model.SOAPDoc {
	body := fmt.Sprintf(
		`<u:SetVolume xmlns:u="%s"><InstanceID>0</InstanceID><Channel>Master</Channel>`+
			`<DesiredVolume>%d</DesiredVolume></u:SetVolume>`,
		RenderingControlURN, desired)
	return model.SOAPDoc{ServiceURN: RenderingControlURN, Action: "SetVolume", ControlURL: controlURL, Body: body}
}

func SetMute(controlURL string, muted bool) model.SOAPDoc {
	val := "0"
	if muted {
		val = "1"
	}
	body := fmt.Sprintf(
		`<u:SetMute xmlns:u="%s"><InstanceID>0</InstanceID><Channel>Master</Channel>`+
			`<DesiredMute>%s</DesiredMute></u:SetMute>`,
		RenderingControlURN, val)
	return model.SOAPDoc{ServiceURN: RenderingControlURN, Action: "SetMute", ControlURL: controlURL, Body: body}
}

func GetVolume(controlURL string) model.SOAPDoc {
	body := fmt.Sprintf(`<u:GetVolume xmlns:u="%s"><InstanceID>0</InstanceID><Channel>Master</Channel></u:GetVolume>`,
		RenderingControlURN)
	return model.SOAPDoc{ServiceURN: RenderingControlURN, Action: "GetVolume", ControlURL: controlURL, Body: body}
}

func GetProtocolInfo(controlURL string) model.SOAPDoc {
	body := fmt.Sprintf(`<u:GetProtocolInfo xmlns:u="%s"></u:GetProtocolInfo>`, ConnectionManagerURN)
	return model.SOAPDoc{ServiceURN: ConnectionManagerURN, Action: "GetProtocolInfo", ControlURL: controlURL, Body: body}
}

// --- Response shapes -------------------------------------------------

type PositionInfoResponse struct {
	Track         int    `xml:"Track"`
	TrackDuration string `xml:"TrackDuration"`
	TrackMetaData string `xml:"TrackMetaData"`
	TrackURI      string `xml:"TrackURI"`
	RelTime       string `xml:"RelTime"`
	AbsTime       string `xml:"AbsTime"`
}

type TransportInfoResponse struct {
	CurrentTransportState  string `xml:"CurrentTransportState"`
	CurrentTransportStatus string `xml:"CurrentTransportStatus"`
	CurrentSpeed           string `xml:"CurrentSpeed"`
}

type VolumeResponse struct {
	CurrentVolume int `xml:"CurrentVolume"`
}

type ProtocolInfoResponse struct {
	Source string `xml:"Source"`
	Sink   string `xml:"Sink"`
}

// Do executes a built SOAPDoc and unmarshals its response into v (nil to
// discard the body, as with action-only calls like Play/Pause/Stop).
func Do(ctx context.Context, c *Client, d model.SOAPDoc, v any) error {
	respBody, err := c.Invoke(ctx, d.ControlURL, d.ServiceURN, d.Action, d.Body)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return extractResponse(respBody, v)
}

// RelTimeToMillis parses an "HH:MM:SS" or "H:MM:SS" RelTime/AbsTime
// string into milliseconds.
func RelTimeToMillis(relTime string) int64 {
	parts := strings.Split(strings.TrimSpace(relTime), ":")
	if len(parts) != 3 {
		return 0
	}
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	secParts := strings.SplitN(parts[2], ".", 2)
	s, _ := strconv.Atoi(secParts[0])
	total := int64(h)*3600 + int64(m)*60 + int64(s)
	return total * 1000
}

// MillisToSeekTarget formats milliseconds as the "H:MM:SS" REL_TIME
// target Seek expects.
func MillisToSeekTarget(ms int64) string {
	totalSeconds := (ms + 500) / 1000
	h := totalSeconds / 3600
	m := (totalSeconds % 3600) / 60
	s := totalSeconds % 60
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
