package didl

import (
	"fmt"
	"html"

	"github.com/lms2upnp/bridge/internal/model"
)

// BuildMetadata synthesizes a compact DIDL-Lite document describing one
// track for a SetAVTransportURI/SetNextAVTransportURI call.
// trackURL already carries the negotiated protocolInfo's content-type by
// construction; protocolInfo is embedded verbatim in the <res> element.
func BuildMetadata(track model.TrackMetadata, trackURL, protocolInfo string) string {
	class := "object.item.audioItem.musicTrack"
	var durationAttr string
	if track.DurationMS > 0 {
		durationAttr = fmt.Sprintf(` duration="%s"`, MillisToDuration(track.DurationMS))
	} else {
		class = "object.item.audioItem.audioBroadcast"
	}

	var genre, art, artist, album, trackNum string
	if track.Genre != "" {
		genre = fmt.Sprintf("<upnp:genre>%s</upnp:genre>", html.EscapeString(track.Genre))
	}
	if track.AlbumArtURI != "" {
		art = fmt.Sprintf("<upnp:albumArtURI>%s</upnp:albumArtURI>", html.EscapeString(track.AlbumArtURI))
	}
	if track.Artist != "" {
		artist = fmt.Sprintf("<upnp:artist>%s</upnp:artist><dc:creator>%s</dc:creator>",
			html.EscapeString(track.Artist), html.EscapeString(track.Artist))
	}
	if track.Album != "" {
		album = fmt.Sprintf("<upnp:album>%s</upnp:album>", html.EscapeString(track.Album))
	}
	if track.TrackNumber > 0 {
		trackNum = fmt.Sprintf("<upnp:originalTrackNumber>%d</upnp:originalTrackNumber>", track.TrackNumber)
	}

	res := fmt.Sprintf(`<res protocolInfo="%s"%s>%s</res>`,
		html.EscapeString(protocolInfo), durationAttr, html.EscapeString(trackURL))

	return fmt.Sprintf(
		`<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" `+
			`xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" `+
			`xmlns:dlna="urn:schemas-dlna-org:metadata-1-0/" `+
			`xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">`+
			`<item id="1" parentID="0" restricted="1">`+
			`<dc:title>%s</dc:title>%s%s%s%s%s`+
			`<upnp:class>%s</upnp:class>%s`+
			`</item></DIDL-Lite>`,
		html.EscapeString(track.Title), genre, art, artist, album, trackNum, class, res)
}
