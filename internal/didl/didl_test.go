package didl

import (
	"strings"
	"testing"

	"github.com/lms2upnp/bridge/internal/model"
)

func TestBuildMetadataFiniteDurationUsesMusicTrack(t *testing.T) {
	track := model.TrackMetadata{Title: "Song", Artist: "Artist", DurationMS: 3723456}
	xmlDoc := BuildMetadata(track, "http://host/LMS2UPNP/aa-idx-0", "http-get:*:audio/mp3:*")

	if !strings.Contains(xmlDoc, "object.item.audioItem.musicTrack") {
		t.Fatalf("expected musicTrack class, got %s", xmlDoc)
	}
	if !strings.Contains(xmlDoc, `duration="1:02:03.456"`) {
		t.Fatalf("expected duration attribute, got %s", xmlDoc)
	}
}

func TestBuildMetadataLiveStreamUsesAudioBroadcast(t *testing.T) {
	track := model.TrackMetadata{Title: "Live"}
	xmlDoc := BuildMetadata(track, "http://host/LMS2UPNP/aa-idx-0", "http-get:*:audio/mp3:*")

	if !strings.Contains(xmlDoc, "object.item.audioItem.audioBroadcast") {
		t.Fatalf("expected audioBroadcast class for duration=0, got %s", xmlDoc)
	}
	if strings.Contains(xmlDoc, "duration=") {
		t.Fatalf("expected no duration attribute for live stream, got %s", xmlDoc)
	}
}

func TestMillisToDurationZeroPadded(t *testing.T) {
	if got := MillisToDuration(3723456); got != "1:02:03.456" {
		t.Fatalf("got %s", got)
	}
	if got := MillisToDuration(5000); got != "0:00:05.000" {
		t.Fatalf("got %s", got)
	}
}
