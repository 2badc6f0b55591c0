package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDoc = `<?xml version="1.0"?>
<squeeze2upnp>
  <upnp_socket>eth0</upnp_socket>
  <scan_interval>15</scan_interval>
  <common>
    <enabled>1</enabled>
    <max_volume>100</max_volume>
    <codecs>flac,pcm,mp3</codecs>
  </common>
  <device udn="uuid:live-1" mac="aa:bb:cc:dd:ee:01" friendly_name="Kitchen">
    <name>Kitchen Speaker</name>
    <max_volume>80</max_volume>
  </device>
  <device udn="uuid:offline-1" mac="aa:bb:cc:dd:ee:02" friendly_name="Garage">
    <name>Garage Speaker</name>
    <foo bar="1">unmodeled payload</foo>
  </device>
</squeeze2upnp>
`

func TestLoad_MigratesLegacySocketField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	doc := s.Snapshot()
	require.Equal(t, "eth0", doc.Binding)
	require.Empty(t, doc.UnknownSocket)
}

func TestDeviceConfig_OverridesCommon(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	doc := s.Snapshot()

	cfg := DeviceConfig(doc, "uuid:live-1")
	require.Equal(t, "Kitchen Speaker", cfg.Name)
	require.Equal(t, 80, cfg.MaxVolume)          // overridden
	require.Equal(t, "flac,pcm,mp3", cfg.Codecs) // inherited from common, not overridden

	unknown := DeviceConfig(doc, "uuid:does-not-exist")
	require.Equal(t, 100, unknown.MaxVolume) // falls back to common
}

func TestSaveLoadRoundTrip_PreservesOfflineDeviceAndUnknownElement(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "squeeze2upnp.xml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDoc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)

	live := []LiveDevice{
		{UDN: "uuid:live-1", MAC: "aa:bb:cc:dd:ee:01", FriendlyName: "Kitchen", Name: "Kitchen Speaker (renamed)", Server: "192.168.1.10"},
	}
	require.NoError(t, s.Save(path, live, false))

	reloaded, err := Load(path)
	require.NoError(t, err)
	doc := reloaded.Snapshot()

	require.Len(t, doc.Devices, 2)

	var liveDev, offlineDev *Device
	for i := range doc.Devices {
		switch doc.Devices[i].UDN {
		case "uuid:live-1":
			liveDev = &doc.Devices[i]
		case "uuid:offline-1":
			offlineDev = &doc.Devices[i]
		}
	}
	require.NotNil(t, liveDev)
	require.NotNil(t, offlineDev)

	require.Equal(t, "Kitchen Speaker (renamed)", liveDev.Name)
	require.Equal(t, "192.168.1.10", liveDev.Server)
	require.Equal(t, 80, *liveDev.MaxVolume, "untouched override survives the merge")

	require.Equal(t, "Garage Speaker", offlineDev.Name)
	require.Len(t, offlineDev.Unknown, 1)
	require.Equal(t, "foo", offlineDev.Unknown[0].XMLName.Local)
	require.Equal(t, "unmodeled payload", offlineDev.Unknown[0].Inner)
}

func TestLoad_MissingFileReturnsErrorAndUsableDefaults(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "does-not-exist.xml"))
	require.Error(t, err)

	cfg := DeviceConfig(s.Snapshot(), "uuid:anything")
	require.True(t, cfg.Enabled)
	require.Equal(t, 100, cfg.MaxVolume)
}
