package config

import (
	"encoding/xml"
	"os"
)

// LiveDevice is the current runtime snapshot of a device the save needs
// to persist: its identity plus the fields that may have changed at
// runtime (friendly name, server, name) — everything else in its
// Common block is written back unchanged from the previous load unless
// explicitly carried forward here.
type LiveDevice struct {
	UDN          string
	MAC          string
	FriendlyName string
	Name         string
	Server       string
}

// Save rewrites the document to path. When full is false, only the
// UDN/MAC/FriendlyName/Name/Server fields of currently-live devices are
// refreshed over their previously-loaded Common block; every device in
// the previously loaded document whose UDN is not in live is re-appended
// unchanged, so offline devices persist.
// When full is true, the Devices list is replaced outright with live
// devices only, discarding any offline entries.
func (s *Store) Save(path string, live []LiveDevice, full bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if full {
		devices := make([]Device, 0, len(live))
		for _, l := range live {
			devices = append(devices, Device{UDN: l.UDN, MAC: l.MAC, FriendlyName: l.FriendlyName})
		}
		s.doc.Devices = devices
	} else {
		s.doc.Devices = mergeDevices(s.doc.Devices, live)
	}

	data, err := xml.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return err
	}
	data = append([]byte(xml.Header), data...)

	return os.WriteFile(path, data, 0o644)
}

// mergeDevices implements the "full=false" merge: strip and
// rewrite every device entry for currently-live devices (keeping their
// previously loaded Common overrides, refreshing only the runtime-
// observed identity fields), then re-append every previously loaded
// device whose UDN is not currently live.
func mergeDevices(previous []Device, live []LiveDevice) []Device {
	liveByUDN := make(map[string]LiveDevice, len(live))
	for _, l := range live {
		liveByUDN[l.UDN] = l
	}

	prevByUDN := make(map[string]Device, len(previous))
	for _, d := range previous {
		prevByUDN[d.UDN] = d
	}

	out := make([]Device, 0, len(live)+len(previous))

	for _, l := range live {
		dev := prevByUDN[l.UDN] // zero value if this is a newly discovered device
		dev.UDN = l.UDN
		if l.MAC != "" {
			dev.MAC = l.MAC
		}
		if l.FriendlyName != "" {
			dev.FriendlyName = l.FriendlyName
		}
		if l.Name != "" {
			dev.Name = l.Name
		}
		if l.Server != "" {
			dev.Server = l.Server
		}
		out = append(out, dev)
	}

	for _, d := range previous {
		if _, isLive := liveByUDN[d.UDN]; isLive {
			continue
		}
		out = append(out, d) // offline device, preserved verbatim
	}

	return out
}
