// Package discovery implements the multicast SSDP search client and the
// device registry: periodic scans, description-document fetch/parse, and
// renderer add/refresh/evict under concurrent access.
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/lms2upnp/bridge/internal/log"
)

const (
	ssdpMulticastAddr = "239.255.255.250:1900"
	mediaRendererType = "urn:schemas-upnp-org:device:MediaRenderer:1"
)

// SearchResult is one M-SEARCH response: just enough to queue a
// description fetch.
type SearchResult struct {
	DescriptionURL string
	RemoteAddr     string
}

// Search issues one SSDP M-SEARCH for media renderers and collects
// responses for scanTimeout, joining the multicast group on every
// multicast-capable, up, non-loopback interface — SSDP
// announcer socket setup run in reverse (search instead of announce).
func Search(ctx context.Context, scanTimeout time.Duration) ([]SearchResult, error) {
	logger := log.WithComponent("discovery")

	addr, err := net.ResolveUDPAddr("udp4", ssdpMulticastAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve multicast address: %w", err)
	}

	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return nil, fmt.Errorf("listen udp: %w", err)
	}
	defer conn.Close()

	udpConn, ok := conn.(*net.UDPConn)
	if !ok {
		return nil, fmt.Errorf("expected *net.UDPConn")
	}
	p := ipv4.NewPacketConn(udpConn)
	_ = p.SetMulticastTTL(4)

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	joined := 0
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(&iface, &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250)}); err == nil {
			joined++
		}
	}
	if joined == 0 {
		logger.Warn().Msg("no interface joined the SSDP multicast group")
	}

	search := fmt.Sprintf("M-SEARCH * HTTP/1.1\r\n"+
		"HOST: 239.255.255.250:1900\r\n"+
		"MAN: \"ssdp:discover\"\r\n"+
		"MX: %d\r\n"+
		"ST: %s\r\n\r\n", int(scanTimeout.Seconds()), mediaRendererType)

	if _, err := udpConn.WriteToUDP([]byte(search), addr); err != nil {
		return nil, fmt.Errorf("send m-search: %w", err)
	}

	deadline := time.Now().Add(scanTimeout)
	_ = udpConn.SetReadDeadline(deadline)

	var results []SearchResult
	buf := make([]byte, 2048)
	for {
		n, remote, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			break // deadline exceeded or context closed connection
		}
		loc := parseLocationHeader(buf[:n])
		if loc == "" {
			continue
		}
		results = append(results, SearchResult{DescriptionURL: loc, RemoteAddr: remote.String()})
	}
	return results, nil
}

func parseLocationHeader(resp []byte) string {
	const marker = "LOCATION:"
	s := string(resp)
	upper := toUpperASCII(s)
	idx := indexOf(upper, marker)
	if idx == -1 {
		return ""
	}
	rest := s[idx+len(marker):]
	end := indexOfAny(rest, "\r\n")
	if end == -1 {
		end = len(rest)
	}
	return trimSpace(rest[:end])
}

func toUpperASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func indexOfAny(s, chars string) int {
	for i := 0; i < len(s); i++ {
		for _, c := range chars {
			if s[i] == byte(c) {
				return i
			}
		}
	}
	return -1
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && (s[start] == ' ' || s[start] == '\t') {
		start++
	}
	for end > start && (s[end-1] == ' ' || s[end-1] == '\t' || s[end-1] == '\r' || s[end-1] == '\n') {
		end--
	}
	return s[start:end]
}
