package discovery

import (
	"testing"
)

func TestRemoteIPFromURL(t *testing.T) {
	cases := map[string]string{
		"http://192.168.1.50:1400/desc.xml": "192.168.1.50",
		"http://10.0.0.1/desc.xml":          "10.0.0.1",
	}
	for in, want := range cases {
		if got := remoteIPFromURL(in); got != want {
			t.Fatalf("remoteIPFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeURLs(t *testing.T) {
	results := []SearchResult{
		{DescriptionURL: "http://a/desc.xml"},
		{DescriptionURL: "http://a/desc.xml"},
		{DescriptionURL: "http://b/desc.xml"},
	}
	got := dedupeURLs(results)
	if len(got) != 2 {
		t.Fatalf("expected 2 deduped urls, got %v", got)
	}
}

func TestParseLocationHeader(t *testing.T) {
	resp := []byte("HTTP/1.1 200 OK\r\nLOCATION: http://192.168.1.2:1400/desc.xml\r\n\r\n")
	if got := parseLocationHeader(resp); got != "http://192.168.1.2:1400/desc.xml" {
		t.Fatalf("got %q", got)
	}
}
