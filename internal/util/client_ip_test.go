package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", "fd00::/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        []string
		realIP     string
		trusted    *TrustedProxies
		want       string
	}{
		{
			name:       "untrusted peer ignores forwarding headers",
			remoteAddr: "198.51.100.10:1234",
			xff:        []string{"203.0.113.5"},
			realIP:     "203.0.113.6",
			trusted:    trusted,
			want:       "198.51.100.10",
		},
		{
			name:       "nil trust set ignores forwarding headers",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"203.0.113.5"},
			want:       "10.0.0.20",
		},
		{
			name:       "spoofed leftmost hop is skipped",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"1.2.3.4, 203.0.113.5, 10.0.0.10"},
			trusted:    trusted,
			want:       "203.0.113.5",
		},
		{
			name:       "repeated headers are read in order",
			remoteAddr: "192.168.1.10:443",
			xff:        []string{"203.0.113.9", "10.1.1.1"},
			trusted:    trusted,
			want:       "203.0.113.9",
		},
		{
			name:       "x-real-ip used when forwarded-for has no addresses",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"unknown"},
			realIP:     "203.0.113.7",
			trusted:    trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "all hops trusted returns leftmost",
			remoteAddr: "10.0.0.20:1234",
			xff:        []string{"10.0.0.5, 10.0.0.10"},
			trusted:    trusted,
			want:       "10.0.0.5",
		},
		{
			name:       "ipv6 peer behind trusted ula proxy",
			remoteAddr: "[fd00::1]:8080",
			xff:        []string{"2001:db8::7"},
			trusted:    trusted,
			want:       "2001:db8::7",
		},
		{
			name:       "ipv4-mapped peer is unmapped",
			remoteAddr: "[::ffff:198.51.100.3]:80",
			want:       "198.51.100.3",
		},
		{
			name:       "unparsable remote addr returned as is",
			remoteAddr: "pipe",
			want:       "pipe",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://example.com", nil)
			req.RemoteAddr = tc.remoteAddr
			for _, v := range tc.xff {
				req.Header.Add("X-Forwarded-For", v)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	set, err := NewTrustedProxies([]string{" 10.1.2.3/8 ", "", "2001:db8::1"})
	if err != nil {
		t.Fatalf("expected valid entries, got err: %v", err)
	}
	if !set.Contains(netip.MustParseAddr("10.200.0.1")) {
		t.Fatalf("cidr with host bits should cover the whole network")
	}
	if !set.Contains(netip.MustParseAddr("2001:db8::1")) || set.Contains(netip.MustParseAddr("2001:db8::2")) {
		t.Fatalf("bare address should match only itself")
	}

	if set, err := NewTrustedProxies([]string{" ", ""}); err != nil || set != nil {
		t.Fatalf("blank entries should yield a nil set, got %v %v", set, err)
	}
	if _, err := NewTrustedProxies([]string{"bad-cidr"}); err == nil {
		t.Fatalf("expected parse error for invalid entry")
	}
	var none *TrustedProxies
	if none.Contains(netip.MustParseAddr("10.0.0.1")) {
		t.Fatalf("nil set must trust nothing")
	}
}
