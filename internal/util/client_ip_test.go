package util

import (
	"net/http/httptest"
	"testing"
)

func TestClientIP(t *testing.T) {
	trusted, err := NewTrustedProxies([]string{"10.0.0.0/8", " 192.168.1.10 ", ""})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xrip       string
		trusted    *TrustedProxies
		want       string
	}{
		{"untrusted peer ignores headers", "198.51.100.10:1234", "203.0.113.5", "203.0.113.6", trusted, "198.51.100.10"},
		{"no proxies configured", "10.0.0.20:1234", "203.0.113.5", "", nil, "10.0.0.20"},
		{"single proxy hop", "10.0.0.20:1234", "203.0.113.5", "", trusted, "203.0.113.5"},
		{"rightmost untrusted hop wins", "192.168.1.10:80", "198.51.100.1, 203.0.113.5, 10.0.0.10", "", trusted, "203.0.113.5"},
		{"x-real-ip when xff unusable", "10.0.0.20:1234", "garbage", "203.0.113.7", trusted, "203.0.113.7"},
		{"all hops trusted", "10.0.0.20:1234", "10.0.0.5, 10.0.0.10", "", trusted, "10.0.0.5"},
		{"ipv6 peer", "[2001:db8::1]:443", "", "", trusted, "2001:db8::1"},
		{"unparseable peer returned as is", "pipe", "", "", trusted, "pipe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/chats/b-1", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xrip != "" {
				req.Header.Set("X-Real-IP", tc.xrip)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	tp, err := NewTrustedProxies([]string{"", "  "})
	if err != nil || tp != nil {
		t.Fatalf("blank entries = %v, %v; want nil, nil", tp, err)
	}
	for _, bad := range []string{"bad-cidr", "10.0.0.0/33"} {
		if _, err := NewTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("expected parse error for %q", bad)
		}
	}
}
