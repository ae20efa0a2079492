package netutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeHost(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Example.COM:443":      "example.com",
		" example.com. ":       "example.com",
		"[2001:db8::1]:8443":   "2001:db8::1",
		"2001:db8::1":          "2001:db8::1",
		"localhost:10443":      "localhost",
		"sub.test.EXAMPLE.com": "sub.test.example.com",
	}

	for in, want := range tests {
		if got := NormalizeHost(in); got != want {
			t.Fatalf("NormalizeHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestIsWebSocketUpgrade(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		h    http.Header
		want bool
	}{
		{name: "plain", h: http.Header{}, want: false},
		{name: "upgrade", h: http.Header{"Upgrade": {"websocket"}, "Connection": {"Upgrade"}}, want: true},
		{name: "token list", h: http.Header{"Upgrade": {"WebSocket"}, "Connection": {"keep-alive, Upgrade"}}, want: true},
		{name: "no connection token", h: http.Header{"Upgrade": {"websocket"}, "Connection": {"keep-alive"}}, want: false},
		{name: "other protocol", h: http.Header{"Upgrade": {"h2c"}, "Connection": {"Upgrade"}}, want: false},
	}
	for _, tt := range tests {
		if got := IsWebSocketUpgrade(tt.h); got != tt.want {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		remote string
		header http.Header
		want   string
	}{
		{name: "direct", remote: "203.0.113.7:51234", want: "203.0.113.7"},
		{name: "direct ignores forwarded", remote: "203.0.113.7:51234", header: http.Header{"X-Forwarded-For": {"10.0.0.1"}}, want: "203.0.113.7"},
		{name: "proxy real ip", remote: "127.0.0.1:40000", header: http.Header{"X-Real-Ip": {"198.51.100.4"}}, want: "198.51.100.4"},
		{name: "proxy forwarded", remote: "[::1]:40000", header: http.Header{"X-Forwarded-For": {"198.51.100.9, 127.0.0.1"}}, want: "198.51.100.9"},
		{name: "proxy no headers", remote: "127.0.0.1:40000", want: "127.0.0.1"},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		r.RemoteAddr = tt.remote
		for k, v := range tt.header {
			r.Header[k] = v
		}
		if got := ClientIP(r); got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
