package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xRealIP    string
		trustProxy bool
		proxyCount int
		want       string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.7:52311",
			want:       "203.0.113.7",
		},
		{
			name:       "headers ignored without trust",
			remoteAddr: "203.0.113.7:52311",
			xff:        "198.51.100.1",
			want:       "203.0.113.7",
		},
		{
			name:       "single trusted proxy",
			remoteAddr: "10.0.0.1:443",
			xff:        "198.51.100.1, 10.0.0.2",
			trustProxy: true,
			proxyCount: 1,
			want:       "198.51.100.1",
		},
		{
			name:       "spoofed leftmost entry with two proxies",
			remoteAddr: "10.0.0.1:443",
			xff:        "1.1.1.1, 198.51.100.1, 10.0.0.3, 10.0.0.2",
			trustProxy: true,
			proxyCount: 2,
			want:       "198.51.100.1",
		},
		{
			name:       "x-real-ip fallback",
			remoteAddr: "10.0.0.1:443",
			xRealIP:    "198.51.100.9",
			trustProxy: true,
			want:       "198.51.100.9",
		},
		{
			name:       "invalid xff falls back to remote addr",
			remoteAddr: "10.0.0.1:443",
			xff:        "not-an-ip, 10.0.0.2",
			trustProxy: true,
			want:       "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}

			if got := GetClientIP(req, tt.trustProxy, tt.proxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
