package httpmw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResolveClientAddr(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		hops       int
		want       string
		keepXFF    bool
	}{
		{name: "public peer ignores xff", remoteAddr: "198.51.100.7:4000", xff: "1.2.3.4", hops: 1, want: "198.51.100.7"},
		{name: "private peer zero hops ignores xff", remoteAddr: "10.0.0.2:4000", xff: "1.2.3.4", hops: 0, want: "10.0.0.2"},
		{name: "single alb takes rightmost", remoteAddr: "10.0.0.2:4000", xff: "6.6.6.6, 203.0.113.9", hops: 1, want: "203.0.113.9", keepXFF: true},
		{name: "cdn and alb take second from end", remoteAddr: "10.0.0.2:4000", xff: "203.0.113.9, 192.0.2.1", hops: 2, want: "203.0.113.9", keepXFF: true},
		{name: "too few entries fails closed", remoteAddr: "10.0.0.2:4000", xff: "203.0.113.9", hops: 3, want: "10.0.0.2"},
		{name: "garbage entry falls back to peer", remoteAddr: "10.0.0.2:4000", xff: "not-an-ip", hops: 1, want: "10.0.0.2", keepXFF: true},
		{name: "no xff uses peer", remoteAddr: "10.0.0.2:4000", hops: 1, want: "10.0.0.2"},
		{name: "missing port returned as is", remoteAddr: "10.0.0.2", hops: 1, want: "10.0.0.2"},
		{name: "unparseable host", remoteAddr: "nope:80", want: "0.0.0.0"},
		{name: "empty remote addr", remoteAddr: "", want: "0.0.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			r.Header.Set("X-Forwarded-Proto", "https")

			if got := resolveClientAddr(r, tt.hops); got != tt.want {
				t.Fatalf("resolveClientAddr = %q, want %q", got, tt.want)
			}
			if tt.xff != "" && !tt.keepXFF && r.Header.Get("X-Forwarded-For") != "" {
				t.Fatal("untrusted X-Forwarded-For should be stripped")
			}
		})
	}
}

func TestResolveClientAddr_StripsProtoFromPublicPeer(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "198.51.100.7:4000"
	r.Header.Set("X-Forwarded-Proto", "https")

	resolveClientAddr(r, 1)

	if r.Header.Get("X-Forwarded-Proto") != "" {
		t.Fatal("X-Forwarded-Proto from a public peer should be stripped")
	}
}

func TestClientIPWithOptions_StoresInContext(t *testing.T) {
	var got string
	h := ClientIPWithOptions(ClientIPOptions{TrustedHops: 1})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "203.0.113.50" {
		t.Fatalf("ClientIPFromContext = %q, want 203.0.113.50", got)
	}
}

func TestClientIP_DefaultIgnoresForwarded(t *testing.T) {
	var got string
	h := ClientIP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	r.RemoteAddr = "10.1.2.3:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.50")
	h.ServeHTTP(httptest.NewRecorder(), r)

	if got != "10.1.2.3" {
		t.Fatalf("ClientIPFromContext = %q, want peer 10.1.2.3", got)
	}
}

func TestWithClientIP_EmptyLeavesContext(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if got := ClientIPFromContext(WithClientIP(r.Context(), "")); got != "" {
		t.Fatalf("ClientIPFromContext = %q, want empty", got)
	}
}

func FuzzResolveClientAddr(f *testing.F) {
	f.Add("10.0.0.1:80", "1.2.3.4, 5.6.7.8", 1)
	f.Add("203.0.113.1:443", "", 0)
	f.Add("[::1]:8080", ",,,", 5)
	f.Add("", "\x00", -1)

	f.Fuzz(func(t *testing.T, remoteAddr, xff string, hops int) {
		r := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
		r.RemoteAddr = remoteAddr
		r.Header.Set("X-Forwarded-For", xff)
		if resolveClientAddr(r, hops%8) == "" {
			t.Fatal("resolved address must never be empty")
		}
	})
}
