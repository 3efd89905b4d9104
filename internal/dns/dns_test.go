package dns

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPickIP(t *testing.T) {
	tests := []struct {
		name    string
		ips     []string
		want    string
		wantErr bool
	}{
		{name: "empty", wantErr: true},
		{name: "prefers v4", ips: []string{"2001:db8::1", "192.0.2.7"}, want: "192.0.2.7"},
		{name: "v6 only", ips: []string{"2001:db8::1"}, want: "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := pickIP(tt.ips)
			if (err != nil) != tt.wantErr {
				t.Fatalf("pickIP() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("pickIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLookupLiteralIP(t *testing.T) {
	got, err := Lookup(context.Background(), "127.0.0.1")
	if err != nil || got != "127.0.0.1" {
		t.Errorf("Lookup() = %q, %v", got, err)
	}
}

func TestDialContextLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	for _, host := range []string{"127.0.0.1", "localhost"} {
		conn, err := DialContext(context.Background(), "tcp", net.JoinHostPort(host, port))
		if err != nil {
			t.Fatalf("DialContext(%s) error = %v", host, err)
		}
		conn.Close()
	}
}
