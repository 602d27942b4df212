package metadata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "first forwarded hop", headers: map[string]string{"X-Forwarded-For": " 198.51.100.4 , 10.0.0.2"}, remote: "10.0.0.2:1234", want: "198.51.100.4"},
		{name: "real ip header", headers: map[string]string{"X-Real-IP": "198.51.100.9"}, remote: "10.0.0.2:1234", want: "198.51.100.9"},
		{name: "socket address", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "address without port", remote: "192.0.2.1", want: "192.0.2.1"},
		{name: "nothing known", remote: "", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIPFromRequest(req))
		})
	}
}
