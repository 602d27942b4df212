package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireAdminToken(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name     string
		expected string
		header   string
		value    string
		status   int
	}{
		{name: "matching header token", expected: "s3cret", header: HeaderAdminToken, value: "s3cret", status: http.StatusNoContent},
		{name: "bearer token", expected: "s3cret", header: "Authorization", value: "Bearer s3cret", status: http.StatusNoContent},
		{name: "wrong token", expected: "s3cret", header: HeaderAdminToken, value: "nope", status: http.StatusUnauthorized},
		{name: "missing token", expected: "s3cret", status: http.StatusUnauthorized},
		{name: "admin surface disabled", expected: "", header: HeaderAdminToken, value: "", status: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/admin/params", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			RequireAdminToken(tt.expected, logger)(ok).ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
