package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRequestIDRouter() *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggerMiddleware())
	r.GET("/", func(c *gin.Context) {
		c.Header("X-Context-Request-ID", c.GetString(ContextRequestID))
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequestIDMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
		reuse   bool
	}{
		{"generated when absent", "", false},
		{"inbound id reused", "lb-trace-42", true},
		{"oversized inbound id replaced", strings.Repeat("x", 200), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.inbound != "" {
				req.Header.Set(RequestIDHeader, tt.inbound)
			}
			w := httptest.NewRecorder()
			newRequestIDRouter().ServeHTTP(w, req)

			id := w.Header().Get(RequestIDHeader)
			if id == "" {
				t.Fatal("X-Request-ID response header missing")
			}
			if id != w.Header().Get("X-Context-Request-ID") {
				t.Errorf("context id %q differs from header id %q", w.Header().Get("X-Context-Request-ID"), id)
			}
			if tt.reuse && id != tt.inbound {
				t.Errorf("id = %q, want inbound %q", id, tt.inbound)
			}
			if !tt.reuse && len(id) != 36 {
				t.Errorf("id = %q, want generated uuid", id)
			}
		})
	}
}
