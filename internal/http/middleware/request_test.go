package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/podium-backend/internal/platform/ctxutil"
	"github.com/yungbote/podium-backend/internal/platform/logger"
)

func TestAttachTraceContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AttachTraceContext(), RequestLogger(logger.Nop()))

	var seen *ctxutil.TraceData
	r.GET("/v1/analyses/:id", func(c *gin.Context) {
		seen = ctxutil.GetTraceData(c.Request.Context())
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/analyses/abc", nil)
	req.Header.Set(headerRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if seen == nil || seen.RequestID != "req-1" || seen.TraceID == "" {
		t.Fatalf("trace data: %+v", seen)
	}
	if got := w.Header().Get(headerRequestID); got != "req-1" {
		t.Fatalf("request id header: want=req-1 got=%q", got)
	}
	if got := w.Header().Get(headerTraceID); got != seen.TraceID {
		t.Fatalf("trace id header: want=%q got=%q", seen.TraceID, got)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/analyses/abc", nil))
	if w.Header().Get(headerRequestID) == "" {
		t.Fatalf("missing generated request id")
	}
}
