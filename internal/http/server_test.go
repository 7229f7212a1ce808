package httpserver

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	v1 "github.com/skiffworks/skiff/internal/http/v1"
	"github.com/skiffworks/skiff/internal/workloads"
)

func testHandlers() *v1.Handlers {
	logger := logrus.New()
	logger.Out = io.Discard
	return &v1.Handlers{
		Logger: logrus.NewEntry(logger),
		Store:  workloads.NewMemStore(),
	}
}

func TestAPIPrefixEnforced(t *testing.T) {
	s := NewServer(testHandlers())

	// Unversioned path should 404 with a JSON body
	req := httptest.NewRequest(http.MethodGet, "/workloads/default", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unversioned path, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON 404 body, got content type %q", ct)
	}

	// Versioned path should 200
	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/workloads/default", nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 for versioned path, got %d", rec2.Code)
	}
}

func TestOpsServer(t *testing.T) {
	s := NewOpsServer(prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", rec2.Code)
	}
}
