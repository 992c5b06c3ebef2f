package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/louisbranch/cartstream/internal/services/catalog/domain"
)

func TestCatalogRoutes(t *testing.T) {
	inv := domain.NewInventory()
	handler := NewHandler(inv)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/catalog/apple", strings.NewReader("12")))
	if rec.Code != http.StatusOK {
		t.Fatalf("post status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := inv.Get("apple"); got != 12 {
		t.Fatalf("apple = %d, want 12", got)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/apple", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "12" {
		t.Fatalf("body = %q, want %q", body, "12")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/catalog/unknown", nil))
	if body := strings.TrimSpace(rec.Body.String()); body != "0" {
		t.Fatalf("unknown body = %q, want %q", body, "0")
	}
}

func TestCatalogRejectsNonIntegerBody(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(domain.NewInventory()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/catalog/apple", strings.NewReader(`"many"`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if !strings.Contains(rec.Body.String(), `"code":"INVALID_REQUEST_BODY"`) {
		t.Fatalf("body = %s, want invalid body code", rec.Body.String())
	}
}
