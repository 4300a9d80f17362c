package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testDashboardFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":          {Data: []byte("<html>dashboard</html>")},
		"assets/app-abc12.js": {Data: []byte("console.log('app')")},
	}
}

func TestDashboardServesFiles(t *testing.T) {
	h := NewDashboardHandler(testDashboardFS(), "/assets/")

	req := httptest.NewRequest("GET", "/assets/app-abc12.js", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if cc := w.Header().Get("Cache-Control"); !strings.Contains(cc, "immutable") {
		t.Errorf("Expected immutable cache header for hashed asset, got %q", cc)
	}
}

func TestDashboardFallsBackToIndex(t *testing.T) {
	h := NewDashboardHandler(testDashboardFS(), "/assets/")

	for _, path := range []string{"/", "/jobs/search", "/settings/billing"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "dashboard") {
			t.Errorf("%s: expected index.html content", path)
		}
	}
}
