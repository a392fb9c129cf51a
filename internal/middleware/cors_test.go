package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func corsRequest(t *testing.T, allowed []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.Use(CORS(allowed))
	r.GET("/data", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/data", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCORS_AllowedOrigin(t *testing.T) {
	w := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://app.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want origin echoed", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	w := corsRequest(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want unset", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (CORS does not block the request itself)", w.Code)
	}
}

func TestCORS_EmptyAllowList(t *testing.T) {
	w := corsRequest(t, nil, http.MethodGet, "https://app.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want unset", got)
	}
}

func TestCORS_Wildcard(t *testing.T) {
	w := corsRequest(t, []string{"*"}, http.MethodGet, "https://anywhere.example.com")

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://anywhere.example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want origin echoed", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	w := corsRequest(t, []string{"*"}, http.MethodOptions, "https://app.example.com")

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got == "" {
		t.Error("Access-Control-Allow-Methods not set on preflight")
	}
}
