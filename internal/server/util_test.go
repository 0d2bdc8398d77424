package server

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/loykin/hydration/internal/process"
)

func processConfig(id string) process.Config { return process.Config{ID: id} }

func TestSanitizeBase(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"/", ""},
		{"api", "/api"},
		{"/api", "/api"},
		{"/api/", "/api"},
		{" api ", "/api"},
	}
	for _, c := range cases {
		if got := sanitizeBase(c.in); got != c.want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", c.in, got, c.want)
		}
	}
}

func TestWriteErrEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeErr(c, 418, "teapot")
	if rec.Code != 418 {
		t.Fatalf("code=%d", rec.Code)
	}
	want := `{"success":false,"data":null,"error":"teapot"}` + "\n"
	if rec.Body.String() != want {
		t.Fatalf("body=%q want %q", rec.Body.String(), want)
	}
}
