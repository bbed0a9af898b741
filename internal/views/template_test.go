package views

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func withTestFS(t *testing.T) {
	t.Helper()
	old := TemplateFS
	TemplateFS = fstest.MapFS{
		"layouts/base.gohtml":   {Data: []byte(`{{define "base"}}<title>{{.Title}}</title>{{template "flash" .}}{{template "content" .}}{{end}}`)},
		"partials/flash.gohtml": {Data: []byte(`{{define "flash"}}{{if .Error}}<p class="error">{{.Error}}</p>{{end}}{{end}}`)},
		"pages/ok.gohtml":       {Data: []byte(`{{define "content"}}{{kilobytes .Data}} on {{.CurrentPath}}{{end}}`)},
		"pages/broken.gohtml":   {Data: []byte(`{{define "content"}}{{.Data.Missing.Field}}{{end}}`)},
	}
	t.Cleanup(func() { TemplateFS = old })
}

func TestExecuteHTTPWithStatus(t *testing.T) {
	withTestFS(t)
	tpl, err := ParseFS("pages/ok.gohtml")
	if err != nil {
		t.Fatalf("ParseFS: %v", err)
	}

	w := httptest.NewRecorder()
	tpl.ExecuteHTTPWithStatus(w, httptest.NewRequest(http.MethodGet, "/settings", nil), http.StatusUnprocessableEntity, &TemplateData{
		Title: "Settings",
		Error: "<bad>",
		Data:  2048,
	})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{"<title>Settings</title>", "&lt;bad&gt;", "2.0 KB on /settings"} {
		if !strings.Contains(body, want) {
			t.Errorf("body %q is missing %q", body, want)
		}
	}
}

func TestExecuteHTTPTemplateError(t *testing.T) {
	withTestFS(t)
	tpl, err := ParseFS("pages/broken.gohtml")
	if err != nil {
		t.Fatalf("ParseFS: %v", err)
	}

	w := httptest.NewRecorder()
	tpl.ExecuteHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil), &TemplateData{Data: 1})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if strings.Contains(w.Body.String(), "<title>") {
		t.Error("partial page was written")
	}
}

func TestParseFSErrors(t *testing.T) {
	old := TemplateFS
	t.Cleanup(func() { TemplateFS = old })

	TemplateFS = nil
	if _, err := ParseFS("pages/ok.gohtml"); err == nil {
		t.Error("expected error without TemplateFS")
	}

	withTestFS(t)
	if _, err := ParseFS("pages/missing.gohtml"); err == nil {
		t.Error("expected error for a missing page")
	}
}

func TestTimeAgo(t *testing.T) {
	tests := []struct {
		ago  time.Duration
		want string
	}{
		{10 * time.Second, "just now"},
		{90 * time.Second, "1 minute ago"},
		{5 * time.Minute, "5 minutes ago"},
		{3 * time.Hour, "3 hours ago"},
	}
	for _, tt := range tests {
		if got := timeAgo(time.Now().Add(-tt.ago)); got != tt.want {
			t.Errorf("timeAgo(-%s) = %q, want %q", tt.ago, got, tt.want)
		}
	}
}

func TestTimeAgoOlderThanADay(t *testing.T) {
	then := time.Now().Add(-48 * time.Hour)
	if got, want := timeAgo(then), then.Format("Jan 2, 2006 3:04 PM"); got != want {
		t.Errorf("timeAgo = %q, want %q", got, want)
	}
}
