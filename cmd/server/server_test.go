package main

import (
	"bytes"
	"encoding/json"
	"html"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rahul4469/meter-reader/internal/config"
	"github.com/rahul4469/meter-reader/internal/models"
)

var csrfField = regexp.MustCompile(`name="gorilla.csrf.Token" value="([^"]+)"`)

// newTestServer starts the full router against a fake vision endpoint.
func newTestServer(t *testing.T) (*httptest.Server, *http.Client, *atomic.Int32) {
	t.Helper()

	var visionHits atomic.Int32
	vision := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		visionHits.Add(1)
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":{"message":"Incorrect API key provided"}}`)
			return
		}
		body, _ := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": models.DefaultSchema}}},
		})
		w.Write(body)
	}))
	t.Cleanup(vision.Close)

	cfg := &config.Config{
		Server: config.ServerConfig{Environment: "development"},
		Security: config.SecurityConfig{
			CSRFSecret:        "csrf-secret-csrf-secret-csrf-secret",
			SessionSecret:     "session-secret-session-secret-session",
			SessionCookieName: "meter_reader_session",
			SessionDuration:   time.Hour,
		},
		Vision: config.VisionConfig{
			BaseURL:   vision.URL,
			Model:     "gpt-4o",
			MaxTokens: 1000,
			Timeout:   5 * time.Second,
		},
		Limits: config.LimitsConfig{MaxUploadBytes: 1 << 20},
	}

	a, err := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	srv := httptest.NewServer(a.routes())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return srv, &http.Client{Jar: jar}, &visionHits
}

func get(t *testing.T, client *http.Client, u string) (int, string) {
	t.Helper()
	res, err := client.Get(u)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b)
}

func csrfToken(t *testing.T, page string) string {
	t.Helper()
	m := csrfField.FindStringSubmatch(page)
	if m == nil {
		t.Fatal("no CSRF token on page")
	}
	return html.UnescapeString(m[1])
}

func postForm(t *testing.T, client *http.Client, u string, form url.Values) (int, string) {
	t.Helper()
	res, err := client.PostForm(u, form)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b)
}

func meterPNG(t *testing.T, padding int) []byte {
	t.Helper()
	var img bytes.Buffer
	if err := png.Encode(&img, image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return append(img.Bytes(), make([]byte, padding)...)
}

func postImage(t *testing.T, client *http.Client, u, token string) (int, string) {
	t.Helper()
	return postUpload(t, client, u, token, meterPNG(t, 0))
}

func postUpload(t *testing.T, client *http.Client, u, token string, data []byte) (int, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("gorilla.csrf.Token", token)
	fw, _ := mw.CreateFormFile("image", "meter.png")
	fw.Write(data)
	mw.Close()

	res, err := client.Post(u, mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(res.Body)
	return res.StatusCode, string(b)
}

func TestHealthz(t *testing.T) {
	srv, client, _ := newTestServer(t)

	status, body := get(t, client, srv.URL+"/healthz")
	if status != http.StatusOK || !strings.Contains(body, `"status":"available"`) {
		t.Errorf("healthz = %d %s", status, body)
	}
	if status, _ := get(t, client, srv.URL+"/no-such-page"); status != http.StatusNotFound {
		t.Errorf("unknown path status = %d, want 404", status)
	}
}

func TestPostWithoutCSRFToken(t *testing.T) {
	srv, client, _ := newTestServer(t)
	get(t, client, srv.URL+"/")

	status, _ := postForm(t, client, srv.URL+"/settings", url.Values{"prompt": {"x"}})
	if status != http.StatusForbidden {
		t.Errorf("status = %d, want 403", status)
	}
}

func TestAnalyzeFlow(t *testing.T) {
	srv, client, visionHits := newTestServer(t)

	status, page := get(t, client, srv.URL+"/")
	if status != http.StatusOK {
		t.Fatalf("GET / = %d", status)
	}
	token := csrfToken(t, page)

	// no key yet: the endpoint is never called
	status, page = postImage(t, client, srv.URL+"/analyze", token)
	if status != http.StatusBadRequest || !strings.Contains(page, "Please enter your API key") {
		t.Fatalf("analyze without key = %d", status)
	}
	if visionHits.Load() != 0 {
		t.Fatalf("vision endpoint called %d times without a key", visionHits.Load())
	}

	status, page = postForm(t, client, srv.URL+"/settings", url.Values{
		"gorilla.csrf.Token": {token},
		"api_key":            {"sk-test"},
	})
	if status != http.StatusOK || !strings.Contains(page, "Settings saved.") {
		t.Fatalf("save settings = %d", status)
	}

	status, page = postImage(t, client, srv.URL+"/analyze", token)
	if status != http.StatusOK {
		t.Fatalf("analyze = %d", status)
	}
	for _, want := range []string{"Analysis complete!", "078254", "95.0%", "Moderado"} {
		if !strings.Contains(page, want) {
			t.Errorf("result page is missing %q", want)
		}
	}
	if visionHits.Load() != 1 {
		t.Errorf("vision endpoint called %d times, want 1", visionHits.Load())
	}

	res, err := client.Get(srv.URL + "/results.json")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	if !strings.Contains(res.Header.Get("Content-Disposition"), "analisis_medidor.json") {
		t.Errorf("Content-Disposition = %q", res.Header.Get("Content-Disposition"))
	}
	var exported map[string]any
	if err := json.NewDecoder(res.Body).Decode(&exported); err != nil {
		t.Fatalf("export is not JSON: %v", err)
	}
	if exported["meter_reading"] != "078254" {
		t.Errorf("meter_reading = %v", exported["meter_reading"])
	}
}

func TestOversizedUploadShowsLimit(t *testing.T) {
	srv, client, visionHits := newTestServer(t)

	_, page := get(t, client, srv.URL+"/")
	token := csrfToken(t, page)

	status, page := postUpload(t, client, srv.URL+"/analyze", token, meterPNG(t, 2<<20))
	if status != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", status)
	}
	if !strings.Contains(page, "the limit is 1 MB") {
		t.Errorf("size limit not shown:\n%s", page)
	}
	if strings.Contains(page, "CSRF") {
		t.Error("rejected as a CSRF failure")
	}
	if visionHits.Load() != 0 {
		t.Errorf("vision endpoint called %d times", visionHits.Load())
	}
}

func TestTrustedOrigins(t *testing.T) {
	if got := trustedOrigins("https://meter.example.com/app"); len(got) != 1 || got[0] != "meter.example.com" {
		t.Errorf("trustedOrigins = %v", got)
	}
	if got := trustedOrigins("not a url"); got != nil {
		t.Errorf("trustedOrigins(invalid) = %v, want nil", got)
	}
}
