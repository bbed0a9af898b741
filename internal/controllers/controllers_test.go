package controllers

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	appctx "github.com/rahul4469/meter-reader/context"
	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/services"
	"github.com/rahul4469/meter-reader/internal/views"
	"github.com/rahul4469/meter-reader/templates"
)

const testMaxUpload = 1 << 20

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeAnalyzer records every call and answers with a fixed outcome.
type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []services.AnalysisInput
	reading *models.Reading
	err     error
}

func (f *fakeAnalyzer) Analyze(_ context.Context, in services.AnalysisInput) (*models.Reading, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, in)
	return f.reading, f.err
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func mustTemplate(t *testing.T, page string) *views.Template {
	t.Helper()
	views.TemplateFS = templates.FS
	tpl, err := views.ParseFS(page)
	if err != nil {
		t.Fatalf("parse %s: %v", page, err)
	}
	return tpl
}

func newReader(t *testing.T, analyzer ReadingAnalyzer) *ReaderController {
	t.Helper()
	return NewReaderController(analyzer, ReaderTemplates{Reader: mustTemplate(t, "pages/reader.gohtml")}, testMaxUpload, discardLogger)
}

func newSettings(t *testing.T) *SettingsController {
	t.Helper()
	return NewSettingsController(mustTemplate(t, "pages/settings.gohtml"), discardLogger)
}

// withSession does what the session middleware would.
func withSession(r *http.Request, session *models.Session) *http.Request {
	return r.WithContext(appctx.ContextSetSession(r.Context(), session))
}

func sessionWithKey(t *testing.T, key string) *models.Session {
	t.Helper()
	session := models.NewSession(nil)
	if err := session.Settings().SetAPIKey(key); err != nil {
		t.Fatal(err)
	}
	return session
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// uploadRequest builds a multipart POST /analyze; nil data sends no file.
func uploadRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if data != nil {
		fw, err := mw.CreateFormFile("image", "meter.png")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	r := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func formRequest(path string, form url.Values) *http.Request {
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}
