package controllers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/csrf"

	"github.com/rahul4469/meter-reader/internal/logging"
	"github.com/rahul4469/meter-reader/internal/middleware"
	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/services"
	"github.com/rahul4469/meter-reader/internal/views"
)

// ExportFileName is the name offered for the downloaded result.
const ExportFileName = "analisis_medidor.json"

var errUploadTooLarge = errors.New("image is too large")

// ReadingAnalyzer is the part of services.VisionAnalyzer the reader needs.
type ReadingAnalyzer interface {
	Analyze(ctx context.Context, in services.AnalysisInput) (*models.Reading, error)
}

// ReaderController handles capturing a meter photo and showing its reading.
type ReaderController struct {
	analyzer       ReadingAnalyzer
	templates      ReaderTemplates
	maxUploadBytes int64
	logger         *slog.Logger
}

// ReaderTemplates holds the templates for the reader page.
type ReaderTemplates struct {
	Reader *views.Template
}

func NewReaderController(
	analyzer ReadingAnalyzer,
	templates ReaderTemplates,
	maxUploadBytes int64,
	logger *slog.Logger,
) *ReaderController {
	return &ReaderController{
		analyzer:       analyzer,
		templates:      templates,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// ReaderPageData holds data for the reader template.
type ReaderPageData struct {
	HasAPIKey bool
	Image     *ImageInfo
	Result    *services.ReadingView
	FileName  string
}

// ImageInfo describes the captured photo without carrying its bytes.
type ImageInfo struct {
	MIME       string
	Width      int
	Height     int
	Size       int
	CapturedAt time.Time
}

// GetReader renders the capture form and the last result, if any.
func (c *ReaderController) GetReader(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)
	session.Lock()
	defer session.Unlock()

	data := c.pageData(r, session)
	if msg := r.URL.Query().Get("success"); msg != "" {
		data.Success = msg
	}
	if msg := r.URL.Query().Get("error"); msg != "" {
		data.Error = msg
	}
	if !session.Settings().HasAPIKey() {
		data.Warning = "No API key configured yet. Add one on the Settings page before processing."
	}

	c.templates.Reader.ExecuteHTTP(w, r, data)
}

// PostAnalyze takes an optional new photo and runs one analysis on the
// session's current photo.
func (c *ReaderController) PostAnalyze(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)

	r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadBytes)
	upload, err := readUpload(r, c.maxUploadBytes)
	if err != nil {
		c.logger.WarnContext(r.Context(), "invalid upload", logging.Err(err))
		status := http.StatusBadRequest
		if errors.Is(err, errUploadTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		session.Lock()
		defer session.Unlock()
		c.renderError(w, r, session, status, fmt.Sprintf("Invalid upload: %v", err))
		return
	}

	session.Lock()
	defer session.Unlock()

	settings := session.Settings()
	apiKey, err := settings.APIKey()
	if err != nil {
		c.logger.ErrorContext(r.Context(), "failed to unseal api key", logging.Err(err))
		c.renderError(w, r, session, http.StatusInternalServerError, "The stored API key could not be read. Please enter it again.")
		return
	}
	if apiKey == "" {
		ae := models.NewConfigurationError("missing API key", models.ErrMissingCredential)
		c.renderError(w, r, session, ae.StatusCode(), ae.UserMessage())
		return
	}

	if upload != nil {
		img, err := services.InspectImage(upload)
		if err != nil {
			ae := models.NewImageError("unusable image", err)
			c.renderError(w, r, session, ae.StatusCode(), ae.UserMessage())
			return
		}
		session.SetImage(img)
	}
	if session.Image() == nil {
		ae := models.NewImageError("no image", models.ErrNoImage)
		c.renderError(w, r, session, ae.StatusCode(), ae.UserMessage())
		return
	}

	c.logger.InfoContext(r.Context(), "analyzing meter image",
		slog.String("session", session.ID),
		slog.String("mime", session.Image().MIME),
		slog.Int("bytes", len(session.Image().Data)),
	)

	reading, err := c.analyzer.Analyze(r.Context(), services.AnalysisInput{
		Image:  session.Image(),
		APIKey: apiKey,
		Prompt: settings.Prompt(),
		Schema: settings.Schema(),
	})
	if err != nil {
		c.logger.ErrorContext(r.Context(), "analysis failed",
			slog.String("session", session.ID),
			slog.String("kind", string(models.KindOf(err))),
			logging.Err(err),
		)
		var ae *models.AnalysisError
		if errors.As(err, &ae) {
			c.renderError(w, r, session, ae.StatusCode(), ae.UserMessage())
			return
		}
		c.renderError(w, r, session, http.StatusBadGateway, fmt.Sprintf("Error processing the image: %v", err))
		return
	}

	session.SetResult(reading)
	http.Redirect(w, r, "/?success=Analysis+complete!", http.StatusSeeOther)
}

// UploadTooLarge renders the reader page for a body that was cut off before
// the handler could read it.
func (c *ReaderController) UploadTooLarge(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)
	session.Lock()
	defer session.Unlock()

	c.logger.WarnContext(r.Context(), "upload over size limit", slog.Int64("limit", c.maxUploadBytes))
	c.renderError(w, r, session, http.StatusRequestEntityTooLarge, fmt.Sprintf("Invalid upload: %v", tooLargeError(c.maxUploadBytes)))
}

// GetResultJSON downloads the last result as indented JSON.
func (c *ReaderController) GetResultJSON(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)
	session.Lock()
	body, err := session.Result().ExportJSON()
	session.Unlock()

	if err != nil {
		if errors.Is(err, models.ErrNoResult) {
			http.Error(w, "No analysis result available", http.StatusNotFound)
			return
		}
		c.logger.ErrorContext(r.Context(), "export failed", logging.Err(err))
		http.Error(w, "Failed to export result", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", ExportFileName))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// pageData must be called with the session locked.
func (c *ReaderController) pageData(r *http.Request, session *models.Session) *views.TemplateData {
	page := ReaderPageData{
		HasAPIKey: session.Settings().HasAPIKey(),
		FileName:  ExportFileName,
	}
	if img := session.Image(); img != nil {
		page.Image = &ImageInfo{
			MIME:       img.MIME,
			Width:      img.Width,
			Height:     img.Height,
			Size:       len(img.Data),
			CapturedAt: img.CapturedAt,
		}
	}
	if result := session.Result(); result != nil {
		view := services.RenderReading(result)
		page.Result = &view
	}
	return &views.TemplateData{
		Title:     "Meter Reader",
		CSRFToken: csrf.Token(r),
		Data:      page,
	}
}

// renderError must be called with the session locked. The previous result
// stays on the page.
func (c *ReaderController) renderError(w http.ResponseWriter, r *http.Request, session *models.Session, status int, msg string) {
	data := c.pageData(r, session)
	data.Error = msg
	c.templates.Reader.ExecuteHTTPWithStatus(w, r, status, data)
}

// readUpload returns the bytes of the "image" form file, or nil if none was sent.
func readUpload(r *http.Request, maxBytes int64) ([]byte, error) {
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			// plain form post: re-process the stored image
			if err := r.ParseForm(); err != nil {
				return nil, err
			}
			return nil, nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, tooLargeError(maxBytes)
		}
		return nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	defer file.Close()

	// the form may have been parsed upstream under a looser cap
	if header.Size > maxBytes {
		return nil, tooLargeError(maxBytes)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		// an empty file input still submits a part on some browsers
		return nil, nil
	}
	return data, nil
}

func tooLargeError(maxBytes int64) error {
	return fmt.Errorf("%w: the limit is %d MB", errUploadTooLarge, maxBytes>>20)
}
