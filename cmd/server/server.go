package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/rahul4469/meter-reader/internal/config"
	"github.com/rahul4469/meter-reader/internal/controllers"
	"github.com/rahul4469/meter-reader/internal/crypto"
	"github.com/rahul4469/meter-reader/internal/logging"
	"github.com/rahul4469/meter-reader/internal/middleware"
	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/services"
	"github.com/rahul4469/meter-reader/internal/views"
	"github.com/rahul4469/meter-reader/templates"
)

// multipart framing on top of the image itself
const uploadOverhead = 64 << 10

type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	csrfKey []byte

	sessions   *models.SessionStore
	sessionMw  *middleware.SessionMiddleware
	readerCtrl *controllers.ReaderController
	settings   *controllers.SettingsController
	static     *controllers.StaticController
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	views.TemplateFS = templates.FS

	// Setup Services ---------------
	sealer, err := crypto.NewEncryptorFromSecret(cfg.Security.SessionSecret, "meter-reader api key")
	if err != nil {
		return nil, fmt.Errorf("credential sealer: %w", err)
	}
	sessionStore := models.NewSessionStore(sealer, cfg.Security.SessionDuration)

	cookieKey, err := crypto.DeriveKey(cfg.Security.SessionSecret, "meter-reader session cookie")
	if err != nil {
		return nil, fmt.Errorf("session cookie key: %w", err)
	}
	csrfKey, err := crypto.DeriveKey(cfg.Security.CSRFSecret, "meter-reader csrf")
	if err != nil {
		return nil, fmt.Errorf("csrf key: %w", err)
	}
	cookieStore := middleware.NewCookieStore(cookieKey, int(cfg.Security.SessionDuration/time.Second), cfg.Security.SecureCookies)

	analyzer := services.NewVisionAnalyzer(services.VisionOptions{
		BaseURL:   cfg.Vision.BaseURL,
		Model:     cfg.Vision.Model,
		MaxTokens: cfg.Vision.MaxTokens,
		Timeout:   cfg.Vision.Timeout,
		Logger:    logger,
	})

	// Setup Templates ---------------
	readerTpl, err := views.ParseFS("pages/reader.gohtml")
	if err != nil {
		return nil, err
	}
	settingsTpl, err := views.ParseFS("pages/settings.gohtml")
	if err != nil {
		return nil, err
	}
	notFoundTpl, err := views.ParseFS("pages/notfound.gohtml")
	if err != nil {
		return nil, err
	}

	// Setup Controllers ---------------
	return &app{
		cfg:       cfg,
		logger:    logger,
		csrfKey:   csrfKey,
		sessions:  sessionStore,
		sessionMw: middleware.NewSessionMiddleware(sessionStore, cookieStore, cfg.Security.SessionCookieName, logger),
		readerCtrl: controllers.NewReaderController(
			analyzer,
			controllers.ReaderTemplates{Reader: readerTpl},
			cfg.Limits.MaxUploadBytes,
			logger,
		),
		settings: controllers.NewSettingsController(settingsTpl, logger),
		static:   controllers.NewStaticController(controllers.StaticTemplates{NotFound: notFoundTpl}, sessionStore, version),
	}, nil
}

func (a *app) routes() http.Handler {
	csrfMw := csrf.Protect(
		a.csrfKey,
		csrf.Secure(a.cfg.Security.SecureCookies),
		csrf.Path("/"),
		csrf.TrustedOrigins(trustedOrigins(a.cfg.Server.BaseURL)),
		csrf.ErrorHandler(http.HandlerFunc(a.csrfFailure)),
	)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(logging.RequestLogger(a.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", a.static.HealthCheck)

	r.Group(func(r chi.Router) {
		// applied before CSRF, which parses the form body
		r.Use(middleware.LimitBody(a.cfg.Limits.MaxUploadBytes + uploadOverhead))
		if !a.cfg.Security.SecureCookies {
			r.Use(plaintextHTTP)
		}
		// the session is needed to render a rejected upload
		r.Use(a.sessionMw.SetSession)
		r.Use(csrfMw)

		r.Get("/", a.readerCtrl.GetReader)
		r.Post("/analyze", a.readerCtrl.PostAnalyze)
		r.Get("/results.json", a.readerCtrl.GetResultJSON)

		r.Get("/settings", a.settings.GetSettings)
		r.Post("/settings", a.settings.PostSettings)
		r.Post("/settings/reset", a.settings.PostReset)
	})

	r.NotFound(a.static.NotFound)

	return r
}

// csrfFailure runs when gorilla/csrf rejects a request. An oversized upload
// also lands here, because the form parse that should have found the token
// stopped at the size cap.
func (a *app) csrfFailure(w http.ResponseWriter, r *http.Request) {
	if middleware.BodyTooLarge(r) {
		a.readerCtrl.UploadTooLarge(w, r)
		return
	}
	a.logger.WarnContext(r.Context(), "csrf check failed", logging.Err(csrf.FailureReason(r)))
	http.Error(w, fmt.Sprintf("%s - %s", http.StatusText(http.StatusForbidden), csrf.FailureReason(r)), http.StatusForbidden)
}

// sweepSessions drops idle sessions until ctx is cancelled.
func (a *app) sweepSessions(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.sessions.Sweep(); n > 0 {
				a.logger.Info("expired sessions removed", slog.Int("count", n), slog.Int("active", a.sessions.Len()))
			}
		}
	}
}

// plaintextHTTP tells gorilla/csrf the request did not arrive over TLS, so
// its strict Referer check is skipped outside production.
func plaintextHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, csrf.PlaintextHTTPRequest(r))
	})
}

// trustedOrigins lists the host of BASE_URL for gorilla/csrf's origin check.
func trustedOrigins(baseURL string) []string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
