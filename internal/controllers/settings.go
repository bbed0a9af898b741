package controllers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/csrf"

	"github.com/rahul4469/meter-reader/internal/logging"
	"github.com/rahul4469/meter-reader/internal/middleware"
	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/views"
)

// SettingsController lets the user edit the session's API key, prompt and
// example JSON.
type SettingsController struct {
	template *views.Template
	logger   *slog.Logger
}

func NewSettingsController(template *views.Template, logger *slog.Logger) *SettingsController {
	return &SettingsController{
		template: template,
		logger:   logger,
	}
}

// SettingsFormData holds data for the settings template.
type SettingsFormData struct {
	HasAPIKey     bool
	Prompt        string
	Schema        string
	SchemaError   string
	PromptDefault bool
	SchemaDefault bool
}

// GetSettings renders the settings form.
func (c *SettingsController) GetSettings(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)
	session.Lock()
	defer session.Unlock()

	data := c.formData(r, session.Settings())
	if msg := r.URL.Query().Get("success"); msg != "" {
		data.Success = msg
	}
	c.template.ExecuteHTTP(w, r, data)
}

// PostSettings saves the submitted fields. A blank API key field leaves the
// stored key alone, since the key is never sent back to the browser.
func (c *SettingsController) PostSettings(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	session.Lock()
	defer session.Unlock()
	settings := session.Settings()

	if key := strings.TrimSpace(r.PostFormValue("api_key")); key != "" {
		if err := settings.SetAPIKey(key); err != nil {
			c.logger.ErrorContext(r.Context(), "failed to store api key", logging.Err(err))
			http.Error(w, "Failed to store API key", http.StatusInternalServerError)
			return
		}
	}

	var problems []string

	if _, ok := r.PostForm["prompt"]; ok {
		prompt := normalizeNewlines(r.PostFormValue("prompt"))
		if strings.TrimSpace(prompt) == "" {
			problems = append(problems, "The analysis prompt must not be empty; the previous prompt was kept.")
		} else {
			settings.SetPrompt(prompt)
		}
	}

	var rejectedSchema, schemaErr string
	if _, ok := r.PostForm["schema"]; ok {
		schema := normalizeNewlines(r.PostFormValue("schema"))
		if err := settings.SetSchema(schema); err != nil {
			if !errors.Is(err, models.ErrInvalidSchema) {
				c.logger.ErrorContext(r.Context(), "failed to store schema", logging.Err(err))
			}
			rejectedSchema, schemaErr = schema, err.Error()
			problems = append(problems, "Invalid JSON format; the previous structure was kept.")
		}
	}

	if len(problems) > 0 {
		data := c.formData(r, settings)
		data.Error = strings.Join(problems, " ")
		form := data.Data.(SettingsFormData)
		if schemaErr != "" {
			// show what was typed so it can be fixed in place
			form.Schema = rejectedSchema
			form.SchemaError = schemaErr
		}
		data.Data = form
		c.template.ExecuteHTTPWithStatus(w, r, http.StatusUnprocessableEntity, data)
		return
	}

	http.Redirect(w, r, "/settings?success="+url.QueryEscape("Settings saved."), http.StatusSeeOther)
}

// PostReset restores one field, or several, to its default.
func (c *SettingsController) PostReset(w http.ResponseWriter, r *http.Request) {
	session := middleware.MustCurrentSession(r)

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form data", http.StatusBadRequest)
		return
	}

	session.Lock()
	defer session.Unlock()
	settings := session.Settings()

	var msg string
	switch field := r.PostFormValue("field"); field {
	case "prompt":
		settings.ResetPrompt()
		msg = "Prompt restored to its default."
	case "schema":
		settings.ResetSchema()
		msg = "JSON structure restored to its default."
	case "api_key":
		settings.ResetAPIKey()
		msg = "API key removed."
	case "", "defaults":
		settings.ResetDefaults()
		msg = "Default values restored."
	case "all":
		settings.ResetAll()
		msg = "All settings restored and API key removed."
	default:
		http.Error(w, "Unknown settings field", http.StatusBadRequest)
		return
	}

	c.logger.InfoContext(r.Context(), "settings reset", slog.String("session", session.ID), slog.String("field", r.PostFormValue("field")))
	http.Redirect(w, r, "/settings?success="+url.QueryEscape(msg), http.StatusSeeOther)
}

func (c *SettingsController) formData(r *http.Request, settings *models.Settings) *views.TemplateData {
	return &views.TemplateData{
		Title:     "Settings",
		CSRFToken: csrf.Token(r),
		Data: SettingsFormData{
			HasAPIKey:     settings.HasAPIKey(),
			Prompt:        settings.Prompt(),
			Schema:        settings.Schema(),
			PromptDefault: settings.Prompt() == models.DefaultPrompt,
			SchemaDefault: settings.Schema() == models.DefaultSchema,
		},
	}
}

// Browsers submit textarea content with CRLF line endings.
func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
