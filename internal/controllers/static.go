package controllers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rahul4469/meter-reader/internal/models"
	"github.com/rahul4469/meter-reader/internal/views"
)

// StaticController handles pages that carry no session state.
type StaticController struct {
	templates StaticTemplates
	sessions  *models.SessionStore
	version   string
}

// StaticTemplates holds templates for static pages.
type StaticTemplates struct {
	NotFound *views.Template
}

func NewStaticController(templates StaticTemplates, sessions *models.SessionStore, version string) *StaticController {
	return &StaticController{
		templates: templates,
		sessions:  sessions,
		version:   version,
	}
}

// NotFound renders the 404 page.
func (c *StaticController) NotFound(w http.ResponseWriter, r *http.Request) {
	data := &views.TemplateData{
		Title: "Page not found",
	}
	c.templates.NotFound.ExecuteHTTPWithStatus(w, r, http.StatusNotFound, data)
}

// HealthCheck returns a simple health status for monitoring.
func (c *StaticController) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "available",
		"version":  c.version,
		"sessions": c.sessions.Len(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
