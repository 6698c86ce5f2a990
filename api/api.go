// Package api exposes templates, records and numbering over HTTP/JSON.
//
// Every response uses the {success, data, message, error} envelope; list
// endpoints add a pagination block. Authentication is external: callers
// supply the tenant and actor through the X-Tenant-ID and X-Actor-ID
// headers, and requests without a tenant are rejected with 401.
package api

import (
	"log/slog"
	"net/http"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/numbering"
	"github.com/recordflow/recordflow/record"
	"github.com/recordflow/recordflow/template"
)

type Server struct {
	templates *template.Engine
	records   *record.Manager
	numbering *numbering.Generator
	logger    *slog.Logger
}

// NewServeMux returns the API routes mounted under /api.
func NewServeMux(templates *template.Engine, records *record.Manager, gen *numbering.Generator, opts ...backend.BackendOption) *http.ServeMux {
	options := backend.ApplyOptions(opts...)

	s := &Server{
		templates: templates,
		records:   records,
		numbering: gen,
		logger:    options.Logger,
	}

	mux := http.NewServeMux()

	mux.Handle("POST /api/templates", s.identified(s.createTemplate))
	mux.Handle("GET /api/templates", s.identified(s.listTemplates))
	mux.Handle("GET /api/templates/{id}", s.identified(s.getTemplate))
	mux.Handle("PATCH /api/templates/{id}", s.identified(s.updateTemplate))
	mux.Handle("DELETE /api/templates/{id}", s.identified(s.deleteTemplate))
	mux.Handle("POST /api/templates/{id}/clone", s.identified(s.cloneTemplate))
	mux.Handle("POST /api/templates/{id}/toggle-active", s.identified(s.toggleTemplateActive))
	mux.Handle("GET /api/templates/{id}/validate", s.identified(s.validateTemplate))
	mux.Handle("GET /api/templates/{id}/preview", s.identified(s.previewTemplate))
	mux.Handle("POST /api/templates/{id}/states", s.identified(s.addState))
	mux.Handle("POST /api/templates/{id}/states/reorder", s.identified(s.reorderStates))
	mux.Handle("PATCH /api/templates/{id}/states/{stateID}", s.identified(s.updateState))
	mux.Handle("DELETE /api/templates/{id}/states/{stateID}", s.identified(s.deleteState))

	mux.Handle("POST /api/records", s.identified(s.createRecord))
	mux.Handle("GET /api/records", s.identified(s.listRecords))
	mux.Handle("GET /api/records/kanban", s.identified(s.kanban))
	mux.Handle("GET /api/records/export", s.identified(s.export))
	mux.Handle("GET /api/records/{id}", s.identified(s.getRecord))
	mux.Handle("PATCH /api/records/{id}", s.identified(s.editRecord))
	mux.Handle("POST /api/records/{id}/state", s.identified(s.changeState))
	mux.Handle("GET /api/records/{id}/transitions", s.identified(s.allowedTransitions))
	mux.Handle("POST /api/records/{id}/comments", s.identified(s.comment))
	mux.Handle("POST /api/records/{id}/attachments", s.identified(s.addAttachment))
	mux.Handle("PUT /api/records/{id}/checklist", s.identified(s.upsertChecklist))
	mux.Handle("POST /api/records/{id}/lock", s.identified(s.toggleLock))
	mux.Handle("POST /api/records/{id}/clone", s.identified(s.cloneRecord))
	mux.Handle("POST /api/records/{id}/archive", s.identified(s.archiveRecord))

	mux.Handle("POST /api/numbering/generate", s.identified(s.generateCode))
	mux.Handle("POST /api/numbering/subcode", s.identified(s.generateSubCode))
	mux.Handle("GET /api/numbering/example", s.identified(s.exampleCode))
	mux.Handle("GET /api/numbering/stats", s.identified(s.numberingStats))
	mux.Handle("POST /api/numbering/reset-yearly", s.identified(s.resetYearly))
	mux.Handle("POST /api/numbering/reset-monthly", s.identified(s.resetMonthly))

	return mux
}
