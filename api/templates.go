package api

import (
	"net/http"
	"strconv"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/template"
)

func (s *Server) createTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var def template.Def
	if err := decode(r, &def); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.Create(r.Context(), id, def)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, t)
}

func (s *Server) listTemplates(w http.ResponseWriter, r *http.Request, id core.Identity) {
	query := r.URL.Query()

	filter := backend.TemplateFilter{
		Category: query.Get("category"),
		Module:   query.Get("module"),
		Search:   query.Get("search"),
		Page:     pageFrom(query.Get("page"), query.Get("limit")),
	}

	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			s.badRequest(w, "invalid active filter")
			return
		}
		filter.Active = &active
	}
	if raw := query.Get("include_deleted"); raw != "" {
		filter.IncludeDeleted, _ = strconv.ParseBool(raw)
	}

	templates, total, err := s.templates.List(r.Context(), id, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.list(w, templates, total, filter.Page)
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	t, err := s.templates.Get(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func (s *Server) updateTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var patch template.Patch
	if err := decode(r, &patch); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.Update(r.Context(), id, r.PathValue("id"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func (s *Server) deleteTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	if err := s.templates.Delete(r.Context(), id, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, envelope{Success: true, Message: "template deleted"})
}

func (s *Server) cloneTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.Clone(r.Context(), id, r.PathValue("id"), body.Name)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, t)
}

func (s *Server) toggleTemplateActive(w http.ResponseWriter, r *http.Request, id core.Identity) {
	t, err := s.templates.ToggleActive(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func (s *Server) validateTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	result, err := s.templates.Validate(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, result)
}

func (s *Server) previewTemplate(w http.ResponseWriter, r *http.Request, id core.Identity) {
	schemas, err := s.templates.Preview(r.Context(), id, r.PathValue("id"), r.URL.Query().Get("state_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, schemas)
}

func (s *Server) addState(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var state core.State
	if err := decode(r, &state); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.AddState(r.Context(), id, r.PathValue("id"), &state)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, t)
}

func (s *Server) updateState(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var patch template.StatePatch
	if err := decode(r, &patch); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.UpdateState(r.Context(), id, r.PathValue("id"), r.PathValue("stateID"), patch)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func (s *Server) deleteState(w http.ResponseWriter, r *http.Request, id core.Identity) {
	t, err := s.templates.DeleteState(r.Context(), id, r.PathValue("id"), r.PathValue("stateID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func (s *Server) reorderStates(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var body struct {
		Order []string `json:"order"`
	}
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	t, err := s.templates.ReorderStates(r.Context(), id, r.PathValue("id"), body.Order)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, t)
}

func pageFrom(page, limit string) backend.Page {
	var p backend.Page
	if page != "" {
		p.Number, _ = strconv.Atoi(page)
	}
	if limit != "" {
		p.Limit, _ = strconv.Atoi(limit)
	}
	return p
}
