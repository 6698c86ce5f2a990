package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/core"
	"github.com/recordflow/recordflow/record"
)

func (s *Server) createRecord(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.CreateInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.Create(r.Context(), id, input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, rec)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request, id core.Identity) {
	filter, err := recordFilterFrom(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	records, total, err := s.records.List(r.Context(), id, filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.list(w, records, total, filter.Page)
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request, id core.Identity) {
	rec, err := s.records.Get(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, rec)
}

// editResult pairs the saved record with the advisory field validation.
type editResult struct {
	Record     *core.Record            `json:"record"`
	Validation *record.FieldValidation `json:"validation"`
}

func (s *Server) editRecord(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.EditInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, validation, err := s.records.Edit(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, editResult{Record: rec, Validation: validation})
}

func (s *Server) changeState(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.ChangeInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.ChangeState(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, rec)
}

func (s *Server) allowedTransitions(w http.ResponseWriter, r *http.Request, id core.Identity) {
	targets, err := s.records.AllowedTransitions(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, targets)
}

func (s *Server) comment(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.CommentInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.Comment(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, rec)
}

func (s *Server) addAttachment(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.AttachmentInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.AddAttachment(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, rec)
}

func (s *Server) upsertChecklist(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.ChecklistInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.UpsertChecklist(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, rec)
}

func (s *Server) toggleLock(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var input record.LockInput
	if err := decode(r, &input); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	rec, err := s.records.ToggleLock(r.Context(), id, r.PathValue("id"), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, rec)
}

func (s *Server) cloneRecord(w http.ResponseWriter, r *http.Request, id core.Identity) {
	rec, err := s.records.Clone(r.Context(), id, r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, rec)
}

func (s *Server) archiveRecord(w http.ResponseWriter, r *http.Request, id core.Identity) {
	if err := s.records.Archive(r.Context(), id, r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}

	s.respond(w, http.StatusOK, envelope{Success: true, Message: "record archived"})
}

func (s *Server) kanban(w http.ResponseWriter, r *http.Request, id core.Identity) {
	templateID := r.URL.Query().Get("template_id")
	if templateID == "" {
		s.badRequest(w, "template_id is required")
		return
	}

	board, err := s.records.Kanban(r.Context(), id, templateID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, board)
}

// export streams the projection directly instead of wrapping it in the
// envelope; errors detected before the first write still use it.
func (s *Server) export(w http.ResponseWriter, r *http.Request, id core.Identity) {
	query := r.URL.Query()

	templateID := query.Get("template_id")
	if templateID == "" {
		s.badRequest(w, "template_id is required")
		return
	}

	format := record.ExportFormat(query.Get("format"))
	if format == "" {
		format = record.ExportCSV
	}

	filter, err := recordFilterFrom(r)
	if err != nil {
		s.badRequest(w, err.Error())
		return
	}

	switch format {
	case record.ExportCSV:
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="records.csv"`)
	case record.ExportJSON:
		w.Header().Set("Content-Type", "application/json")
	default:
		s.badRequest(w, "unsupported export format")
		return
	}

	if err := s.records.Export(r.Context(), id, templateID, format, filter, w); err != nil {
		s.logger.ErrorContext(r.Context(), "export failed", "error", err)
	}
}

func recordFilterFrom(r *http.Request) (backend.RecordFilter, error) {
	query := r.URL.Query()

	filter := backend.RecordFilter{
		TemplateID:    query.Get("template_id"),
		StateID:       query.Get("state_id"),
		Owner:         query.Get("owner"),
		Priority:      core.Priority(query.Get("priority")),
		Search:        query.Get("search"),
		SortBy:        query.Get("sort_by"),
		SortDirection: backend.SortDirection(query.Get("sort_direction")),
		Page:          pageFrom(query.Get("page"), query.Get("limit")),
	}

	if raw := query.Get("overdue"); raw != "" {
		overdue, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, &record.ValidationError{Message: "invalid overdue filter"}
		}
		filter.Overdue = &overdue
	}
	if raw := query.Get("include_archived"); raw != "" {
		filter.IncludeArchived, _ = strconv.ParseBool(raw)
	}

	var err error
	if filter.CreatedFrom, err = timeParam(query.Get("created_from")); err != nil {
		return filter, &record.ValidationError{Message: "invalid created_from date"}
	}
	if filter.CreatedTo, err = timeParam(query.Get("created_to")); err != nil {
		return filter, &record.ValidationError{Message: "invalid created_to date"}
	}

	return filter, nil
}

// timeParam accepts RFC 3339 timestamps and plain dates.
func timeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		t, err = time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}
