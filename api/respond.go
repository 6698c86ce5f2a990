package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/recordflow/recordflow/backend"
	"github.com/recordflow/recordflow/internal/errs"
	"github.com/recordflow/recordflow/record"
	"github.com/recordflow/recordflow/template"
)

// envelope is the shape of every response body.
type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Message    string      `json:"message,omitempty"`
	Error      string      `json:"error,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Pages int64 `json:"pages"`
}

func newPagination(total int64, page backend.Page) *pagination {
	page = page.Normalize()

	pages := total / int64(page.Limit)
	if total%int64(page.Limit) != 0 {
		pages++
	}

	return &pagination{
		Total: total,
		Page:  page.Number,
		Limit: page.Limit,
		Pages: pages,
	}
}

func (s *Server) respond(w http.ResponseWriter, status int, e envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(e); err != nil {
		s.logger.Error("writing response", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, data any) {
	s.respond(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) created(w http.ResponseWriter, data any) {
	s.respond(w, http.StatusCreated, envelope{Success: true, Data: data})
}

func (s *Server) list(w http.ResponseWriter, data any, total int64, page backend.Page) {
	s.respond(w, http.StatusOK, envelope{
		Success:    true,
		Data:       data,
		Pagination: newPagination(total, page),
	})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)

	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
			slog.String("stack", errs.Stack(err)),
		)
	}

	s.respond(w, status, envelope{Success: false, Error: err.Error()})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.respond(w, http.StatusBadRequest, envelope{Success: false, Error: message})
}

// statusFor maps domain errors onto HTTP statuses. Anything unrecognized is
// an internal error.
func statusFor(err error) int {
	var (
		templateValidation *template.ValidationError
		recordValidation   *record.ValidationError
		transitionErr      *record.TransitionError
		commentRequired    *record.CommentRequiredError
		stateNotFound      *template.StateNotFoundError
		stateInUse         *template.StateInUseError
		templateInUse      *template.InUseError
		alreadyArchived    *record.AlreadyArchivedError
		locked             *record.LockedError
	)

	switch {
	case errors.As(err, &templateValidation),
		errors.As(err, &recordValidation),
		errors.As(err, &transitionErr),
		errors.As(err, &commentRequired):
		return http.StatusBadRequest

	case errors.Is(err, backend.ErrTemplateNotFound),
		errors.Is(err, backend.ErrRecordNotFound),
		errors.Is(err, backend.ErrCounterNotFound),
		errors.As(err, &stateNotFound):
		return http.StatusNotFound

	case errors.Is(err, backend.ErrVersionConflict),
		errors.Is(err, backend.ErrCodeExists),
		errors.As(err, &stateInUse),
		errors.As(err, &templateInUse),
		errors.As(err, &alreadyArchived):
		return http.StatusConflict

	case errors.As(err, &locked):
		return http.StatusLocked

	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return err
	}
	return nil
}
