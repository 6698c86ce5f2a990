package api

import (
	"net/http"

	"github.com/recordflow/recordflow/core"
)

func (s *Server) generateCode(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var cfg core.CounterConfig
	if err := decode(r, &cfg); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	if cfg.Kind == "" {
		s.badRequest(w, "counter kind is required")
		return
	}

	code, err := s.numbering.GenerateCode(r.Context(), id.TenantID, cfg)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, map[string]string{"code": code})
}

func (s *Server) generateSubCode(w http.ResponseWriter, r *http.Request, id core.Identity) {
	var body struct {
		ParentCode string `json:"parent_code"`
		SubKind    string `json:"sub_kind"`
		Prefix     string `json:"prefix,omitempty"`
	}
	if err := decode(r, &body); err != nil {
		s.badRequest(w, "invalid request body")
		return
	}

	if body.ParentCode == "" || body.SubKind == "" {
		s.badRequest(w, "parent_code and sub_kind are required")
		return
	}

	code, err := s.numbering.GenerateSubCode(r.Context(), id.TenantID, body.ParentCode, body.SubKind, body.Prefix)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.created(w, map[string]string{"code": code})
}

func (s *Server) exampleCode(w http.ResponseWriter, r *http.Request, id core.Identity) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		s.badRequest(w, "kind is required")
		return
	}

	code, err := s.numbering.Example(r.Context(), id.TenantID, kind)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, map[string]string{"code": code})
}

func (s *Server) numberingStats(w http.ResponseWriter, r *http.Request, id core.Identity) {
	stats, err := s.numbering.Stats(r.Context(), id.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, stats)
}

func (s *Server) resetYearly(w http.ResponseWriter, r *http.Request, id core.Identity) {
	result, err := s.numbering.ResetYearlyCounters(r.Context(), id.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, result)
}

func (s *Server) resetMonthly(w http.ResponseWriter, r *http.Request, id core.Identity) {
	result, err := s.numbering.ResetMonthlyCounters(r.Context(), id.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	s.ok(w, result)
}
