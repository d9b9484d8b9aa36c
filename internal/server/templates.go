package server

import (
	"encoding/json"
	"net/http"

	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/templates"
)

type templateRequest struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	SchemaJSON      string `json:"schemaJson"`
	ExtractionRules string `json:"extractionRules"`
}

// handleUpsertTemplate serves both POST (create) and PUT with an id (update).
func (s *Server) handleUpsertTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.InvalidInputf("invalid request body: %v", err))
		return
	}

	tpl, err := s.templates.Upsert(r.Context(), templates.UpsertInput{
		ID:              r.PathValue("id"),
		Name:            req.Name,
		Description:     req.Description,
		SchemaJSON:      req.SchemaJSON,
		ExtractionRules: req.ExtractionRules,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, tpl)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("includeInactive") == "true"
	list, err := s.templates.List(r.Context(), includeInactive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"templates": list})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleDeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Deactivate(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDraftTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description    string `json:"description"`
		SampleMarkdown string `json:"sampleMarkdown"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, common.InvalidInputf("invalid request body: %v", err))
		return
	}

	draft, err := s.templates.DraftSchema(r.Context(), templates.DraftInput{
		Description:    req.Description,
		SampleMarkdown: req.SampleMarkdown,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, draft)
}
