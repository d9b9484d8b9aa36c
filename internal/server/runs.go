package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/belticlabs/alternate-ocr/constants"
	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/repository"
	"github.com/belticlabs/alternate-ocr/internal/runs"
)

// handleCreateRun accepts a multipart upload: "file" plus form fields mode,
// provider and templateId. Small files come back with a terminal run; larger
// ones return 202 with the queued run.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.writeError(w, common.InvalidInputf("invalid multipart form: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, common.InvalidInputf("missing file field"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, common.InvalidInputf("reading upload: %v", err))
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = r.FormValue("mimeType")
	}

	in := runs.CreateInput{
		Filename:   header.Filename,
		MimeType:   mime,
		FileBytes:  data,
		Mode:       constants.RunMode(r.FormValue("mode")),
		Provider:   constants.Provider(r.FormValue("provider")),
		TemplateID: r.FormValue("templateId"),
	}
	if in.Mode == "" {
		in.Mode = constants.RunModeEverything
	}

	res, err := s.runs.Create(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Sync {
		status = http.StatusOK
	}
	s.writeJSON(w, status, res.Run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repository.RunFilter{
		Status: constants.RunStatus(r.URL.Query().Get("status")),
		Mode:   constants.RunMode(r.URL.Query().Get("mode")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	list, err := s.runs.List(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": list})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleGetRunDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.runs.GetDetail(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

// handleGetRunDocument streams the stored source document back to the caller.
func (s *Server) handleGetRunDocument(w http.ResponseWriter, r *http.Request) {
	run, data, err := s.runs.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", run.MimeType)
	w.Header().Set("Content-Disposition", `inline; filename="`+run.Filename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.runs.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
