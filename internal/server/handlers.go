package server

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/diydoctor/internal/extract"
	"github.com/hyperjump/diydoctor/internal/judge"
	"github.com/hyperjump/diydoctor/internal/llm"
	"github.com/hyperjump/diydoctor/internal/pipeline"
	"github.com/hyperjump/diydoctor/internal/records"
)

const maxUploadBytes = 32 << 20

type askRequest struct {
	Session     string `json:"session,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Document    string `json:"document,omitempty"`
	Query       string `json:"query"`
}

// key resolves the target session; exactly one selector must be set.
func (a askRequest) key() (string, bool) {
	var keys []string
	if a.Session != "" {
		keys = append(keys, a.Session)
	}
	if a.Fingerprint != "" {
		keys = append(keys, pipeline.PatientKey(a.Fingerprint))
	}
	if a.Document != "" {
		keys = append(keys, pipeline.DocumentKey(a.Document))
	}
	if len(keys) != 1 {
		return "", false
	}
	return keys[0], true
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	key, ok := req.key()
	if !ok {
		s.respondError(w, http.StatusBadRequest, "exactly one of session, fingerprint or document is required")
		return
	}
	s.logger.Debug("ask request", zap.String("key", key), zap.Int("query_len", len(req.Query)))
	res, err := s.service.Ask(r.Context(), key, req.Query)
	if errors.Is(err, pipeline.ErrEmptyEvidence) && res != nil {
		s.respondJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		s.fail(w, "ask failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleLoadPatient(w http.ResponseWriter, r *http.Request) {
	fp := chi.URLParam(r, "fingerprint")
	info, err := s.service.LoadPatient(r.Context(), fp)
	if err != nil {
		s.fail(w, "load patient failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

// handleLoadDocument accepts either a JSON body naming a server-side path or
// a multipart upload in the "file" field.
func (s *Server) handleLoadDocument(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		info pipeline.Info
		err  error
	)
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			s.respondError(w, http.StatusBadRequest, "file is required")
			return
		}
		defer file.Close()
		content, rerr := io.ReadAll(file)
		if rerr != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		info, err = s.service.LoadDocumentBytes(r.Context(), filepath.Base(header.Filename), content)
	} else {
		var body struct {
			Path string `json:"path"`
		}
		if derr := json.NewDecoder(r.Body).Decode(&body); derr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Path) == "" {
			s.respondError(w, http.StatusBadRequest, "path is required")
			return
		}
		info, err = s.service.LoadDocument(r.Context(), body.Path)
	}
	if err != nil {
		s.fail(w, "load document failed", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"sessions": s.service.Sessions()})
}

func (s *Server) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("key")
	if key == "" {
		s.respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	if !s.service.Remove(key) {
		s.respondError(w, http.StatusNotFound, "session not found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"key": key, "status": "removed"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": len(s.service.Sessions())})
}

// statusFor maps pipeline errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrSessionNotFound), errors.Is(err, records.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, extract.ErrUnsupported):
		return http.StatusUnsupportedMediaType
	case llm.IsCircuitOpen(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, judge.ErrEvaluation):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
