package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/dispatch"
	"github.com/QTest-hq/riskplan/internal/plan"
	"github.com/QTest-hq/riskplan/internal/planner"
)

// FilterRequest is the request body of the filter flow
type FilterRequest struct {
	Message string `json:"message"`
}

// EditRequest names the test cases to add or remove. IDs and TestCases may be
// combined.
type EditRequest struct {
	IDs       []int64         `json:"ids,omitempty"`
	TestCases []plan.TestCase `json:"testcases,omitempty"`
}

func (e EditRequest) items() []plan.TestCase {
	items := append([]plan.TestCase(nil), e.TestCases...)
	for _, id := range e.IDs {
		items = append(items, plan.TestCase{ID: id})
	}
	return items
}

// envelopeStatus maps an envelope onto an HTTP status
func envelopeStatus(env dispatch.Envelope) int {
	switch {
	case env.Status == dispatch.StatusOK:
		return http.StatusOK
	case env.Retryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func respondEnvelope(w http.ResponseWriter, env dispatch.Envelope) {
	respondJSON(w, envelopeStatus(env), env)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request) {
	var req planner.GenerateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if sid := chi.URLParam(r, "sessionID"); sid != "" {
		req.SessionID = sid
	}
	respondEnvelope(w, s.planner.Generate(r.Context(), req))
}

func (s *Server) filter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	respondEnvelope(w, s.planner.Filter(r.Context(), chi.URLParam(r, "sessionID"), req.Message))
}

func (s *Server) addTestCases(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondEnvelope(w, s.planner.Add(r.Context(), chi.URLParam(r, "sessionID"), req.items()))
}

func (s *Server) removeTestCases(w http.ResponseWriter, r *http.Request) {
	var req EditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	respondEnvelope(w, s.planner.Remove(r.Context(), chi.URLParam(r, "sessionID"), req.items()))
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	respondEnvelope(w, s.planner.Save(r.Context(), chi.URLParam(r, "sessionID")))
}

func (s *Server) discard(w http.ResponseWriter, r *http.Request) {
	respondEnvelope(w, s.planner.Discard(r.Context(), chi.URLParam(r, "sessionID")))
}

func (s *Server) evictSession(w http.ResponseWriter, r *http.Request) {
	s.planner.Evict(chi.URLParam(r, "sessionID"))
	respondJSON(w, http.StatusNoContent, nil)
}

func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	snap, ok, err := s.planner.Plan(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("failed to read session")
		respondError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	metas, err := s.planner.Versions(r.Context(), sid)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Msg("failed to list versions")
		respondError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	if metas == nil {
		metas = []plan.VersionMeta{}
	}
	respondJSON(w, http.StatusOK, metas)
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	sid := chi.URLParam(r, "sessionID")
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		respondError(w, http.StatusBadRequest, "invalid version number")
		return
	}

	v, err := s.planner.Version(r.Context(), sid, number)
	if err != nil {
		log.Error().Err(err).Str("session_id", sid).Int("version", number).Msg("failed to get version")
		respondError(w, http.StatusInternalServerError, "failed to get version")
		return
	}
	if v == nil {
		respondError(w, http.StatusNotFound, "version not found")
		return
	}
	respondJSON(w, http.StatusOK, v)
}

// normalizeTool renders raw tool output for an operation as an envelope
func (s *Server) normalizeTool(w http.ResponseWriter, r *http.Request) {
	op, ok := dispatch.ParseOperation(chi.URLParam(r, "op"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown operation")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	env := dispatch.Normalize(dispatch.Decode(op, raw))
	env.SessionID = r.URL.Query().Get("session_id")
	respondEnvelope(w, env)
}
