package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	rpnats "github.com/QTest-hq/riskplan/internal/nats"
)

// CreateRescoreRequest is the request body for a batch rescoring job
type CreateRescoreRequest struct {
	ModuleIDs   []int64 `json:"module_ids,omitempty"`
	RequestedBy string  `json:"requested_by,omitempty"`
}

// JobResponse is the API response for an enqueued job
type JobResponse struct {
	ID          uuid.UUID `json:"id"`
	Type        string    `json:"type"`
	Status      string    `json:"status"`
	ModuleIDs   []int64   `json:"module_ids,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

func jobToResponse(job rpnats.RescoreJob) *JobResponse {
	return &JobResponse{
		ID:          job.JobID,
		Type:        "rescore",
		Status:      "queued",
		ModuleIDs:   job.ModuleIDs,
		RequestedBy: job.RequestedBy,
		CreatedAt:   job.RequestedAt.Format("2006-01-02T15:04:05Z"),
	}
}

// createRescoreJob enqueues a rescoring job for the worker
func (s *Server) createRescoreJob(w http.ResponseWriter, r *http.Request) {
	if s.rescorer == nil {
		respondError(w, http.StatusServiceUnavailable, "job system not available")
		return
	}

	var req CreateRescoreRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	for _, id := range req.ModuleIDs {
		if id <= 0 {
			respondError(w, http.StatusBadRequest, "module ids must be positive")
			return
		}
	}

	job := rpnats.NewRescoreJob(req.RequestedBy, req.ModuleIDs)
	if err := s.rescorer.PublishRescore(r.Context(), job); err != nil {
		log.Error().Err(err).Str("job_id", job.JobID.String()).Msg("failed to enqueue rescore job")
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue job")
		return
	}

	log.Info().Str("job_id", job.JobID.String()).Int("modules", len(job.ModuleIDs)).Msg("rescore job enqueued")
	respondJSON(w, http.StatusAccepted, jobToResponse(job))
}
