package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/QTest-hq/riskplan/internal/plan"
)

// VersionSavedEvent is published after a plan revision is committed
type VersionSavedEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	VersionID     uuid.UUID `json:"version_id"`
	SessionID     string    `json:"session_id"`
	Version       int       `json:"version"`
	Name          string    `json:"name"`
	Modules       []string  `json:"modules"`
	TestcaseCount int       `json:"testcase_count"`
	SavedAt       time.Time `json:"saved_at"`
}

// RescoreJob asks a worker to score every candidate and persist the results
type RescoreJob struct {
	JobID       uuid.UUID `json:"job_id"`
	ModuleIDs   []int64   `json:"module_ids,omitempty"`
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewRescoreJob creates a job with a fresh id. Empty moduleIDs means all modules.
func NewRescoreJob(requestedBy string, moduleIDs []int64) RescoreJob {
	return RescoreJob{
		JobID:       uuid.New(),
		ModuleIDs:   moduleIDs,
		RequestedBy: requestedBy,
		RequestedAt: time.Now().UTC(),
	}
}

// DecodeRescoreJob parses a job message body
func DecodeRescoreJob(data []byte) (RescoreJob, error) {
	var job RescoreJob
	if err := json.Unmarshal(data, &job); err != nil {
		return job, fmt.Errorf("failed to decode rescore job: %w", err)
	}
	if job.JobID == uuid.Nil {
		return job, fmt.Errorf("rescore job missing job_id")
	}
	return job, nil
}

// DecodeVersionSaved parses a version event body
func DecodeVersionSaved(data []byte) (VersionSavedEvent, error) {
	var ev VersionSavedEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode version event: %w", err)
	}
	return ev, nil
}

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) (*jetstream.PubAck, error)
}

// Publisher publishes domain messages over JetStream
type Publisher struct {
	client publisher
}

// NewPublisher creates a publisher on top of a connected client
func NewPublisher(c *Client) *Publisher {
	return &Publisher{client: c}
}

// PublishVersionSaved announces a committed revision on SubjectVersionSaved
func (p *Publisher) PublishVersionSaved(ctx context.Context, v *plan.Version) error {
	ev := VersionSavedEvent{
		EventID:       uuid.New(),
		VersionID:     v.ID,
		SessionID:     v.SessionID,
		Version:       v.Number,
		Name:          v.Name,
		Modules:       v.Modules,
		TestcaseCount: v.Actual,
		SavedAt:       v.CreatedAt,
	}
	return p.publishJSON(ctx, SubjectVersionSaved, ev)
}

// PublishRescore enqueues a rescoring job on SubjectRescore
func (p *Publisher) PublishRescore(ctx context.Context, job RescoreJob) error {
	return p.publishJSON(ctx, SubjectRescore, job)
}

func (p *Publisher) publishJSON(ctx context.Context, subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", subject, err)
	}
	_, err = p.client.Publish(ctx, subject, data)
	return err
}
