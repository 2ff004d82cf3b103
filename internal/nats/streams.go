package nats

import (
	"context"
	"time"
)

// Stream names
const (
	StreamJobs   = "RISKPLAN_JOBS"
	StreamEvents = "RISKPLAN_EVENTS"
)

// Subjects
const (
	// SubjectJobsAll matches every job subject
	SubjectJobsAll = "jobs.>"
	SubjectRescore = "jobs.rescore"

	// SubjectEventsAll matches every test plan event
	SubjectEventsAll    = "testplan.>"
	SubjectVersionSaved = "testplan.version.saved"
)

// Consumer names
const (
	ConsumerRescore      = "rescore-worker"
	ConsumerVersionAudit = "version-audit"
)

// JobStreamConfig returns the work-queue stream carrying rescoring jobs
func JobStreamConfig() StreamConfig {
	return StreamConfig{
		Name:        StreamJobs,
		Subjects:    []string{SubjectJobsAll},
		MaxMsgs:     10000,
		MaxBytes:    1024 * 1024 * 50, // 50MB
		MaxAge:      24 * time.Hour,
		Replicas:    1,
		Description: "riskplan batch jobs",
		WorkQueue:   true,
	}
}

// EventStreamConfig returns the limits stream carrying test plan events
func EventStreamConfig() StreamConfig {
	return StreamConfig{
		Name:        StreamEvents,
		Subjects:    []string{SubjectEventsAll},
		MaxMsgs:     100000,
		MaxBytes:    1024 * 1024 * 500, // 500MB
		MaxAge:      30 * 24 * time.Hour,
		Replicas:    1,
		Description: "riskplan test plan events",
	}
}

// SetupStreams creates all required streams and consumers
func (c *Client) SetupStreams(ctx context.Context) error {
	if _, err := c.jetStream(); err != nil {
		return err
	}

	for _, cfg := range []StreamConfig{JobStreamConfig(), EventStreamConfig()} {
		if _, err := c.CreateStream(ctx, cfg); err != nil {
			return err
		}
	}

	consumers := []struct {
		stream  string
		name    string
		subject string
	}{
		{StreamJobs, ConsumerRescore, SubjectRescore},
		{StreamEvents, ConsumerVersionAudit, SubjectVersionSaved},
	}

	for _, cons := range consumers {
		if _, err := c.CreateConsumer(ctx, cons.stream, cons.name, cons.subject); err != nil {
			return err
		}
	}

	return nil
}
