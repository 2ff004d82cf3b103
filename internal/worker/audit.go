package worker

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	rpnats "github.com/QTest-hq/riskplan/internal/nats"
)

// AuditWorker writes every committed version event to the log
type AuditWorker struct {
	*BaseWorker
}

// NewAuditWorker wires the audit handler into base
func NewAuditWorker(base *BaseWorker) *AuditWorker {
	w := &AuditWorker{BaseWorker: base}
	base.handler = w.Handle
	return w
}

// Handle records one version event
func (w *AuditWorker) Handle(ctx context.Context, data []byte) error {
	ev, err := rpnats.DecodeVersionSaved(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	log.Info().
		Str("event_id", ev.EventID.String()).
		Str("version_id", ev.VersionID.String()).
		Str("session_id", ev.SessionID).
		Int("version", ev.Version).
		Str("name", ev.Name).
		Strs("modules", ev.Modules).
		Int("testcases", ev.TestcaseCount).
		Time("saved_at", ev.SavedAt).
		Msg("test plan version saved")
	return nil
}
