// Package changedetect decides whether a new plan request is a major change
// from the session's previous request and therefore deserves a new version.
package changedetect

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/QTest-hq/riskplan/internal/config"
	"github.com/QTest-hq/riskplan/internal/metrics"
	"github.com/QTest-hq/riskplan/internal/reasoning"
	"github.com/QTest-hq/riskplan/internal/session"
)

// Reason explains a persistence decision
type Reason string

const (
	ReasonNoSave   Reason = "no_save"  // user opted out
	ReasonFirst    Reason = "first"    // no prior request in the session
	ReasonMajor    Reason = "major"    // classified as a major change
	ReasonMinor    Reason = "minor"    // classified as a refinement
	ReasonFallback Reason = "fallback" // classification failed, policy default applied
)

// Decision is the outcome of evaluating one request
type Decision struct {
	Persist bool
	Reason  Reason
}

// Detector classifies requests against the session's last request
type Detector struct {
	reasoning        reasoning.Service
	phrases          []string
	defaultOnFailure bool
}

// New creates a detector. Empty phrases use config.DefaultNoSavePhrases.
func New(svc reasoning.Service, phrases []string, defaultOnFailure bool) *Detector {
	if len(phrases) == 0 {
		phrases = config.DefaultNoSavePhrases
	}
	normalized := make([]string, len(phrases))
	for i, p := range phrases {
		normalized[i] = normalize(p)
	}
	return &Detector{
		reasoning:        svc,
		phrases:          normalized,
		defaultOnFailure: defaultOnFailure,
	}
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "ʼ", "'")

func normalize(s string) string {
	return strings.ToLower(apostrophes.Replace(s))
}

// RequestedNoSave reports whether the text contains an opt-out phrase
func (d *Detector) RequestedNoSave(text string) bool {
	text = normalize(text)
	for _, p := range d.phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// ShouldPersist reports whether the request should produce a new version
func (d *Detector) ShouldPersist(ctx context.Context, text string, st *session.State) bool {
	return d.Evaluate(ctx, text, st).Persist
}

// Evaluate classifies text and always records it as the session's last request.
// st must be held through session.Store.Do.
func (d *Detector) Evaluate(ctx context.Context, text string, st *session.State) Decision {
	decision := d.evaluate(ctx, text, st)
	st.LastRequest = text

	metrics.ChangeDecision(string(decision.Reason))
	log.Debug().
		Str("session_id", st.ID).
		Str("reason", string(decision.Reason)).
		Bool("persist", decision.Persist).
		Msg("change detector decision")

	return decision
}

func (d *Detector) evaluate(ctx context.Context, text string, st *session.State) Decision {
	if d.RequestedNoSave(text) {
		return Decision{Persist: false, Reason: ReasonNoSave}
	}
	if !st.HasPriorRequest() {
		return Decision{Persist: true, Reason: ReasonFirst}
	}

	answer, err := d.reasoning.Classify(ctx, st.LastRequest, text)
	if err != nil {
		log.Warn().Err(err).Str("session_id", st.ID).Bool("default", d.defaultOnFailure).
			Msg("change classification failed, applying default")
		return Decision{Persist: d.defaultOnFailure, Reason: ReasonFallback}
	}

	if reasoning.IsAffirmative(answer) {
		return Decision{Persist: true, Reason: ReasonMajor}
	}
	return Decision{Persist: false, Reason: ReasonMinor}
}
