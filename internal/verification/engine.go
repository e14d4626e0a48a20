// Package verification decides whether a candidate signature matches any
// of a user's enrolled baselines.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/oracle"
)

var ErrNoBaseline = errors.New("no baseline")

const (
	ReasonNoBaseline = "no baseline"
	ReasonNoMatch    = "no baseline within threshold"
)

// Verdict is the outcome of one verification. Distance is nil when no
// baseline could be compared.
type Verdict struct {
	Match             bool       `json:"match"`
	Distance          *float64   `json:"distance"`
	MatchedBaselineID *uuid.UUID `json:"matched_baseline_id"`
	Threshold         float64    `json:"threshold"`
	// Verified is false when the candidate passed without being compared.
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// Passed reports whether signing may proceed on this verdict.
func (v *Verdict) Passed(required bool) bool {
	if v.Match {
		return true
	}
	return !required && !v.Verified
}

// FailedError is returned when verification is required and the candidate
// did not match. It carries the verdict so callers can explain why.
type FailedError struct {
	Verdict Verdict
	Err     error
}

func (e *FailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("verification failed: %v", e.Err)
	}
	return "verification failed"
}

func (e *FailedError) Unwrap() []error {
	if e.Err != nil {
		return []error{apperr.ErrVerificationFailed, e.Err}
	}
	return []error{apperr.ErrVerificationFailed}
}

// Recorder persists verification audit rows.
type Recorder interface {
	Create(ctx context.Context, l *models.LogVerification) error
}

type Input struct {
	DocumentID uuid.UUID
	UserID     uuid.UUID
	Candidate  oracle.Image
	Baselines  []models.SignatureBaseline
}

type Engine struct {
	oracle oracle.Provider
	logs   Recorder
	cfg    config.VerifyConfig
}

func NewEngine(o oracle.Provider, logs Recorder, cfg config.VerifyConfig) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	return &Engine{oracle: o, logs: logs, cfg: cfg}
}

func (e *Engine) Threshold() float64 { return e.cfg.Threshold }
func (e *Engine) Required() bool     { return e.cfg.Required }

// Verify compares the candidate against every baseline that carries an
// embedding. A missing baseline set fails before the oracle is called when
// verification is required. Oracle failures return apperr.ErrOracleUnavailable
// and record nothing.
func (e *Engine) Verify(ctx context.Context, in Input) (*Verdict, error) {
	verdict := &Verdict{Threshold: e.cfg.Threshold}

	if len(in.Baselines) == 0 {
		verdict.Reason = ReasonNoBaseline
		e.record(ctx, in, verdict)
		if e.cfg.Required {
			return verdict, &FailedError{Verdict: *verdict, Err: ErrNoBaseline}
		}
		return verdict, nil
	}

	candidate, err := e.oracle.Extract(ctx, in.Candidate)
	if err != nil {
		return nil, fmt.Errorf("extract candidate embedding: %w", err)
	}

	verdict.Verified = true
	best := math.Inf(1)
	var bestID uuid.UUID
	for _, b := range in.Baselines {
		if !b.HasVector() {
			continue
		}
		d := Distance(candidate, b.FeatureVector)
		if d < best {
			best, bestID = d, b.ID
		}
		if e.cfg.ShortCircuit && best <= e.cfg.Threshold {
			break
		}
	}

	if !math.IsInf(best, 1) {
		verdict.Distance = &best
		verdict.MatchedBaselineID = &bestID
		verdict.Match = best <= e.cfg.Threshold
	}
	if !verdict.Match {
		verdict.Reason = ReasonNoMatch
	}

	e.record(ctx, in, verdict)

	if !verdict.Match && e.cfg.Required {
		return verdict, &FailedError{Verdict: *verdict}
	}
	return verdict, nil
}

// record writes the audit row. Failures are logged and swallowed.
func (e *Engine) record(ctx context.Context, in Input, v *Verdict) {
	if e.logs == nil {
		return
	}
	result := models.VerificationInvalid
	if v.Match {
		result = models.VerificationValid
	}
	entry := &models.LogVerification{
		DocumentID:         in.DocumentID,
		UserID:             in.UserID,
		VerificationResult: result,
		SimilarityScore:    v.Distance,
	}
	if err := e.logs.Create(ctx, entry); err != nil {
		slog.Warn("verification log write failed",
			"document_id", in.DocumentID, "user_id", in.UserID, "result", result, "error", err)
	}
}
