package verification

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/oracle"
	"github.com/nikhilbhutani/esignature/internal/oracle/oracletest"
	"github.com/nikhilbhutani/esignature/internal/repository/memstore"
)

func TestDistance(t *testing.T) {
	nan := float32(math.NaN())
	cases := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 0},
		{"3-4-5", []float32{0, 0}, []float32{3, 4}, 5},
		{"dimension mismatch", []float32{1, 2}, []float32{1, 2, 3}, math.Inf(1)},
		{"empty", nil, nil, math.Inf(1)},
		{"nan", []float32{nan, 1}, []float32{0, 1}, math.Inf(1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Distance(tc.a, tc.b)
			if got != tc.want {
				t.Errorf("Distance = %v, want %v", got, tc.want)
			}
			if back := Distance(tc.b, tc.a); back != got {
				t.Errorf("Distance not symmetric: %v vs %v", got, back)
			}
			if got < 0 {
				t.Errorf("negative distance %v", got)
			}
		})
	}
}

type fixture struct {
	engine *Engine
	oracle *oracletest.Stub
	db     *memstore.DB
	in     Input
}

func newFixture(cfg config.VerifyConfig, baselines ...[]float32) *fixture {
	stub := oracletest.New()
	store, db := memstore.NewStore()
	in := Input{
		DocumentID: uuid.New(),
		UserID:     uuid.New(),
		Candidate:  oracle.Image{Name: "candidate.png", Data: []byte("candidate")},
	}
	for _, vec := range baselines {
		in.Baselines = append(in.Baselines, models.SignatureBaseline{ID: uuid.New(), UserID: in.UserID, FeatureVector: vec})
	}
	return &fixture{engine: NewEngine(stub, store.Logs, cfg), oracle: stub, db: db, in: in}
}

func TestVerifyNoBaselineRequired(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true})

	v, err := f.engine.Verify(context.Background(), f.in)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want FailedError", err)
	}
	if !errors.Is(err, ErrNoBaseline) || !errors.Is(err, apperr.ErrVerificationFailed) {
		t.Errorf("err should wrap ErrNoBaseline and ErrVerificationFailed: %v", err)
	}
	if v.Match || v.Distance != nil {
		t.Errorf("verdict = %+v", v)
	}
	if ex, _ := f.oracle.Calls(); ex != 0 {
		t.Errorf("oracle called %d times, want 0", ex)
	}
	logs := f.db.Logs()
	if len(logs) != 1 || logs[0].VerificationResult != models.VerificationInvalid || logs[0].SimilarityScore != nil {
		t.Errorf("logs = %+v", logs)
	}
}

func TestVerifyNoBaselineOptional(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: false})

	v, err := f.engine.Verify(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if v.Verified || !v.Passed(false) {
		t.Errorf("unverified pass expected, got %+v", v)
	}
}

func TestVerifyPicksClosestBaseline(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true},
		[]float32{3, 0},
		nil,
		[]float32{0.3, 0},
		[]float32{1, 2, 3},
	)
	f.oracle.Set([]byte("candidate"), []float32{0, 0})

	v, err := f.engine.Verify(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Match || v.Distance == nil || math.Abs(*v.Distance-0.3) > 1e-6 {
		t.Fatalf("verdict = %+v", v)
	}
	if *v.MatchedBaselineID != f.in.Baselines[2].ID {
		t.Errorf("matched %v, want baseline 2", *v.MatchedBaselineID)
	}
	logs := f.db.Logs()
	if len(logs) != 1 || logs[0].VerificationResult != models.VerificationValid {
		t.Errorf("logs = %+v", logs)
	}
}

func TestVerifyNoMatchRequired(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true}, []float32{5, 5})
	f.oracle.Set([]byte("candidate"), []float32{0, 0})

	v, err := f.engine.Verify(context.Background(), f.in)
	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("err = %v, want FailedError", err)
	}
	if failed.Verdict.Distance == nil || failed.Verdict.Threshold != 0.8 {
		t.Errorf("verdict in error = %+v", failed.Verdict)
	}
	if v.Match {
		t.Error("expected no match")
	}
	if logs := f.db.Logs(); len(logs) != 1 || logs[0].VerificationResult != models.VerificationInvalid {
		t.Errorf("logs = %+v", logs)
	}
}

func TestVerifyOracleDownRecordsNothing(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true}, []float32{0, 0})
	f.oracle.Down = true

	_, err := f.engine.Verify(context.Background(), f.in)
	if !errors.Is(err, apperr.ErrOracleUnavailable) {
		t.Fatalf("err = %v, want ErrOracleUnavailable", err)
	}
	if logs := f.db.Logs(); len(logs) != 0 {
		t.Errorf("expected no log rows, got %d", len(logs))
	}
}

func TestVerifyLogFailureDoesNotAbort(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true}, []float32{0, 0})
	f.oracle.Set([]byte("candidate"), []float32{0, 0.1})
	f.db.FailLogs = true

	v, err := f.engine.Verify(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !v.Match {
		t.Errorf("verdict = %+v", v)
	}
}

func TestVerifyShortCircuit(t *testing.T) {
	f := newFixture(config.VerifyConfig{Threshold: 0.8, Required: true, ShortCircuit: true},
		[]float32{0.5, 0},
		[]float32{0.1, 0},
	)
	f.oracle.Set([]byte("candidate"), []float32{0, 0})

	v, err := f.engine.Verify(context.Background(), f.in)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if *v.MatchedBaselineID != f.in.Baselines[0].ID {
		t.Errorf("short circuit should stop at the first match")
	}
}
