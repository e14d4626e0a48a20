// Package baseline manages the reference signatures a user enrolls for
// later verification.
package baseline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/oracle"
	"github.com/nikhilbhutani/esignature/internal/repository"
	"github.com/nikhilbhutani/esignature/internal/storage"
)

// ErrMismatch rejects an enrollment that resembles none of the user's
// existing baselines.
var ErrMismatch = fmt.Errorf("%w: signature does not match any enrolled baseline", apperr.ErrVerificationFailed)

// Upload is an image received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
}

// ValidateImage checks that up is a non-empty PNG or JPEG.
func ValidateImage(up Upload) error {
	if len(up.Data) == 0 {
		return apperr.Validation("signature image is required")
	}
	ct := http.DetectContentType(up.Data)
	if !allowedImageTypes[ct] {
		return apperr.Validationf("signature must be a PNG or JPEG image, got %s", ct)
	}
	return nil
}

func contentType(up Upload) string {
	return http.DetectContentType(up.Data)
}

type Service struct {
	repo   repository.Baselines
	store  storage.Storage
	oracle oracle.Provider
	locks  cache.Locker
	cfg    config.VerifyConfig
}

func NewService(repo repository.Baselines, store storage.Storage, o oracle.Provider, locks cache.Locker, cfg config.VerifyConfig) *Service {
	if cfg.MaxBaselines <= 0 {
		cfg.MaxBaselines = models.MaxBaselinesPerUser
	}
	if cfg.EnrollThreshold <= 0 {
		cfg.EnrollThreshold = 0.8
	}
	return &Service{repo: repo, store: store, oracle: o, locks: locks, cfg: cfg}
}

type AddResult struct {
	Baseline *models.SignatureBaseline `json:"baseline"`
	// MatchedBaselineID is the enrolled baseline the new one was checked
	// against. It is nil for the first baseline.
	MatchedBaselineID *uuid.UUID `json:"matched_baseline_id,omitempty"`
}

// Add enrolls a new baseline. The first one is accepted as is; later ones
// must match an existing baseline through the oracle. The limit is checked
// before anything is written, and the stored image is removed on every
// failure path.
func (s *Service) Add(ctx context.Context, userID uuid.UUID, up Upload) (_ *AddResult, err error) {
	if err := ValidateImage(up); err != nil {
		return nil, err
	}

	release, err := s.locks.Acquire(ctx, "baselines:"+userID.String(), time.Minute)
	if err != nil {
		return nil, fmt.Errorf("baseline upload already in progress: %w", err)
	}
	defer release()

	existing, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(existing) >= s.cfg.MaxBaselines {
		return nil, apperr.Validationf("a user may enroll at most %d baselines", s.cfg.MaxBaselines)
	}

	key := storage.SignatureKey(userID, up.Filename)
	if err := s.store.Put(ctx, key, bytes.NewReader(up.Data), contentType(up)); err != nil {
		return nil, fmt.Errorf("store baseline image: %w", err)
	}
	defer func() {
		if err != nil {
			s.discard(key)
		}
	}()

	candidate := oracle.Image{Name: filepath.Base(key), Data: up.Data}
	embedding, err := s.oracle.Extract(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("extract baseline embedding: %w", err)
	}

	var matched *uuid.UUID
	if len(existing) > 0 {
		matched, err = s.matchExisting(ctx, candidate, existing)
		if err != nil {
			return nil, err
		}
	}

	b := &models.SignatureBaseline{
		UserID:        userID,
		SignImage:     key,
		FeatureVector: embedding,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	slog.Info("baseline enrolled", "user_id", userID, "baseline_id", b.ID, "count", len(existing)+1)
	return &AddResult{Baseline: b, MatchedBaselineID: matched}, nil
}

// matchExisting asks the oracle to compare the candidate with each enrolled
// baseline image and returns the first that matches.
func (s *Service) matchExisting(ctx context.Context, candidate oracle.Image, existing []models.SignatureBaseline) (*uuid.UUID, error) {
	for _, b := range existing {
		img, err := s.Image(ctx, &b)
		if storage.IsNotFound(err) {
			slog.Warn("baseline image missing", "baseline_id", b.ID, "key", b.SignImage)
			continue
		}
		if err != nil {
			return nil, err
		}
		res, err := s.oracle.Compare(ctx, candidate, img, s.cfg.EnrollThreshold)
		if err != nil {
			return nil, fmt.Errorf("compare with baseline %s: %w", b.ID, err)
		}
		slog.Debug("baseline compared", "baseline_id", b.ID, "distance", res.Distance, "match", res.Match)
		if res.Match {
			id := b.ID
			return &id, nil
		}
	}
	return nil, ErrMismatch
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.SignatureBaseline, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get returns a baseline owned by userID. Baselines of other users are
// reported as not found.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.SignatureBaseline, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, apperr.NotFound("baseline")
	}
	return b, nil
}

// Update replaces the image and embedding of a baseline. The previous
// image is deleted only after the row points at the new one.
func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, up Upload) (_ *models.SignatureBaseline, err error) {
	if err := ValidateImage(up); err != nil {
		return nil, err
	}
	b, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	oldKey := b.SignImage

	key := storage.SignatureKey(userID, up.Filename)
	if err := s.store.Put(ctx, key, bytes.NewReader(up.Data), contentType(up)); err != nil {
		return nil, fmt.Errorf("store baseline image: %w", err)
	}
	defer func() {
		if err != nil {
			s.discard(key)
		}
	}()

	embedding, err := s.oracle.Extract(ctx, oracle.Image{Name: filepath.Base(key), Data: up.Data})
	if err != nil {
		return nil, fmt.Errorf("extract baseline embedding: %w", err)
	}

	b.SignImage = key
	b.FeatureVector = embedding
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}

	if oldKey != "" && oldKey != key {
		s.discard(oldKey)
	}
	return b, nil
}

// Image loads the stored image of a baseline.
func (s *Service) Image(ctx context.Context, b *models.SignatureBaseline) (oracle.Image, error) {
	data, err := storage.ReadAll(ctx, s.store, b.SignImage)
	if err != nil {
		return oracle.Image{}, fmt.Errorf("load baseline %s image: %w", b.ID, err)
	}
	return oracle.Image{Name: filepath.Base(b.SignImage), Data: data}, nil
}

// discard deletes key on a fresh context so cleanup runs even after the
// request was cancelled.
func (s *Service) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, key); err != nil {
		slog.Error("delete baseline image failed", "key", key, "error", err)
	}
}
