// Package audit exposes the verification log for review.
package audit

import (
	"context"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

type Service struct {
	logs repository.VerificationLogs
}

func NewService(logs repository.VerificationLogs) *Service {
	return &Service{logs: logs}
}

type Query struct {
	Limit  int
	Offset int
}

func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Own lists the caller's verification attempts, newest first.
func (s *Service) Own(ctx context.Context, actor models.Actor, q Query) ([]models.LogVerificationView, error) {
	q = q.normalize()
	id := actor.ID
	return s.list(ctx, repository.LogQuery{UserID: &id, Limit: q.Limit, Offset: q.Offset})
}

// All lists every user's verification attempts. Admins only.
func (s *Service) All(ctx context.Context, actor models.Actor, q Query) ([]models.LogVerificationView, error) {
	if !actor.IsAdmin() {
		return nil, apperr.ErrForbidden
	}
	q = q.normalize()
	return s.list(ctx, repository.LogQuery{Limit: q.Limit, Offset: q.Offset})
}

func (s *Service) list(ctx context.Context, q repository.LogQuery) ([]models.LogVerificationView, error) {
	logs, err := s.logs.List(ctx, q)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.LogVerificationView{}
	}
	return logs, nil
}
