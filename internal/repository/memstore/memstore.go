// Package memstore is an in-memory implementation of the repository
// contracts. It backs the service tests and needs no database.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
)

type state struct {
	users      map[uuid.UUID]models.User
	documents  map[uuid.UUID]models.Document
	baselines  map[uuid.UUID]models.SignatureBaseline
	requests   map[uuid.UUID]models.SignatureRequest
	logs       []models.LogVerification
	webhooks   map[uuid.UUID]models.Webhook
	deliveries []models.WebhookDelivery
}

func (s *state) clone() *state {
	return &state{
		users:      maps.Clone(s.users),
		documents:  maps.Clone(s.documents),
		baselines:  maps.Clone(s.baselines),
		requests:   maps.Clone(s.requests),
		logs:       append([]models.LogVerification(nil), s.logs...),
		webhooks:   maps.Clone(s.webhooks),
		deliveries: append([]models.WebhookDelivery(nil), s.deliveries...),
	}
}

// DB holds every table behind one mutex.
type DB struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	st    *state
	clock func() time.Time
	last  time.Time

	// FailLogs makes verification log writes fail, for exercising
	// fail-open paths.
	FailLogs bool
}

func New() *DB {
	return &DB{
		st: &state{
			users:     map[uuid.UUID]models.User{},
			documents: map[uuid.UUID]models.Document{},
			baselines: map[uuid.UUID]models.SignatureBaseline{},
			requests:  map[uuid.UUID]models.SignatureRequest{},
			webhooks:  map[uuid.UUID]models.Webhook{},
		},
		clock: time.Now,
	}
}

// NewStore returns a Store whose repositories share one DB.
func NewStore() (*repository.Store, *DB) {
	db := New()
	return db.Store(), db
}

func (db *DB) Store() *repository.Store {
	return &repository.Store{
		Users:     &users{db},
		Documents: &documents{db},
		Baselines: &baselines{db},
		Requests:  &requests{db},
		Logs:      &logs{db},
		Webhooks:  &webhooks{db},
		Tx:        &transactor{db},
	}
}

// now returns strictly increasing timestamps so ordering by time is stable.
// Callers hold mu.
func (db *DB) now() time.Time {
	t := db.clock().UTC()
	if !t.After(db.last) {
		t = db.last.Add(time.Microsecond)
	}
	db.last = t
	return t
}

type txKey struct{}

type transactor struct{ db *DB }

// InTx serialises transactions and restores the previous state when fn fails.
func (t *transactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	t.db.txMu.Lock()
	defer t.db.txMu.Unlock()

	t.db.mu.Lock()
	snapshot := t.db.st.clone()
	t.db.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		t.db.mu.Lock()
		t.db.st = snapshot
		t.db.mu.Unlock()
		return err
	}
	return nil
}

type users struct{ db *DB }

func (r *users) Create(_ context.Context, u *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u.Email = strings.ToLower(u.Email)
	for _, existing := range r.db.st.users {
		if existing.Email == u.Email {
			return fmt.Errorf("email already registered: %w", apperr.ErrConflict)
		}
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	u.RegisterDate = r.db.now()
	r.db.st.users[u.ID] = *u
	return nil
}

func (r *users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.st.users[id]
	if !ok {
		return nil, apperr.NotFound("user")
	}
	return &u, nil
}

func (r *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email = strings.ToLower(email)
	for _, u := range r.db.st.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, apperr.NotFound("user")
}

func (r *users) Update(_ context.Context, u *models.User) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.st.users[u.ID]
	if !ok {
		return apperr.NotFound("user")
	}
	cur.Name, cur.Role, cur.StatusRegis = u.Name, u.Role, u.StatusRegis
	r.db.st.users[u.ID] = cur
	return nil
}

func (r *users) SearchByEmail(_ context.Context, q string, exclude uuid.UUID, limit int) ([]models.UserSummary, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	q = strings.ToLower(q)
	var out []models.UserSummary
	for _, u := range r.db.st.users {
		if u.ID != exclude && strings.Contains(u.Email, q) {
			out = append(out, u.Summary())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *users) ListByRoleStatus(_ context.Context, role, status string) ([]models.User, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.User
	for _, u := range r.db.st.users {
		if u.Role == role && u.StatusRegis == status {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisterDate.Before(out[j].RegisterDate) })
	return out, nil
}

type documents struct{ db *DB }

func (r *documents) Create(_ context.Context, d *models.Document) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = r.db.now()
	d.UpdatedAt = d.CreatedAt
	r.db.st.documents[d.ID] = *d
	return nil
}

func (r *documents) GetByID(_ context.Context, id uuid.UUID) (*models.Document, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.st.documents[id]
	if !ok {
		return nil, apperr.NotFound("document")
	}
	return &d, nil
}

func (r *documents) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Document, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Document
	for _, d := range r.db.st.documents {
		if d.UserID == ownerID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *documents) UpdateFile(_ context.Context, id uuid.UUID, filePath, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.st.documents[id]
	if !ok {
		return apperr.NotFound("document")
	}
	d.FilePath, d.Status, d.UpdatedAt = filePath, status, r.db.now()
	r.db.st.documents[id] = d
	return nil
}

func (r *documents) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	d, ok := r.db.st.documents[id]
	if !ok {
		return apperr.NotFound("document")
	}
	d.Status, d.UpdatedAt = status, r.db.now()
	r.db.st.documents[id] = d
	return nil
}

type baselines struct{ db *DB }

func (r *baselines) Create(_ context.Context, b *models.SignatureBaseline) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = r.db.now()
	b.UpdatedAt = b.CreatedAt
	r.db.st.baselines[b.ID] = *b
	return nil
}

func (r *baselines) GetByID(_ context.Context, id uuid.UUID) (*models.SignatureBaseline, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.st.baselines[id]
	if !ok {
		return nil, apperr.NotFound("baseline")
	}
	return &b, nil
}

func (r *baselines) ListByUser(_ context.Context, userID uuid.UUID) ([]models.SignatureBaseline, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.SignatureBaseline
	for _, b := range r.db.st.baselines {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *baselines) CountByUser(_ context.Context, userID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, b := range r.db.st.baselines {
		if b.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *baselines) Update(_ context.Context, b *models.SignatureBaseline) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	cur, ok := r.db.st.baselines[b.ID]
	if !ok || cur.UserID != b.UserID {
		return apperr.NotFound("baseline")
	}
	cur.SignImage, cur.FeatureVector, cur.UpdatedAt = b.SignImage, b.FeatureVector, r.db.now()
	b.UpdatedAt = cur.UpdatedAt
	r.db.st.baselines[b.ID] = cur
	return nil
}

type requests struct{ db *DB }

func (r *requests) Create(_ context.Context, req *models.SignatureRequest) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = models.ReqStatusPending
	}
	req.RecipientEmail = strings.ToLower(strings.TrimSpace(req.RecipientEmail))
	req.CreatedAt = r.db.now()
	req.UpdatedAt = req.CreatedAt
	r.db.st.requests[req.ID] = *req
	return nil
}

func (r *requests) GetByID(_ context.Context, id uuid.UUID) (*models.SignatureRequest, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.st.requests[id]
	if !ok {
		return nil, apperr.NotFound("request")
	}
	return &req, nil
}

func (r *requests) filter(keep func(models.SignatureRequest) bool, newestFirst bool) []models.SignatureRequest {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.SignatureRequest
	for _, req := range r.db.st.requests {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *requests) ListIncoming(_ context.Context, signerID uuid.UUID, email string, f repository.RequestFilter) ([]models.SignatureRequest, error) {
	email = strings.ToLower(email)
	return r.filter(func(req models.SignatureRequest) bool {
		return (req.IsSigner(signerID) || req.RecipientEmail == email) &&
			(f.Status == "" || req.Status == f.Status)
	}, true), nil
}

func (r *requests) ListOutgoing(_ context.Context, requesterID uuid.UUID, f repository.RequestFilter) ([]models.SignatureRequest, error) {
	return r.filter(func(req models.SignatureRequest) bool {
		return req.RequesterID == requesterID && (f.Status == "" || req.Status == f.Status)
	}, true), nil
}

func (r *requests) ListByDocument(_ context.Context, documentID uuid.UUID) ([]models.SignatureRequest, error) {
	return r.filter(func(req models.SignatureRequest) bool {
		return req.DocumentID == documentID
	}, false), nil
}

func (r *requests) ListHistory(_ context.Context, userID uuid.UUID, email string, statuses []string) ([]models.SignatureRequest, error) {
	email = strings.ToLower(email)
	return r.filter(func(req models.SignatureRequest) bool {
		involved := req.RequesterID == userID || req.IsSigner(userID) || req.RecipientEmail == email
		if !involved {
			return false
		}
		for _, s := range statuses {
			if req.Status == s {
				return true
			}
		}
		return false
	}, true), nil
}

func (r *requests) TransitionStatus(_ context.Context, id uuid.UUID, from, to string) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.st.requests[id]
	if !ok || req.Status != from {
		return fmt.Errorf("request not in status %s: %w", from, apperr.ErrConflict)
	}
	req.Status, req.UpdatedAt = to, r.db.now()
	r.db.st.requests[id] = req
	return nil
}

func (r *requests) SetSigner(_ context.Context, id, signerID uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	req, ok := r.db.st.requests[id]
	if !ok || req.SignerID != nil {
		return nil
	}
	req.SignerID, req.UpdatedAt = &signerID, r.db.now()
	r.db.st.requests[id] = req
	return nil
}

func (r *requests) BackfillSigner(_ context.Context, email string, signerID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	email = strings.ToLower(email)
	n := 0
	for id, req := range r.db.st.requests {
		if req.SignerID == nil && req.RecipientEmail == email {
			sid := signerID
			req.SignerID, req.UpdatedAt = &sid, r.db.now()
			r.db.st.requests[id] = req
			n++
		}
	}
	return n, nil
}

func (r *requests) CountNotCompleted(_ context.Context, documentID uuid.UUID) (int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	n := 0
	for _, req := range r.db.st.requests {
		if req.DocumentID == documentID && req.Status != models.ReqStatusCompleted {
			n++
		}
	}
	return n, nil
}

type logs struct{ db *DB }

func (r *logs) Create(_ context.Context, l *models.LogVerification) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if r.db.FailLogs {
		return fmt.Errorf("insert verification log: %w", apperr.ErrStorage)
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.Timestamp = r.db.now()
	r.db.st.logs = append(r.db.st.logs, *l)
	return nil
}

func (r *logs) List(_ context.Context, q repository.LogQuery) ([]models.LogVerificationView, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if q.Limit <= 0 {
		q.Limit = 50
	}
	var out []models.LogVerificationView
	for i := len(r.db.st.logs) - 1; i >= 0; i-- {
		l := r.db.st.logs[i]
		if q.UserID != nil && l.UserID != *q.UserID {
			continue
		}
		u, uok := r.db.st.users[l.UserID]
		d, dok := r.db.st.documents[l.DocumentID]
		if !uok || !dok {
			continue
		}
		out = append(out, models.LogVerificationView{
			LogVerification: l,
			User:            u.Summary(),
			Document:        models.DocumentSummary{ID: d.ID, Title: d.Title, FilePath: d.FilePath},
		})
	}
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Logs returns a copy of every verification log written so far.
func (db *DB) Logs() []models.LogVerification {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.LogVerification(nil), db.st.logs...)
}

// Deliveries returns a copy of every recorded webhook delivery.
func (db *DB) Deliveries() []models.WebhookDelivery {
	db.mu.Lock()
	defer db.mu.Unlock()
	return append([]models.WebhookDelivery(nil), db.st.deliveries...)
}

type webhooks struct{ db *DB }

func (r *webhooks) Create(_ context.Context, w *models.Webhook) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	w.CreatedAt = r.db.now()
	r.db.st.webhooks[w.ID] = *w
	return nil
}

func (r *webhooks) ListByUser(_ context.Context, userID uuid.UUID) ([]models.Webhook, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []models.Webhook
	for _, w := range r.db.st.webhooks {
		if w.UserID == userID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *webhooks) ListSubscribed(ctx context.Context, userID uuid.UUID, event string) ([]models.Webhook, error) {
	all, _ := r.ListByUser(ctx, userID)
	var out []models.Webhook
	for _, w := range all {
		if w.Subscribed(event) {
			out = append(out, w)
		}
	}
	return out, nil
}

func (r *webhooks) Delete(_ context.Context, userID, id uuid.UUID) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	w, ok := r.db.st.webhooks[id]
	if !ok || w.UserID != userID {
		return apperr.NotFound("webhook")
	}
	delete(r.db.st.webhooks, id)
	return nil
}

func (r *webhooks) RecordDelivery(_ context.Context, d *models.WebhookDelivery) error {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = r.db.now()
	r.db.st.deliveries = append(r.db.st.deliveries, *d)
	return nil
}
