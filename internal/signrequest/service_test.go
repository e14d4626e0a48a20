package signrequest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/lifecycle"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/repository"
	"github.com/nikhilbhutani/esignature/internal/repository/memstore"
)

type recordedEvent struct {
	userID uuid.UUID
	event  string
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (n *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, event string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, recordedEvent{userID, event})
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
	hits int
	// afterDelete runs once a Delete has released the lock.
	afterDelete func()
}

func (c *mapCache) Get(_ context.Context, key string, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return cache.ErrMiss
	}
	c.hits++
	return json.Unmarshal(raw, dest)
}

func (c *mapCache) Set(_ context.Context, key string, v any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.data[key] = raw
	return nil
}

func (c *mapCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.data, k)
	}
	hook := c.afterDelete
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

type env struct {
	svc      *Service
	store    *repository.Store
	notifier *fakeNotifier
	cache    *mapCache
	alice    models.Actor
	doc      *models.Document
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store, _ := memstore.NewStore()
	n := &fakeNotifier{}
	c := &mapCache{data: map[string][]byte{}}
	svc := NewService(store, lifecycle.NewManager(store), WithNotifier(n), WithCache(c, time.Minute))

	alice := &models.User{Name: "Alice", Email: "alice@example.com", Role: models.RoleUser, StatusRegis: models.RegisApproved}
	if err := store.Users.Create(ctx, alice); err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{UserID: alice.ID, Title: "contract", FilePath: "documents/1_contract.pdf", Status: models.DocStatusPending}
	if err := store.Documents.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	return &env{
		svc: svc, store: store, notifier: n, cache: c, doc: doc,
		alice: models.Actor{ID: alice.ID, Email: alice.Email, Role: alice.Role},
	}
}

func (e *env) addUser(t *testing.T, name, email string) models.Actor {
	t.Helper()
	u := &models.User{Name: name, Email: email, Role: models.RoleUser, StatusRegis: models.RegisApproved}
	if err := e.store.Users.Create(context.Background(), u); err != nil {
		t.Fatal(err)
	}
	return models.Actor{ID: u.ID, Email: u.Email, Role: u.Role}
}

func TestEmailAddressedRequestIsBackfilledOnApprove(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	req, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByEmail("B@Example.com"), Note: "please sign"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.SignerID != nil || req.RecipientEmail != "b@example.com" || req.Status != models.ReqStatusPending {
		t.Fatalf("request = %+v", req)
	}

	// B registers after the request was sent.
	bob := e.addUser(t, "Bob", "b@example.com")

	approved, err := e.svc.Approve(ctx, bob, req.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if approved.Status != models.ReqStatusApproved {
		t.Errorf("status = %s", approved.Status)
	}
	stored, _ := e.store.Requests.GetByID(ctx, req.ID)
	if stored.SignerID == nil || *stored.SignerID != bob.ID {
		t.Errorf("signer_id not backfilled: %v", stored.SignerID)
	}
	if stored.Status != models.ReqStatusApproved {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestCreateBindsKnownEmail(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")

	req, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByEmail("bob@example.com")})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if req.SignerID == nil || *req.SignerID != bob.ID {
		t.Errorf("signer not bound: %+v", req)
	}
	if len(e.notifier.events) != 2 {
		t.Errorf("events = %+v, want requester and signer notified", e.notifier.events)
	}
}

func TestCreateRules(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	mallory := e.addUser(t, "Mallory", "m@example.com")

	if _, err := e.svc.Create(ctx, mallory, CreateInput{DocumentID: e.doc.ID, Signer: ByEmail("x@example.com")}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("non-owner create err = %v, want not found", err)
	}
	if _, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(e.alice.ID)}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("self request err = %v, want validation", err)
	}
	if _, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(uuid.New())}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("unknown signer id err = %v, want validation", err)
	}
}

func TestApproveOnlyOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	req, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.svc.Approve(ctx, bob, req.ID); err != nil {
		t.Fatalf("first Approve: %v", err)
	}
	for _, decide := range []func(context.Context, models.Actor, uuid.UUID) (*models.SignatureRequest, error){e.svc.Approve, e.svc.Reject} {
		_, err := decide(ctx, bob, req.ID)
		var stateErr *apperr.StateError
		if !errors.As(err, &stateErr) || stateErr.Current != models.ReqStatusApproved {
			t.Errorf("second decision err = %v, want StateError(current=approved)", err)
		}
	}
	stored, _ := e.store.Requests.GetByID(ctx, req.ID)
	if stored.Status != models.ReqStatusApproved {
		t.Errorf("status changed to %s", stored.Status)
	}
}

func TestRejectMarksDocument(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	req, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})

	if _, err := e.svc.Reject(ctx, bob, req.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	doc, _ := e.store.Documents.GetByID(ctx, e.doc.ID)
	if doc.Status != models.DocStatusRejected {
		t.Errorf("document status = %s", doc.Status)
	}
	if _, err := e.svc.Approve(ctx, bob, req.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("approve after reject err = %v", err)
	}
}

func TestRejectDoesNotLeaveStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	req, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})

	// A reader racing the invalidation re-caches whatever it sees.
	e.cache.afterDelete = func() {
		if _, err := e.svc.PublicStatus(ctx, e.doc.ID); err != nil {
			t.Errorf("PublicStatus during invalidation: %v", err)
		}
	}
	if _, err := e.svc.Reject(ctx, bob, req.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	e.cache.afterDelete = nil

	st, err := e.svc.PublicStatus(ctx, e.doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if st.Document.Status != models.DocStatusRejected || st.Signers[0].Status != models.ReqStatusRejected {
		t.Errorf("cached snapshot = document %s, signer %s", st.Document.Status, st.Signers[0].Status)
	}
}

func TestOnlyAddressedSignerMayDecide(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	eve := e.addUser(t, "Eve", "eve@example.com")
	req, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})

	for _, actor := range []models.Actor{eve, e.alice} {
		if _, err := e.svc.Approve(ctx, actor, req.ID); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("approve by %s err = %v, want not found", actor.Email, err)
		}
	}
}

func TestListIncomingBackfillsAndFilters(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	first, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByEmail("carol@example.com")})
	if _, err := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByEmail("carol@example.com")}); err != nil {
		t.Fatal(err)
	}
	carol := e.addUser(t, "Carol", "carol@example.com")

	all, err := e.svc.ListIncoming(ctx, carol, "")
	if err != nil {
		t.Fatalf("ListIncoming: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("incoming = %d, want 2", len(all))
	}
	for _, r := range all {
		if r.SignerID == nil || *r.SignerID != carol.ID {
			t.Errorf("request %s not bound to carol", r.ID)
		}
	}

	if _, err := e.svc.Approve(ctx, carol, first.ID); err != nil {
		t.Fatal(err)
	}
	pending, _ := e.svc.ListIncoming(ctx, carol, "pending")
	if len(pending) != 1 {
		t.Errorf("pending = %d, want 1", len(pending))
	}
	if _, err := e.svc.ListIncoming(ctx, carol, "bogus"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("bad filter err = %v", err)
	}

	out, _ := e.svc.ListOutgoing(ctx, e.alice, "approved")
	if len(out) != 1 || out[0].ID != first.ID {
		t.Errorf("outgoing approved = %+v", out)
	}
	hist, _ := e.svc.History(ctx, carol)
	if len(hist) != 1 {
		t.Errorf("history = %d, want 1", len(hist))
	}
}

func TestApprovedSignature(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	req, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})

	if _, err := e.svc.ApprovedSignature(ctx, e.alice, req.ID); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("pending request err = %v, want conflict", err)
	}
	if _, err := e.svc.Approve(ctx, bob, req.ID); err != nil {
		t.Fatal(err)
	}
	b := &models.SignatureBaseline{UserID: bob.ID, SignImage: "signatures/b/1.png"}
	if err := e.store.Baselines.Create(ctx, b); err != nil {
		t.Fatal(err)
	}

	got, err := e.svc.ApprovedSignature(ctx, e.alice, req.ID)
	if err != nil {
		t.Fatalf("ApprovedSignature: %v", err)
	}
	if got.Signer.ID != bob.ID || len(got.Baselines) != 1 {
		t.Errorf("approved signature = %+v", got)
	}
	if _, err := e.svc.ApprovedSignature(ctx, bob, req.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("signer fetch err = %v, want not found", err)
	}
}

func TestPublicStatusCachedAndInvalidated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	bob := e.addUser(t, "Bob", "bob@example.com")
	req, _ := e.svc.Create(ctx, e.alice, CreateInput{DocumentID: e.doc.ID, Signer: ByID(bob.ID)})

	st, err := e.svc.PublicStatus(ctx, e.doc.ID)
	if err != nil {
		t.Fatalf("PublicStatus: %v", err)
	}
	if st.Owner.ID != e.alice.ID || len(st.Signers) != 1 || st.Signers[0].Name != "Bob" {
		t.Fatalf("status = %+v", st)
	}
	if _, err := e.svc.PublicStatus(ctx, e.doc.ID); err != nil {
		t.Fatal(err)
	}
	if e.cache.hits != 1 {
		t.Errorf("cache hits = %d, want 1", e.cache.hits)
	}

	if _, err := e.svc.Approve(ctx, bob, req.ID); err != nil {
		t.Fatal(err)
	}
	st, _ = e.svc.PublicStatus(ctx, e.doc.ID)
	if st.Signers[0].Status != models.ReqStatusApproved {
		t.Errorf("stale public status after approve: %s", st.Signers[0].Status)
	}

	if _, err := e.svc.PublicStatus(ctx, uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("unknown document err = %v", err)
	}
}

func TestParseSignerRef(t *testing.T) {
	id := uuid.New()
	ref, err := ParseSignerRef(id.String(), "ignored@example.com")
	if err != nil || ref.IsEmail() {
		t.Errorf("id ref = %+v, %v", ref, err)
	}
	ref, err = ParseSignerRef("", " Someone@Example.com ")
	if err != nil || !ref.IsEmail() || ref.email != "someone@example.com" {
		t.Errorf("email ref = %+v, %v", ref, err)
	}
	for _, bad := range [][2]string{{"not-a-uuid", ""}, {"", ""}, {"", "no-at-sign"}} {
		if _, err := ParseSignerRef(bad[0], bad[1]); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("ParseSignerRef(%q, %q) err = %v", bad[0], bad[1], err)
		}
	}
}
