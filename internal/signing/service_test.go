package signing

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/lifecycle"
	"github.com/nikhilbhutani/esignature/internal/models"
	"github.com/nikhilbhutani/esignature/internal/oracle/oracletest"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/render/rendertest"
	"github.com/nikhilbhutani/esignature/internal/repository"
	"github.com/nikhilbhutani/esignature/internal/repository/memstore"
	"github.com/nikhilbhutani/esignature/internal/storage"
	"github.com/nikhilbhutani/esignature/internal/verification"
)

type event struct {
	user  uuid.UUID
	event string
}

type spyNotifier struct {
	mu     sync.Mutex
	events []event
}

func (n *spyNotifier) Notify(_ context.Context, userID uuid.UUID, ev string, _ any) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event{userID, ev})
}

func (n *spyNotifier) count(ev string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.event == ev {
			c++
		}
	}
	return c
}

type fixture struct {
	svc      *Service
	store    *repository.Store
	db       *memstore.DB
	files    *storage.Local
	root     string
	oracle   *oracletest.Stub
	locks    *cache.LocalLocker
	notifier *spyNotifier
	owner    models.Actor
}

func newFixture(t *testing.T, required bool) *fixture {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewLocal(root, "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	store, db := memstore.NewStore()
	stub := oracletest.New()
	locks := cache.NewLocalLocker()
	vcfg := config.VerifyConfig{Threshold: 0.8, Required: required, EnrollThreshold: 0.8, MaxBaselines: 5}

	baselines := baseline.NewService(store.Baselines, files, stub, locks, vcfg)
	notifier := &spyNotifier{}
	svc := NewService(Deps{
		Store:     store,
		Files:     files,
		Engine:    verification.NewEngine(stub, store.Logs, vcfg),
		Renderer:  render.NewRenderer(files, config.RenderConfig{VerifyBaseURL: "http://localhost/api/v1/requests/public", QRSize: 96, Gap: 8, Margin: 16}),
		Lifecycle: lifecycle.NewManager(store),
		Images:    baselines,
		Locks:     locks,
		LockTTL:   time.Minute,
	}, WithNotifier(notifier))

	owner := &models.User{Name: "Owner", Email: "owner@example.com", Role: models.RoleUser, StatusRegis: models.RegisApproved}
	if err := store.Users.Create(context.Background(), owner); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		svc: svc, store: store, db: db, files: files, root: root, oracle: stub,
		locks: locks, notifier: notifier,
		owner: models.Actor{ID: owner.ID, Email: owner.Email, Role: owner.Role},
	}
}

func (f *fixture) document(t *testing.T) (*models.Document, []byte) {
	t.Helper()
	ctx := context.Background()
	src := rendertest.MinimalPDF(1, 612, 792)
	key := "documents/1_contract.pdf"
	if err := f.files.Put(ctx, key, bytes.NewReader(src), "application/pdf"); err != nil {
		t.Fatal(err)
	}
	doc := &models.Document{UserID: f.owner.ID, Title: "Contract", FilePath: key, Status: models.DocStatusPending}
	if err := f.store.Documents.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}
	return doc, src
}

func (f *fixture) tmpFiles(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(f.root, "tmp"))
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

func signaturePNG(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestApplySignatureMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, src := f.document(t)

	if err := f.store.Baselines.Create(ctx, &models.SignatureBaseline{
		UserID: f.owner.ID, SignImage: "signatures/b.png", FeatureVector: []float32{0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	sig := signaturePNG(t, 40)
	f.oracle.Set(sig, []float32{0.3, 0})

	res, err := f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: sig},
	})
	if err != nil {
		t.Fatalf("ApplySignature: %v", err)
	}
	if !res.Verdict.Match || res.Verdict.Distance == nil || math.Abs(*res.Verdict.Distance-0.3) > 1e-6 {
		t.Errorf("verdict = %+v", res.Verdict)
	}

	logs := f.db.Logs()
	if len(logs) != 1 || logs[0].VerificationResult != models.VerificationValid {
		t.Fatalf("logs = %+v", logs)
	}

	orig, _ := storage.ReadAll(ctx, f.files, "documents/1_contract.pdf")
	if !bytes.Equal(orig, src) {
		t.Error("original document was modified")
	}
	if ok, _ := f.files.Exists(ctx, res.Render.Key); !ok {
		t.Errorf("signed artifact %s missing", res.Render.Key)
	}

	got, _ := f.store.Documents.GetByID(ctx, doc.ID)
	if got.FilePath != res.Render.Key {
		t.Errorf("file path = %s, want %s", got.FilePath, res.Render.Key)
	}
	// No open requests, so signing completes the document.
	if got.Status != models.DocStatusCompleted || !res.Completed {
		t.Errorf("status = %s completed = %v", got.Status, res.Completed)
	}
	if n := f.tmpFiles(t); n != 0 {
		t.Errorf("%d temporary files left", n)
	}
	if f.notifier.count(EventSigned) != 1 || f.notifier.count(EventCompleted) != 1 {
		t.Errorf("events = %+v", f.notifier.events)
	}
}

func TestApplySignatureStaysSignedWithOpenRequest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, _ := f.document(t)

	if err := f.store.Requests.Create(ctx, &models.SignatureRequest{
		DocumentID: doc.ID, RequesterID: f.owner.ID, RecipientEmail: "later@example.com",
	}); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Baselines.Create(ctx, &models.SignatureBaseline{
		UserID: f.owner.ID, SignImage: "signatures/b.png", FeatureVector: []float32{1, 1},
	}); err != nil {
		t.Fatal(err)
	}
	sig := signaturePNG(t, 80)
	f.oracle.Set(sig, []float32{1, 1})

	res, err := f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: sig},
	})
	if err != nil {
		t.Fatalf("ApplySignature: %v", err)
	}
	if res.Completed || res.Document.Status != models.DocStatusSigned {
		t.Errorf("status = %s completed = %v", res.Document.Status, res.Completed)
	}
}

func TestApplySignatureWithoutBaselineFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, _ := f.document(t)
	sig := signaturePNG(t, 40)

	_, err := f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: sig},
	})
	if !errors.Is(err, apperr.ErrVerificationFailed) {
		t.Fatalf("err = %v, want verification failed", err)
	}
	var fe *verification.FailedError
	if !errors.As(err, &fe) || fe.Verdict.Reason != verification.ReasonNoBaseline {
		t.Errorf("verdict = %+v", fe)
	}
	if extract, _ := f.oracle.Calls(); extract != 0 {
		t.Errorf("oracle called %d times", extract)
	}
	if n := f.tmpFiles(t); n != 0 {
		t.Errorf("%d temporary files left", n)
	}
	got, _ := f.store.Documents.GetByID(ctx, doc.ID)
	if got.Status != models.DocStatusPending || got.FilePath != doc.FilePath {
		t.Errorf("document mutated: %+v", got)
	}
	logs := f.db.Logs()
	if len(logs) != 1 || logs[0].VerificationResult != models.VerificationInvalid || logs[0].SimilarityScore != nil {
		t.Errorf("logs = %+v", logs)
	}
}

func TestApplySignatureMismatchLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, _ := f.document(t)
	if err := f.store.Baselines.Create(ctx, &models.SignatureBaseline{
		UserID: f.owner.ID, SignImage: "signatures/b.png", FeatureVector: []float32{0, 0},
	}); err != nil {
		t.Fatal(err)
	}
	sig := signaturePNG(t, 40)
	f.oracle.Set(sig, []float32{3, 4})

	_, err := f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: sig},
	})
	var fe *verification.FailedError
	if !errors.As(err, &fe) || fe.Verdict.Distance == nil || *fe.Verdict.Distance != 5 {
		t.Fatalf("err = %v", err)
	}
	if n := f.tmpFiles(t); n != 0 {
		t.Errorf("%d temporary files left", n)
	}
	if _, err := os.Stat(filepath.Join(f.root, "signed")); !errors.Is(err, os.ErrNotExist) {
		t.Error("signed artifact written for a failed verification")
	}
}

func TestApplySignatureRejectsConcurrentSigning(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	doc, _ := f.document(t)

	release, err := f.locks.Acquire(ctx, "document:"+doc.ID.String(), time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	_, err = f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: signaturePNG(t, 1)},
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestApplySignatureOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	doc, _ := f.document(t)

	stranger := models.Actor{ID: uuid.New(), Email: "x@example.com", Role: models.RoleUser}
	_, err := f.svc.ApplySignature(ctx, stranger, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: signaturePNG(t, 1)},
	})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}

	_, err = f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.txt", Data: []byte("not an image")},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestApplySignatureUnverifiedWhenOptional(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	doc, _ := f.document(t)

	res, err := f.svc.ApplySignature(ctx, f.owner, ApplyInput{
		DocumentID: doc.ID, Page: 1, Rect: render.DefaultRect,
		Signature: baseline.Upload{Filename: "sig.png", Data: signaturePNG(t, 1)},
	})
	if err != nil {
		t.Fatalf("ApplySignature: %v", err)
	}
	if res.Verdict.Verified || res.Verdict.Match {
		t.Errorf("verdict = %+v", res.Verdict)
	}
}

func TestSignExternally(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, _ := f.document(t)

	signer := &models.User{Name: "Signer", Email: "b@example.com", Role: models.RoleUser, StatusRegis: models.RegisApproved}
	if err := f.store.Users.Create(ctx, signer); err != nil {
		t.Fatal(err)
	}
	if err := f.files.Put(ctx, "signatures/s.png", bytes.NewReader(signaturePNG(t, 9)), "image/png"); err != nil {
		t.Fatal(err)
	}
	if err := f.store.Baselines.Create(ctx, &models.SignatureBaseline{UserID: signer.ID, SignImage: "signatures/s.png"}); err != nil {
		t.Fatal(err)
	}
	req := &models.SignatureRequest{
		DocumentID: doc.ID, RequesterID: f.owner.ID, SignerID: &signer.ID, RecipientEmail: signer.Email,
		Status: models.ReqStatusPending,
	}
	if err := f.store.Requests.Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	in := ExternalInput{RequestID: req.ID, Page: 1, Rect: render.DefaultRect}
	if _, err := f.svc.SignExternally(ctx, f.owner, in); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("pending request err = %v, want conflict", err)
	}

	if err := f.store.Requests.TransitionStatus(ctx, req.ID, models.ReqStatusPending, models.ReqStatusApproved); err != nil {
		t.Fatal(err)
	}
	signerActor := models.Actor{ID: signer.ID, Email: signer.Email, Role: models.RoleUser}
	if _, err := f.svc.SignExternally(ctx, signerActor, in); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("non-requester err = %v, want not found", err)
	}

	res, err := f.svc.SignExternally(ctx, f.owner, in)
	if err != nil {
		t.Fatalf("SignExternally: %v", err)
	}
	if res.Request.Status != models.ReqStatusCompleted || !res.Completed {
		t.Errorf("request = %s completed = %v", res.Request.Status, res.Completed)
	}
	got, _ := f.store.Documents.GetByID(ctx, doc.ID)
	if got.Status != models.DocStatusCompleted || got.FilePath != res.Render.Key {
		t.Errorf("document = %+v", got)
	}
	if len(f.db.Logs()) != 0 {
		t.Error("delegated signing must not run verification")
	}
	if f.notifier.count(EventSigned) != 2 {
		t.Errorf("events = %+v", f.notifier.events)
	}

	if _, err := f.svc.SignExternally(ctx, f.owner, in); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("second signing err = %v, want conflict", err)
	}
}

func TestSignExternallyNeedsSignerBaseline(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	doc, _ := f.document(t)

	signer := &models.User{Name: "Signer", Email: "c@example.com", Role: models.RoleUser, StatusRegis: models.RegisApproved}
	if err := f.store.Users.Create(ctx, signer); err != nil {
		t.Fatal(err)
	}
	req := &models.SignatureRequest{
		DocumentID: doc.ID, RequesterID: f.owner.ID, SignerID: &signer.ID, RecipientEmail: signer.Email,
		Status: models.ReqStatusApproved,
	}
	if err := f.store.Requests.Create(ctx, req); err != nil {
		t.Fatal(err)
	}

	_, err := f.svc.SignExternally(ctx, f.owner, ExternalInput{RequestID: req.ID, Page: 1, Rect: render.DefaultRect})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("err = %v, want validation", err)
	}

	foreign := uuid.New()
	other := &models.SignatureBaseline{ID: foreign, UserID: f.owner.ID, SignImage: "signatures/o.png"}
	if err := f.store.Baselines.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	_, err = f.svc.SignExternally(ctx, f.owner, ExternalInput{RequestID: req.ID, BaselineID: &foreign, Page: 1, Rect: render.DefaultRect})
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("foreign baseline err = %v, want not found", err)
	}
}
