package api

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nikhilbhutani/esignature/internal/audit"
	"github.com/nikhilbhutani/esignature/internal/auth"
	"github.com/nikhilbhutani/esignature/internal/baseline"
	"github.com/nikhilbhutani/esignature/internal/cache"
	"github.com/nikhilbhutani/esignature/internal/config"
	"github.com/nikhilbhutani/esignature/internal/document"
	"github.com/nikhilbhutani/esignature/internal/identity"
	"github.com/nikhilbhutani/esignature/internal/lifecycle"
	"github.com/nikhilbhutani/esignature/internal/oracle/oracletest"
	"github.com/nikhilbhutani/esignature/internal/render"
	"github.com/nikhilbhutani/esignature/internal/render/rendertest"
	"github.com/nikhilbhutani/esignature/internal/repository/memstore"
	"github.com/nikhilbhutani/esignature/internal/signing"
	"github.com/nikhilbhutani/esignature/internal/signrequest"
	"github.com/nikhilbhutani/esignature/internal/storage"
	"github.com/nikhilbhutani/esignature/internal/verification"
	"github.com/nikhilbhutani/esignature/internal/webhook"
)

type testServer struct {
	*httptest.Server
	oracle *oracletest.Stub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	root := t.TempDir()
	files, err := storage.NewLocal(root, "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	store, _ := memstore.NewStore()
	stub := oracletest.New()
	stub.Default = []float32{0, 0}
	locks := cache.NewLocalLocker()

	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}, MaxUploadBytes: 10 << 20},
		Verify: config.VerifyConfig{Threshold: 0.8, Required: true, EnrollThreshold: 0.8, MaxBaselines: 5},
		Render: config.RenderConfig{VerifyBaseURL: "http://localhost/api/v1/requests/public", QRSize: 96, Gap: 8, Margin: 16},
	}

	tokens := auth.NewTokens("test-secret", time.Hour)
	manager := lifecycle.NewManager(store)
	requests := signrequest.NewService(store, manager)
	baselines := baseline.NewService(store.Baselines, files, stub, locks, cfg.Verify)
	docs := document.NewService(store.Documents, files)
	signer := signing.NewService(signing.Deps{
		Store:     store,
		Files:     files,
		Engine:    verification.NewEngine(stub, store.Logs, cfg.Verify),
		Renderer:  render.NewRenderer(files, cfg.Render),
		Lifecycle: manager,
		Images:    baselines,
		Locks:     locks,
		LockTTL:   time.Minute,
	}, signing.WithInvalidator(requests))
	dispatcher := webhook.NewDispatcher(store.Webhooks, time.Second)

	rt := NewRouter(cfg, Deps{
		Tokens:    tokens,
		Users:     store.Users,
		Identity:  identity.NewService(store.Users, tokens, 4),
		Documents: docs,
		Baselines: baselines,
		Requests:  requests,
		Signing:   signer,
		Audit:     audit.NewService(store.Logs),
		Webhooks:  webhook.NewService(store.Webhooks, dispatcher),
		Inbound:   webhook.NewInbound("", manager, requests),
		FilesRoot: root,
	})
	srv := httptest.NewServer(rt.Setup())
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, oracle: stub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]interface{}{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp, out
}

func (s *testServer) sendJSON(t *testing.T, method, path, token string, payload interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatal(err)
		}
		body = bytes.NewReader(b)
	}
	return s.do(t, method, path, token, body, "application/json")
}

func (s *testServer) upload(t *testing.T, path, token, field, filename string, data []byte, fields map[string]string) (*http.Response, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(data)
	mw.Close()
	return s.do(t, http.MethodPost, path, token, &buf, mw.FormDataContentType())
}

func (s *testServer) account(t *testing.T, name, email string) string {
	t.Helper()
	resp, body := s.sendJSON(t, http.MethodPost, "/api/v1/auth/register", "", map[string]interface{}{
		"name": name, "email": email, "password": "secret123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register %s: %d %v", email, resp.StatusCode, body)
	}
	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "secret123",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %v", email, resp.StatusCode, body)
	}
	return body["token"].(string)
}

func pngImage(t *testing.T, shade uint8) []byte {
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

func TestDelegatedSigningFlow(t *testing.T) {
	s := newTestServer(t)
	owner := s.account(t, "Owner", "owner@example.com")
	signer := s.account(t, "Signer", "signer@example.com")

	resp, body := s.upload(t, "/api/v1/documents/upload", owner, "file", "contract.pdf",
		rendertest.MinimalPDF(1, 612, 792), map[string]string{"title": "Contract"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %v", resp.StatusCode, body)
	}
	docID := body["id"].(string)
	if !strings.Contains(body["file_url"].(string), "/uploads/documents/") {
		t.Errorf("file_url = %v", body["file_url"])
	}

	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/requests", owner, map[string]string{
		"document_id": docID, "recipient_email": "Signer@Example.com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create request: %d %v", resp.StatusCode, body)
	}
	reqID := body["id"].(string)

	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/documents/sign-externally", owner, map[string]string{"request_id": reqID})
	if resp.StatusCode != http.StatusConflict || body["current_status"] != "pending" {
		t.Fatalf("sign before approval: %d %v", resp.StatusCode, body)
	}

	resp, body = s.upload(t, "/api/v1/baselines/upload", signer, "file", "sig.png", pngImage(t, 60), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("enroll baseline: %d %v", resp.StatusCode, body)
	}

	resp, body = s.sendJSON(t, http.MethodGet, "/api/v1/requests/incoming?status=pending", signer, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("incoming: %d %v", resp.StatusCode, body)
	}

	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", owner, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("owner approving own request: %d %v", resp.StatusCode, body)
	}
	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/requests/"+reqID+"/approve", signer, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "approved" {
		t.Fatalf("approve: %d %v", resp.StatusCode, body)
	}
	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/requests/"+reqID+"/reject", signer, nil)
	if resp.StatusCode != http.StatusConflict || body["current_status"] != "approved" {
		t.Fatalf("reject after approve: %d %v", resp.StatusCode, body)
	}

	resp, body = s.sendJSON(t, http.MethodGet, "/api/v1/requests/"+reqID+"/signature", owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approved signature: %d %v", resp.StatusCode, body)
	}

	resp, body = s.sendJSON(t, http.MethodPost, "/api/v1/documents/sign-externally", owner, map[string]interface{}{
		"request_id": reqID, "page": 1, "x": 72, "y": 100,
	})
	if resp.StatusCode != http.StatusOK || body["completed"] != true {
		t.Fatalf("sign externally: %d %v", resp.StatusCode, body)
	}

	resp, body = s.sendJSON(t, http.MethodGet, "/api/v1/requests/public/"+docID, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public status: %d %v", resp.StatusCode, body)
	}
	doc := body["document"].(map[string]interface{})
	signers := body["signers"].([]interface{})
	if doc["status"] != "completed" || len(signers) != 1 {
		t.Fatalf("public status = %v", body)
	}
	if got := signers[0].(map[string]interface{}); got["status"] != "completed" || got["name"] != "Signer" {
		t.Errorf("signer = %v", got)
	}

	resp, _ = s.sendJSON(t, http.MethodGet, "/verify/"+docID, "", nil)
	loc := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || !strings.Contains(loc, "/uploads/signed/") {
		t.Fatalf("verify redirect: %d %q", resp.StatusCode, loc)
	}
	fileResp, err := http.Get(loc)
	if err != nil {
		t.Fatal(err)
	}
	pdf, _ := io.ReadAll(fileResp.Body)
	fileResp.Body.Close()
	if fileResp.StatusCode != http.StatusOK || !bytes.HasPrefix(pdf, []byte("%PDF-")) {
		t.Fatalf("signed file: %d %q", fileResp.StatusCode, pdf[:min(len(pdf), 8)])
	}

	resp, body = s.upload(t, "/api/v1/documents/"+docID+"/apply-signature", owner, "signature", "sig.png", pngImage(t, 10), nil)
	if resp.StatusCode != http.StatusConflict || body["current_status"] != "completed" {
		t.Fatalf("sign completed document: %d %v", resp.StatusCode, body)
	}
}

func TestApplySignatureWithoutBaselineReturnsVerdict(t *testing.T) {
	s := newTestServer(t)
	owner := s.account(t, "Owner", "owner@example.com")

	resp, body := s.upload(t, "/api/v1/documents/upload", owner, "file", "contract.pdf", rendertest.MinimalPDF(1, 612, 792), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload: %d %v", resp.StatusCode, body)
	}
	docID := body["id"].(string)

	resp, body = s.upload(t, "/api/v1/documents/"+docID+"/apply-signature", owner, "signature", "sig.png", pngImage(t, 10),
		map[string]string{"page": "1", "x": "abc"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("apply: %d %v", resp.StatusCode, body)
	}
	verdict, ok := body["verdict"].(map[string]interface{})
	if !ok || verdict["match"] != false || verdict["distance"] != nil {
		t.Errorf("verdict = %v", body["verdict"])
	}

	resp, body = s.sendJSON(t, http.MethodGet, "/api/v1/logs", owner, nil)
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("logs: %d %v", resp.StatusCode, body)
	}
}

func TestRouteProtection(t *testing.T) {
	s := newTestServer(t)
	user := s.account(t, "Regular", "user@example.com")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"healthz", http.MethodGet, "/healthz", "", http.StatusOK},
		{"readyz without checks", http.MethodGet, "/readyz", "", http.StatusOK},
		{"documents need a token", http.MethodGet, "/api/v1/documents", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/documents", "nope", http.StatusUnauthorized},
		{"own documents", http.MethodGet, "/api/v1/documents", user, http.StatusOK},
		{"all logs are admin only", http.MethodGet, "/api/v1/logs/all", user, http.StatusForbidden},
		{"pending admins are admin only", http.MethodGet, "/api/v1/auth/admin/pending", user, http.StatusForbidden},
		{"bad id", http.MethodGet, "/api/v1/documents/not-a-uuid", user, http.StatusBadRequest},
		{"unknown public document", http.MethodGet, "/api/v1/requests/public/00000000-0000-0000-0000-000000000001", "", http.StatusNotFound},
		{"baseline images are private", http.MethodGet, "/uploads/signatures/x.png", "", http.StatusNotFound},
		{"signwell without secret", http.MethodPost, "/api/v1/webhooks/signwell", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.sendJSON(t, tt.method, tt.path, tt.token, nil)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d (%v)", resp.StatusCode, tt.want, body)
			}
		})
	}
}

func TestPendingAdminCannotLogin(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.sendJSON(t, http.MethodPost, "/api/v1/auth/register-admin", "", map[string]string{
		"name": "Hopeful", "email": "hopeful@example.com", "password": "secret123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register-admin: %d %v", resp.StatusCode, body)
	}

	resp, _ = s.sendJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "hopeful@example.com", "password": "secret123",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("pending login = %d, want 403", resp.StatusCode)
	}

	resp, _ = s.sendJSON(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "hopeful@example.com", "password": "wrong-password",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("wrong password = %d, want 401", resp.StatusCode)
	}
}
