package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocal(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	key := "documents/a/b.pdf"
	if err := store.Put(ctx, key, strings.NewReader("%PDF-1.4"), "application/pdf"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	ok, err := store.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}
	data, err := ReadAll(ctx, store, key)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "%PDF-1.4" {
		t.Errorf("data = %q", data)
	}

	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Errorf("second Delete should be a no-op, got %v", err)
	}
	if _, err := store.Get(ctx, key); !errors.Is(err, ErrObjectNotFound) || !errors.Is(err, apperr.ErrSourceNotFound) {
		t.Errorf("Get after delete: %v", err)
	}
}

func TestLocalKeysStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(filepath.Join(root, "store"), "")
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	if err := store.Put(context.Background(), "../../escape.txt", bytes.NewReader([]byte("x")), ""); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); err == nil {
		t.Fatal("file written outside the storage root")
	}
	if _, err := os.Stat(filepath.Join(root, "store", "escape.txt")); err != nil {
		t.Fatalf("expected file inside root: %v", err)
	}
}

func TestLocalURL(t *testing.T) {
	store, _ := NewLocal(t.TempDir(), "")
	if got := store.URL("https://sign.example.com/", "signed/1_a.pdf"); got != "https://sign.example.com/uploads/signed/1_a.pdf" {
		t.Errorf("URL = %q", got)
	}
	pub, _ := NewLocal(t.TempDir(), "https://cdn.example.com")
	if got := pub.URL("http://ignored", "signed/1_a.pdf"); got != "https://cdn.example.com/uploads/signed/1_a.pdf" {
		t.Errorf("URL with public base = %q", got)
	}
}

func TestKeys(t *testing.T) {
	now := time.Unix(0, 1700000000123456789)
	signedKeys := []struct{ source, want string }{
		{"documents/170_contract v2.pdf", "signed/1700000000123456789_contract_v2.pdf"},
		{"signed/180_contract_v2.pdf", "signed/1700000000123456789_contract_v2.pdf"},
		{"documents/2024report.pdf", "signed/1700000000123456789_2024report.pdf"},
		{"documents/v1_draft.pdf", "signed/1700000000123456789_v1_draft.pdf"},
	}
	for _, tc := range signedKeys {
		if got := SignedKey(now, tc.source); got != tc.want {
			t.Errorf("SignedKey(%q) = %q, want %q", tc.source, got, tc.want)
		}
	}
	if got := DocumentKey(now, "C:\\Users\\me\\nda.pdf"); got != "documents/1700000000123456789_nda.pdf" {
		t.Errorf("DocumentKey = %q", got)
	}
	tmp := TempKey("candidate.PNG")
	if !strings.HasPrefix(tmp, "tmp/") || !strings.HasSuffix(tmp, ".png") {
		t.Errorf("TempKey = %q", tmp)
	}
	uid := uuid.New()
	if got := SignatureKey(uid, "sig.jpg"); !strings.HasPrefix(got, "signatures/"+uid.String()+"/") {
		t.Errorf("SignatureKey = %q", got)
	}
	if _, err := CleanKey("/"); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("CleanKey(/) err = %v", err)
	}
}
