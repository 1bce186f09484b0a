package outputstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/noaa-ldm/prodxfer/internal/product"
)

func TestDefaultStoreBuildPath(t *testing.T) {
	s := &DefaultStore{OutDir: "/out", WorkerTag: 3}
	p := &product.Product{Seqno: 42}
	path, err := s.BuildPath(p)
	if err != nil {
		t.Fatal(err)
	}
	if path != "/out/00003-000042" {
		t.Errorf("got %s, want /out/00003-000042", path)
	}
}

func TestDefaultStoreFinalizeChmod(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")
	if err := os.WriteFile(path, []byte("body"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := &DefaultStore{OutDir: dir, PublicMode: 0o644}
	outcome, err := s.Finalize(&product.Product{}, path)
	if err != nil {
		t.Fatal(err)
	}
	if outcome != OutcomeOK {
		t.Errorf("got outcome %v, want OutcomeOK", outcome)
	}
	fi, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm() != 0o644 {
		t.Errorf("got mode %v, want 0644", fi.Mode().Perm())
	}
}

func TestDefaultStoreAbortRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	(&DefaultStore{}).Abort(&product.Product{}, path)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err=%v", err)
	}
}

func TestOpenWithRecoveryCreatesMissingParent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a", "b", "c", "out")

	f, err := OpenWithRecovery(path, true, nil)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("file not created: %v", err)
	}
}

func TestOpenWithRecoveryExclusiveRejectsExistingWithoutOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	calls := 0
	_, err := OpenWithRecovery(path, false, func() bool {
		calls++
		return calls > 1 // stop after the first wait so the test doesn't sleep long
	})
	if err == nil {
		t.Fatal("expected error when shouldStop eventually returns true")
	}
	if !strings.Contains(err.Error(), "shutdown") {
		t.Errorf("got error %v, want shutdown-related", err)
	}
}

func TestStreamBodyCopiesExactLength(t *testing.T) {
	var buf strings.Builder
	r := strings.NewReader("hello world, extra bytes not meant to be copied")
	if err := StreamBody(&buf, r, 11, 4); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "hello world" {
		t.Errorf("got %q, want %q", buf.String(), "hello world")
	}
}
