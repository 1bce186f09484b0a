package archive

import (
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRotateIfNeededCompressesAndTruncates(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "client.log")
	archivePath := filepath.Join(dir, "client.log.1.gz")

	content := make([]byte, 200)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(logPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	a := New(nil, 100)
	rotated, err := a.RotateIfNeeded(logPath, archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if !rotated {
		t.Fatal("expected rotation once the log exceeds MaxSize")
	}

	info, err := os.Stat(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log file size = %d, want 0 after rotation", info.Size())
	}

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatal(err)
	}
	got, err := io.ReadAll(gz)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(content) {
		t.Errorf("decompressed archive mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestRotateIfNeededSkipsSmallFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "client.log")
	if err := os.WriteFile(logPath, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := New(nil, 1000)
	rotated, err := a.RotateIfNeeded(logPath, filepath.Join(dir, "out.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if rotated {
		t.Error("expected no rotation below MaxSize")
	}
}

func TestRotateIfNeededDisabledByZeroMaxSize(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "client.log")
	if err := os.WriteFile(logPath, []byte("anything"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := New(nil, 0)
	rotated, err := a.RotateIfNeeded(logPath, filepath.Join(dir, "out.gz"))
	if err != nil {
		t.Fatal(err)
	}
	if rotated {
		t.Error("MaxSize<=0 should disable rotation")
	}
}
