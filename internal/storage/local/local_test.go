package local

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReadRoundtrip(t *testing.T) {
	s := New(t.TempDir(), "http://localhost:8080/public")
	content := []byte("hello scangate")

	loc, err := s.Write(context.Background(), "abc123.png", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if loc.URL != "http://localhost:8080/public/abc123.png" {
		t.Fatalf("unexpected URL: %s", loc.URL)
	}

	rc, err := s.Read(context.Background(), "abc123.png")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(data, content) {
		t.Fatal("read content differs from written content")
	}
}

func TestWriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	if _, err := s.Write(context.Background(), "file.png", strings.NewReader("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly 1 file, got %d", len(entries))
	}
}

func TestReadMissingFile(t *testing.T) {
	s := New(t.TempDir(), "")

	if _, err := s.Read(context.Background(), "missing.png"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := New(t.TempDir(), "")

	if _, err := s.Write(context.Background(), "file.png", strings.NewReader("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Remove(context.Background(), "file.png"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	// 再删一次必须静默成功
	if err := s.Remove(context.Background(), "file.png"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
}

func TestWriteRespectsCanceledContext(t *testing.T) {
	s := New(t.TempDir(), "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Write(ctx, "file.png", strings.NewReader("data")); err == nil {
		t.Fatal("expected error for canceled context")
	}
}
