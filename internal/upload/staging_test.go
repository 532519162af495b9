package upload

import (
	"bytes"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func formFiles(t *testing.T, names ...string) []*multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, name := range names {
		fw, err := w.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write([]byte("jpegdata-" + name)); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r := multipart.NewReader(&buf, w.Boundary())
	form, err := r.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["images"]
}

func TestStageUpload(t *testing.T) {
	base := t.TempDir()
	s := NewStager(filepath.Join(base, "uploads"), filepath.Join(base, "output"))

	staged, err := s.StageUpload("  Golden Bay cliffs ", formFiles(t, "img1.jpg", "img2.jpg"))
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	if !strings.Contains(filepath.Base(staged.InputDir), "Golden_Bay_cliffs") {
		t.Fatalf("title not sanitized into dir name: %s", staged.InputDir)
	}
	if filepath.Base(staged.InputDir) != filepath.Base(staged.OutputDir) {
		t.Fatalf("input/output dir names differ: %s vs %s", staged.InputDir, staged.OutputDir)
	}

	if len(staged.ImagePaths) != 2 {
		t.Fatalf("expected 2 staged images, got %d", len(staged.ImagePaths))
	}
	for _, p := range staged.ImagePaths {
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatalf("read staged image: %v", err)
		}
		if !strings.HasPrefix(string(b), "jpegdata-") {
			t.Fatalf("staged file content wrong: %q", b)
		}
	}

	if _, err := os.Stat(staged.OutputDir); err != nil {
		t.Fatalf("output dir not created: %v", err)
	}
}
