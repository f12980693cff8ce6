package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestOptionsNormalize(t *testing.T) {
	o := Options{URL: "http://127.0.0.1:8080/", OutputPath: "/tmp/p.png"}
	if err := o.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if o.Width != DefaultWidth || o.Height != DefaultHeight {
		t.Errorf("viewport defaults not applied: %dx%d", o.Width, o.Height)
	}
	if o.Timeout != DefaultTimeoutSec*time.Second {
		t.Errorf("timeout default not applied: %v", o.Timeout)
	}
}

func TestOptionsNormalizeRejectsMissingFields(t *testing.T) {
	if err := (&Options{OutputPath: "/tmp/p.png"}).normalize(); err == nil {
		t.Error("missing URL accepted")
	}
	if err := (&Options{URL: "http://x/"}).normalize(); err == nil {
		t.Error("missing OutputPath accepted")
	}
}

func TestWritePNG(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "preview.png")

	if err := writePNG(path, []byte("first")); err != nil {
		t.Fatalf("writePNG: %v", err)
	}
	if err := writePNG(path, []byte("second")); err != nil {
		t.Fatalf("writePNG overwrite: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want %q", got, "second")
	}

	// No temp files may survive a successful write.
	matches, _ := filepath.Glob(filepath.Join(dir, "sub", ".fullcal-preview-*"))
	if len(matches) != 0 {
		t.Errorf("leftover temp files: %v", matches)
	}
}
