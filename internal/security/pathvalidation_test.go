package security

import (
	"os"
	"path/filepath"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	clipsDir := t.TempDir()

	good := filepath.Join(clipsDir, "clip_20260502_193000_L1_R0.mp4")
	if err := ValidatePathWithinDirectory(good, clipsDir); err != nil {
		t.Errorf("expected clip path to validate, got: %v", err)
	}

	// Not created yet: the nearest existing parent resolves instead.
	nested := filepath.Join(clipsDir, "clip_20260502_193000_L1_R0", "00000.jpg")
	if err := ValidatePathWithinDirectory(nested, clipsDir); err != nil {
		t.Errorf("expected uncreated clip path to validate, got: %v", err)
	}
}

func TestValidatePathWithinDirectory_Traversal(t *testing.T) {
	clipsDir := t.TempDir()

	escapes := []string{
		filepath.Join(clipsDir, "..", "outside.mp4"),
		filepath.Join(clipsDir, "..", "..", "etc", "passwd"),
		"/etc/passwd",
	}
	for _, p := range escapes {
		if err := ValidatePathWithinDirectory(p, clipsDir); err == nil {
			t.Errorf("expected %q to be rejected", p)
		}
	}
}

func TestValidatePathWithinDirectory_SymlinkEscape(t *testing.T) {
	root := t.TempDir()
	clipsDir := filepath.Join(root, "clips")
	outside := filepath.Join(root, "outside")
	for _, d := range []string{clipsDir, outside} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
	}

	link := filepath.Join(clipsDir, "sneaky")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	if err := ValidatePathWithinDirectory(filepath.Join(link, "clip.mp4"), clipsDir); err == nil {
		t.Error("expected a symlinked escape to be rejected")
	}
}

func TestValidatePathWithinDirectory_MissingSafeDir(t *testing.T) {
	err := ValidatePathWithinDirectory("clip.mp4", filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Error("expected an error for a missing safe directory")
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"clip_20260502_193000_L1_R0", "clip_20260502_193000_L1_R0"},
		{"", "unknown"},
		{"../../etc/passwd", "etc_passwd"},
		{"piste 7 / bout #3", "piste_7_bout_3"},
		{"___", "unknown"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
