package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeFile creates a file (and parent dirs) under root.
func writeFile(t *testing.T, root string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{root}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("0 test file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestResolve_SearchOrder(t *testing.T) {
	root := t.TempDir()
	modelDir := t.TempDir()

	writeFile(t, root, "parts", "3001.dat")
	writeFile(t, root, "p", "4-4cyli.dat")
	writeFile(t, root, "models", "car.ldr")
	local := writeFile(t, modelDir, "custom.dat")

	lib := New(root, modelDir)

	tests := []struct {
		name string
		want string
	}{
		{"3001.dat", filepath.Join(root, "parts", "3001.dat")},
		{"4-4cyli.dat", filepath.Join(root, "p", "4-4cyli.dat")},
		{"car.ldr", filepath.Join(root, "models", "car.ldr")},
		{"custom.dat", local},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lib.Resolve(tt.name, TierStandard)
			if err != nil {
				t.Fatalf("Resolve error: %v", err)
			}
			wantAbs, _ := filepath.Abs(tt.want)
			if got != wantAbs {
				t.Errorf("path = %q, want %q", got, wantAbs)
			}
		})
	}
}

func TestResolve_ModelDirBeatsParts(t *testing.T) {
	root := t.TempDir()
	modelDir := t.TempDir()
	writeFile(t, root, "parts", "3001.dat")
	local := writeFile(t, modelDir, "3001.dat")

	lib := New(root, modelDir)
	got, err := lib.Resolve("3001.dat", TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	wantAbs, _ := filepath.Abs(local)
	if got != wantAbs {
		t.Errorf("path = %q, want model-local %q", got, wantAbs)
	}
}

func TestResolve_HiResPreferred(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "p", "4-4cyli.dat")
	hires := writeFile(t, root, "p", "48", "4-4cyli.dat")

	lib := New(root, "")

	got, err := lib.Resolve("4-4cyli.dat", TierHiRes)
	if err != nil {
		t.Fatal(err)
	}
	wantAbs, _ := filepath.Abs(hires)
	if got != wantAbs {
		t.Errorf("hires path = %q, want %q", got, wantAbs)
	}

	got, err = lib.Resolve("4-4cyli.dat", TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	wantStd, _ := filepath.Abs(filepath.Join(root, "p", "4-4cyli.dat"))
	if got != wantStd {
		t.Errorf("standard path = %q, want %q", got, wantStd)
	}
}

func TestResolve_HiResFallsBack(t *testing.T) {
	root := t.TempDir()
	std := writeFile(t, root, "p", "4-4edge.dat")

	lib := New(root, "")
	got, err := lib.Resolve("4-4edge.dat", TierHiRes)
	if err != nil {
		t.Fatal(err)
	}
	wantAbs, _ := filepath.Abs(std)
	if got != wantAbs {
		t.Errorf("path = %q, want standard fallback %q", got, wantAbs)
	}
}

func TestResolve_NotFoundCached(t *testing.T) {
	lib := New(t.TempDir(), "")

	_, err := lib.Resolve("missing.dat", TierStandard)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}

	// Second lookup hits the negative cache.
	lib.mu.Lock()
	if _, ok := lib.misses["missing.dat|standard"]; !ok {
		t.Error("miss not cached")
	}
	lib.mu.Unlock()

	if _, err := lib.Resolve("missing.dat", TierStandard); !errors.Is(err, ErrNotFound) {
		t.Errorf("cached error = %v, want ErrNotFound", err)
	}
}

func TestResolve_NameNormalization(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parts", "s", "3001s01.dat")

	lib := New(root, "")
	got, err := lib.Resolve("S\\3001S01.DAT", TierStandard)
	if err != nil {
		t.Fatalf("Resolve error: %v", err)
	}
	wantAbs, _ := filepath.Abs(filepath.Join(root, "parts", "s", "3001s01.dat"))
	if got != wantAbs {
		t.Errorf("path = %q, want %q", got, wantAbs)
	}
}

func TestIsPart(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "parts", "3001.dat")
	writeFile(t, root, "p", "4-4cyli.dat")

	lib := New(root, "")
	if !lib.IsPart("3001.dat") {
		t.Error("3001.dat should be a part")
	}
	if lib.IsPart("4-4cyli.dat") {
		t.Error("4-4cyli.dat is a primitive, not a part")
	}
	// Cached answer stays stable.
	if !lib.IsPart("3001.dat") {
		t.Error("cached IsPart answer changed")
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		in      string
		want    Tier
		wantErr bool
	}{
		{"", TierStandard, false},
		{"standard", TierStandard, false},
		{"hires", TierHiRes, false},
		{"lores", TierLoRes, false},
		{"ultra", TierStandard, true},
	}
	for _, tt := range tests {
		got, err := ParseTier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseTier(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseTier(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
