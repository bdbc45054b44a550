// Package library resolves LDraw reference names to files on disk.
package library

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// ErrNotFound is returned when a reference resolves to no file in the
// library search path.
var ErrNotFound = errors.New("not found in library")

// Tier selects the primitive resolution variant to prefer.
type Tier int

const (
	TierStandard Tier = iota // p/
	TierHiRes                // p/48/ preferred, p/ fallback
	TierLoRes                // p/8/ preferred, p/ fallback
)

// String returns the tier name as used in configuration.
func (t Tier) String() string {
	switch t {
	case TierHiRes:
		return "hires"
	case TierLoRes:
		return "lores"
	default:
		return "standard"
	}
}

// ParseTier parses a configuration tier name.
func ParseTier(s string) (Tier, error) {
	switch s {
	case "", "standard":
		return TierStandard, nil
	case "hires":
		return TierHiRes, nil
	case "lores":
		return TierLoRes, nil
	default:
		return TierStandard, fmt.Errorf("unknown resolution tier %q", s)
	}
}

// Library maps reference names to absolute file paths under an LDraw
// install directory. Lookups are pure; negative results are cached per
// name+tier so repeated misses do not re-probe the filesystem. Safe for
// concurrent use.
type Library struct {
	root     string // LDraw install dir containing parts/, p/, models/
	modelDir string // directory of the top-level model, searched first

	mu     sync.Mutex
	misses map[string]struct{}
	hits   map[string]string
	parts  map[string]bool
}

// New creates a library over an LDraw install directory. modelDir is the
// directory of the model being imported and is searched before the library
// directories; it may be empty.
func New(root, modelDir string) *Library {
	return &Library{
		root:     root,
		modelDir: modelDir,
		misses:   make(map[string]struct{}),
		hits:     make(map[string]string),
		parts:    make(map[string]bool),
	}
}

// ConfigPath returns the path of the color-definition source.
func (l *Library) ConfigPath() string {
	return filepath.Join(l.root, "LDConfig.ldr")
}

// Resolve maps a reference name to an absolute, canonical file path.
// Search order: model directory, parts/, the tier variant of p/ (when the
// tier requests one and the variant exists), p/, models/.
func (l *Library) Resolve(name string, tier Tier) (string, error) {
	name = ldraw.NormalizeName(name)
	key := name + "|" + tier.String()

	l.mu.Lock()
	if path, ok := l.hits[key]; ok {
		l.mu.Unlock()
		return path, nil
	}
	if _, ok := l.misses[key]; ok {
		l.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	l.mu.Unlock()

	rel := filepath.FromSlash(name)
	candidates := make([]string, 0, 5)
	if l.modelDir != "" {
		candidates = append(candidates, filepath.Join(l.modelDir, rel))
	}
	candidates = append(candidates, filepath.Join(l.root, "parts", rel))
	switch tier {
	case TierHiRes:
		candidates = append(candidates, filepath.Join(l.root, "p", "48", rel))
	case TierLoRes:
		candidates = append(candidates, filepath.Join(l.root, "p", "8", rel))
	}
	candidates = append(candidates,
		filepath.Join(l.root, "p", rel),
		filepath.Join(l.root, "models", rel),
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = filepath.Clean(path)
		}
		l.mu.Lock()
		l.hits[key] = abs
		l.mu.Unlock()
		return abs, nil
	}

	l.mu.Lock()
	l.misses[key] = struct{}{}
	l.mu.Unlock()
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}

// IsPrimitive reports whether a resolved path lies under the primitive
// tree p/ (any resolution variant). Primitive geometry may be inlined
// into a referencing mesh; parts, models and submodels never are.
func (l *Library) IsPrimitive(path string) bool {
	prim := filepath.Join(l.root, "p")
	if abs, err := filepath.Abs(prim); err == nil {
		prim = abs
	}
	return strings.HasPrefix(path, prim+string(filepath.Separator))
}

// IsPart reports whether a reference names a part (a file under parts/).
// Parts get seam scaling; primitives and submodels do not.
func (l *Library) IsPart(name string) bool {
	name = ldraw.NormalizeName(name)

	l.mu.Lock()
	if isPart, ok := l.parts[name]; ok {
		l.mu.Unlock()
		return isPart
	}
	l.mu.Unlock()

	info, err := os.Stat(filepath.Join(l.root, "parts", filepath.FromSlash(name)))
	isPart := err == nil && !info.IsDir()

	l.mu.Lock()
	l.parts[name] = isPart
	l.mu.Unlock()
	return isPart
}
