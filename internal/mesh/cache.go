package mesh

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/Faultbox/ldscene/internal/library"
	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// Cache memoizes canonical meshes per (file identity, tier) key. A key is
// either absent or bound to a fully built mesh; concurrent requesters for
// the same key share the in-flight build instead of duplicating it. One
// cache lives for one import.
type Cache struct {
	lib     *library.Library
	palette *ldraw.ColorTable
	smooth  bool
	diags   *ldraw.Diagnostics

	mu     sync.RWMutex
	meshes map[Key]*Mesh
	models map[string]*ldraw.Model // parsed disk files, keyed by path

	meshFlight  singleflight.Group
	modelFlight singleflight.Group

	keepRef map[string]bool // names that stay refs even when the target is a leaf
}

// NewCache creates a mesh cache for one import. Inline !COLOUR declarations
// found during builds extend palette. smooth enables smoothing-group
// assignment for round primitive families.
func NewCache(lib *library.Library, palette *ldraw.ColorTable, smooth bool, diags *ldraw.Diagnostics) *Cache {
	return &Cache{
		lib:     lib,
		palette: palette,
		smooth:  smooth,
		diags:   diags,
		meshes:  make(map[Key]*Mesh),
		models:  make(map[string]*ldraw.Model),
	}
}

// KeepAsRef marks reference names that always stay placement refs, never
// inlining even when the target is a leaf. Proxy names the scene builder
// substitutes (light sources) go through here. Call before any build.
func (c *Cache) KeepAsRef(names ...string) {
	if c.keepRef == nil {
		c.keepRef = make(map[string]bool)
	}
	for _, n := range names {
		c.keepRef[ldraw.NormalizeName(n)] = true
	}
}

// Len returns the number of built meshes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.meshes)
}

// GetOrBuildFile returns the canonical mesh for a resolved file path at a
// tier, building it at most once.
func (c *Cache) GetOrBuildFile(path string, tier library.Tier) (*Mesh, error) {
	key := Key{Path: path, Tier: tier}
	return c.getOrBuild(key, func() (*ldraw.Model, error) {
		return c.Model(path)
	}, nil, "")
}

// GetOrBuildSub returns the canonical mesh for a named submodel of a
// multi-part document. docID must uniquely identify the document (its
// resolved path); submodel references inside stay within the document.
func (c *Cache) GetOrBuildSub(doc *ldraw.Document, docID, name string, tier library.Tier) (*Mesh, error) {
	norm := ldraw.NormalizeName(name)
	key := Key{Path: docID + "#" + norm, Tier: tier}
	return c.getOrBuild(key, func() (*ldraw.Model, error) {
		model, ok := doc.Lookup(norm)
		if !ok {
			return nil, fmt.Errorf("%w: submodel %s", library.ErrNotFound, norm)
		}
		return model, nil
	}, doc, docID)
}

// Model returns the parsed command stream of a disk file, parsing it at
// most once per path. Parse diagnostics are recorded on first parse.
func (c *Cache) Model(path string) (*ldraw.Model, error) {
	c.mu.RLock()
	model, ok := c.models[path]
	c.mu.RUnlock()
	if ok {
		return model, nil
	}

	v, err, _ := c.modelFlight.Do(path, func() (interface{}, error) {
		c.mu.RLock()
		model, ok := c.models[path]
		c.mu.RUnlock()
		if ok {
			return model, nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		name := ldraw.NormalizeName(filepath.Base(path))
		model, diags := ldraw.Parse(name, data)
		c.diags.AddAll(diags)
		c.mu.Lock()
		c.models[path] = model
		c.mu.Unlock()
		return model, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*ldraw.Model), nil
}

func (c *Cache) getOrBuild(key Key, load func() (*ldraw.Model, error), doc *ldraw.Document, docID string) (*Mesh, error) {
	c.mu.RLock()
	m, ok := c.meshes[key]
	c.mu.RUnlock()
	if ok {
		return m, nil
	}

	v, err, _ := c.meshFlight.Do(flightKey(key), func() (interface{}, error) {
		c.mu.RLock()
		m, ok := c.meshes[key]
		c.mu.RUnlock()
		if ok {
			return m, nil
		}
		model, err := load()
		if err != nil {
			return nil, err
		}
		built := c.buildModel(model, key.Tier, doc, docID)
		c.mu.Lock()
		c.meshes[key] = built
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Mesh), nil
}

func flightKey(key Key) string {
	return key.Path + "|" + key.Tier.String()
}

// buildModel assembles the mesh for one parsed file. Primitive leaves
// (files under p/ with no subfile refs of their own) are inlined with
// composed transform and winding; everything else is recorded for the
// scene builder to place. Recoverable problems become diagnostics, never
// errors.
func (c *Cache) buildModel(model *ldraw.Model, tier library.Tier, doc *ldraw.Document, docID string) *Mesh {
	b := newBuilder(model.Name, c.smooth)
	badCodes := make(map[int]bool)
	for _, cmd := range model.Commands {
		switch v := cmd.(type) {
		case ldraw.BFC:
			b.applyBFC(v)
		case ldraw.Triangle:
			c.checkFaceColor(model.Name, v.Color, badCodes)
			b.addPoly(v.Color, v.P[:])
		case ldraw.Quad:
			c.checkFaceColor(model.Name, v.Color, badCodes)
			b.addPoly(v.Color, v.P[:])
		case ldraw.SubfileRef:
			c.resolveRef(b, v, tier, doc, docID)
			b.invertNext = false
		case ldraw.ColorDecl:
			c.palette.Add(v.Def)
		case ldraw.Line, ldraw.OptionalLine, ldraw.Comment:
			// Edges are view-dependent and not meshed.
		}
	}
	b.mesh.Certified = b.certified == ldraw.CertifyYes
	b.mesh.Cull = b.cull
	return b.mesh
}

// checkFaceColor validates an explicit face color against the palette,
// once per code per file. Inherit sentinels and direct colors carry their
// own meaning; unknown codes resolve to the fallback at hand-off.
func (c *Cache) checkFaceColor(file string, ref ldraw.ColorRef, seen map[int]bool) {
	if ref.Direct || ref.Code == ldraw.CodeMain || ref.Code == ldraw.CodeEdge || seen[ref.Code] {
		return
	}
	seen[ref.Code] = true
	if _, ok := c.palette.Lookup(ref.Code); !ok {
		c.diags.Add(ldraw.Diagnostic{
			Kind:    ldraw.DiagUnknownColor,
			File:    file,
			Message: fmt.Sprintf("face color %d undefined, using fallback", ref.Code),
		})
	}
}

// resolveRef decides what a subfile reference contributes: nothing (missing
// or header-only target), inlined geometry (leaf primitive target), or a
// pending placement ref (everything else). Parts, models and submodels
// always stay refs so each placement becomes its own scene node.
func (c *Cache) resolveRef(b *builder, ref ldraw.SubfileRef, tier library.Tier, doc *ldraw.Document, docID string) {
	invert := b.invertNext

	if c.keepRef[ref.File] {
		b.mesh.Refs = append(b.mesh.Refs, Ref{SubfileRef: ref, Invert: invert})
		return
	}

	var (
		model     *ldraw.Model
		childKey  Key
		primitive bool
	)
	if doc != nil {
		if sub, ok := doc.Lookup(ref.File); ok {
			model = sub
			childKey = Key{Path: docID + "#" + ldraw.NormalizeName(ref.File), Tier: tier}
		}
	}
	if model == nil {
		path, err := c.lib.Resolve(ref.File, tier)
		if err != nil {
			c.diags.Add(ldraw.Diagnostic{
				Kind:    ldraw.DiagFileNotFound,
				File:    b.mesh.Name,
				Message: fmt.Sprintf("reference %s: %v", ref.File, err),
			})
			return
		}
		model, err = c.Model(path)
		if err != nil {
			c.diags.Add(ldraw.Diagnostic{
				Kind:    ldraw.DiagFileNotFound,
				File:    b.mesh.Name,
				Message: fmt.Sprintf("reference %s: %v", ref.File, err),
			})
			return
		}
		childKey = Key{Path: path, Tier: tier}
		primitive = c.lib.IsPrimitive(path)
	}

	if !model.HasGeometry() {
		// Header-only target, nothing to place.
		return
	}
	if model.HasSubfileRefs() || !primitive {
		b.mesh.Refs = append(b.mesh.Refs, Ref{SubfileRef: ref, Invert: invert})
		return
	}

	child, err := c.getOrBuild(childKey, func() (*ldraw.Model, error) { return model, nil }, doc, docID)
	if err != nil {
		c.diags.Add(ldraw.Diagnostic{
			Kind:    ldraw.DiagFileNotFound,
			File:    b.mesh.Name,
			Message: fmt.Sprintf("reference %s: %v", ref.File, err),
		})
		return
	}
	if !child.Empty() {
		b.inline(child, ref, invert)
	}
}
