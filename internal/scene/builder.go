package scene

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/ldscene/internal/library"
	"github.com/Faultbox/ldscene/internal/mesh"
	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// lightProxy is the reserved reference name standing in for a light source.
const lightProxy = "light.dat"

// defaultLightRange mirrors the fallback falloff used when a light color
// declares no luminance.
const defaultLightRange float32 = 100

// Importer runs one import: it owns the palette, the mesh cache, and the
// diagnostics for that import and is torn down with it. Create a fresh
// Importer per import; instances are not reusable.
type Importer struct {
	opts Options
	log  *zap.Logger

	lib     *library.Library
	palette *ldraw.ColorTable
	cache   *mesh.Cache
	diags   *ldraw.Diagnostics
	lights  []Light
}

// NewImporter creates an importer with the given options. log may be nil.
func NewImporter(opts Options, log *zap.Logger) *Importer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Importer{opts: opts, log: log}
}

// Import parses the model at path and builds its scene. Only a top-level
// file that cannot be read or parsed fails the import; every other problem
// is recorded as a diagnostic and the scene builds best-effort.
func (im *Importer) Import(path string) (*Scene, error) {
	start := time.Now()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving model path: %w", err)
	}

	im.diags = &ldraw.Diagnostics{}
	im.lib = library.New(im.opts.LDrawRoot, filepath.Dir(abs))
	im.palette = im.loadPalette()
	im.cache = mesh.NewCache(im.lib, im.palette, im.opts.SmoothPrimitives, im.diags)
	if im.opts.LightsFromModel {
		im.cache.KeepAsRef(lightProxy)
	}
	im.lights = nil

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading model: %w", err)
	}
	doc, parseDiags, err := ldraw.ParseDocument(filepath.Base(abs), data)
	im.diags.AddAll(parseDiags)
	if err != nil {
		return nil, fmt.Errorf("parsing model: %w", err)
	}

	rootMesh, err := im.cache.GetOrBuildSub(doc, abs, doc.Main, im.opts.Tier)
	if err != nil {
		return nil, fmt.Errorf("building root mesh: %w", err)
	}

	root := &PlacementNode{
		Name:      doc.Main,
		Transform: mgl32.Ident4(),
		Color:     im.palette.Fallback(),
		BFC: BFCState{
			Certified: rootMesh.Certified,
			Cull:      rootMesh.Certified && rootMesh.Cull,
		},
	}
	if len(rootMesh.Faces) > 0 {
		root.Mesh = rootMesh
	}

	visited := map[string]struct{}{
		subKey(abs, doc.Main, im.opts.Tier): {},
	}
	im.placeChildren(root, rootMesh, doc, abs, visited)

	s := &Scene{
		Root:    root,
		Lights:  im.lights,
		Palette: im.palette,
	}
	Normalize(s, im.opts, im.diags)
	s.Diagnostics = im.diags.List()

	im.log.Info("model imported",
		zap.String("file", filepath.Base(abs)),
		zap.Int("nodes", s.NodeCount()),
		zap.Int("meshes", im.cache.Len()),
		zap.Int("lights", len(s.Lights)),
		zap.Int("diagnostics", len(s.Diagnostics)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return s, nil
}

// loadPalette reads the color-definition source. A missing or unreadable
// config is non-fatal: the import proceeds with the fallback-only palette.
func (im *Importer) loadPalette() *ldraw.ColorTable {
	data, err := os.ReadFile(im.lib.ConfigPath())
	if err != nil {
		im.diags.Add(ldraw.Diagnostic{
			Kind:    ldraw.DiagFileNotFound,
			Message: fmt.Sprintf("color config: %v", err),
		})
		return ldraw.NewColorTable()
	}
	table, diags := ldraw.ParseColorTable(data)
	im.diags.AddAll(diags)
	im.log.Debug("palette loaded", zap.Int("colors", table.Len()))
	return table
}

// placeChildren turns the pending refs of a placed mesh into child nodes,
// recursing depth-first. visited is the cycle guard for this descent:
// entries are pushed before recursing into a key and popped after, so
// sibling branches never see each other's paths.
func (im *Importer) placeChildren(parent *PlacementNode, parentMesh *mesh.Mesh, doc *ldraw.Document, docID string, visited map[string]struct{}) {
	for _, ref := range parentMesh.Refs {
		if im.opts.LightsFromModel && ref.File == lightProxy {
			im.addLight(parent, ref)
			continue
		}

		childMesh, key, childDoc, childDocID, err := im.resolveChild(ref.SubfileRef, doc, docID)
		if err != nil {
			im.diags.Add(ldraw.Diagnostic{
				Kind:    ldraw.DiagFileNotFound,
				File:    parentMesh.Name,
				Message: fmt.Sprintf("reference %s: %v", ref.File, err),
			})
			continue
		}
		if _, cyclic := visited[key]; cyclic {
			im.diags.Add(ldraw.Diagnostic{
				Kind:    ldraw.DiagCyclicReference,
				File:    parentMesh.Name,
				Message: fmt.Sprintf("reference %s returns to an ancestor, branch dropped", ref.File),
			})
			continue
		}
		if childMesh.Empty() {
			continue
		}

		inverted := parent.BFC.Inverted != ref.Invert
		if ref.Transform.Mat3().Det() < 0 {
			inverted = !inverted
		}

		node := &PlacementNode{
			Name:      ref.File,
			Transform: parent.Transform.Mul4(ref.Transform),
			Color:     im.resolveColor(ref.Color, parent.Color, parentMesh.Name),
			BFC: BFCState{
				Certified: parent.BFC.Certified && childMesh.Certified,
				Inverted:  inverted,
				Cull:      parent.BFC.Cull && childMesh.Cull,
			},
			IsPart: im.lib.IsPart(ref.File),
		}
		if len(childMesh.Faces) > 0 {
			node.Mesh = childMesh
		}
		parent.Children = append(parent.Children, node)

		visited[key] = struct{}{}
		im.placeChildren(node, childMesh, childDoc, childDocID, visited)
		delete(visited, key)
	}
}

// resolveChild locates the mesh a reference points at: a submodel of the
// current document first, the library otherwise. Disk files never see the
// document's submodels, so the document context drops when crossing onto
// disk.
func (im *Importer) resolveChild(ref ldraw.SubfileRef, doc *ldraw.Document, docID string) (*mesh.Mesh, string, *ldraw.Document, string, error) {
	if doc != nil {
		if _, ok := doc.Lookup(ref.File); ok {
			m, err := im.cache.GetOrBuildSub(doc, docID, ref.File, im.opts.Tier)
			return m, subKey(docID, ref.File, im.opts.Tier), doc, docID, err
		}
	}
	path, err := im.lib.Resolve(ref.File, im.opts.Tier)
	if err != nil {
		return nil, "", nil, "", err
	}
	m, err := im.cache.GetOrBuildFile(path, im.opts.Tier)
	return m, path + "|" + im.opts.Tier.String(), nil, "", err
}

func subKey(docID, name string, tier library.Tier) string {
	return docID + "#" + ldraw.NormalizeName(name) + "|" + tier.String()
}

// resolveColor substitutes the inherit sentinels and looks everything else
// up in the palette. Code 16 takes the parent's main color, code 24 the
// parent's edge color; unknown codes fall back with a diagnostic.
func (im *Importer) resolveColor(ref ldraw.ColorRef, parent ldraw.ColorDefinition, inFile string) ldraw.ColorDefinition {
	if !ref.Direct {
		switch ref.Code {
		case ldraw.CodeMain:
			return parent
		case ldraw.CodeEdge:
			return ldraw.ColorDefinition{
				Code:  parent.Code,
				Name:  parent.Name + " (edge)",
				RGB:   parent.Edge,
				Edge:  parent.Edge,
				Alpha: 1,
				Kind:  ldraw.MaterialPlain,
			}
		}
	}
	def, found := im.palette.Resolve(ref)
	if !found {
		im.diags.Add(ldraw.Diagnostic{
			Kind:    ldraw.DiagUnknownColor,
			File:    inFile,
			Message: fmt.Sprintf("color %d undefined, using fallback", ref.Code),
		})
	}
	return def
}

// addLight substitutes a light-proxy reference with a light descriptor at
// the composed transform. No placement node is emitted for the proxy.
func (im *Importer) addLight(parent *PlacementNode, ref mesh.Ref) {
	world := parent.Transform.Mul4(ref.Transform)
	def := im.resolveColor(ref.Color, parent.Color, parent.Name)

	dir := mgl32.TransformNormal(mgl32.Vec3{0, -1, 0}, world)
	if dir.Len() > 0 {
		dir = dir.Normalize()
	}

	color := def.RGB
	for i := range color {
		if color[i] < 0 {
			color[i] = 0
		} else if color[i] > 1 {
			color[i] = 1
		}
	}

	radius := defaultLightRange
	if def.Luminance > 0 {
		radius = def.Luminance * 2 * defaultLightRange
	}

	im.lights = append(im.lights, Light{
		Position:  mgl32.TransformCoordinate(mgl32.Vec3{}, world),
		Direction: dir,
		Color:     color,
		Radius:    radius,
		Intensity: def.Alpha,
		Kind:      LightPoint,
	})
}

// IsSubpart reports whether a reference names a sub-part (parts/s/...).
// Sub-parts are fragments of parts and are exempt from seam scaling.
func IsSubpart(name string) bool {
	return strings.HasPrefix(name, "s/")
}
