// Package scene builds an in-memory scene from LDraw model files: a
// placement tree over cached meshes, resolved colors, and substituted
// light sources, ready for handoff to a host 3D engine.
package scene

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/ldscene/internal/library"
	"github.com/Faultbox/ldscene/internal/mesh"
	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// Options are the import-time settings.
type Options struct {
	LDrawRoot        string       // install dir containing parts/, p/, models/
	Tier             library.Tier // primitive resolution preference
	TransformToHost  bool         // rotate/scale the scene to host axes
	SmoothPrimitives bool         // shared smoothing groups for round primitives
	LightsFromModel  bool         // substitute light.dat references with lights
	SeamWidth        float32      // gap fraction between parts; 0 disables
}

// BFCState is the winding/certification context a placement inherits.
type BFCState struct {
	Certified bool // every file on the path was BFC certified
	Inverted  bool // odd number of mirror transforms and INVERTNEXTs so far
	Cull      bool
}

// FaceWinding returns the effective orientation of a mesh face under this
// placement, accounting for accumulated inversion.
func (s BFCState) FaceWinding(w ldraw.Winding) ldraw.Winding {
	if !s.Certified {
		return ldraw.WindingNone
	}
	if s.Inverted {
		return w.Flipped()
	}
	return w
}

// PlacementNode is one placed instance in the output tree. Mesh is a
// shared read-only reference into the cache; per-instance color lives here,
// never on the mesh.
type PlacementNode struct {
	Name      string
	Mesh      *mesh.Mesh // nil for pure group nodes
	Transform mgl32.Mat4 // accumulated world transform
	Color     ldraw.ColorDefinition
	BFC       BFCState
	IsPart    bool // a library part (seam scaling applies)
	Children  []*PlacementNode
}

// LightKind classifies a substituted light source.
type LightKind int

const (
	LightPoint LightKind = iota
)

// Light is an abstract light descriptor substituted for a light-proxy
// reference. It is a sibling of placement nodes but carries no geometry.
type Light struct {
	Position  mgl32.Vec3
	Direction mgl32.Vec3 // normalized aim direction
	Color     [3]float32
	Radius    float32 // falloff distance
	Intensity float32
	Kind      LightKind
}

// Scene is the self-contained result of one import.
type Scene struct {
	Root        *PlacementNode
	Lights      []Light
	Palette     *ldraw.ColorTable
	Diagnostics []ldraw.Diagnostic
}

// Visitor receives the scene's contents. Hosts implement it to convert
// placements and lights into their own object model.
type Visitor interface {
	VisitNode(node *PlacementNode, depth int)
	VisitLight(light Light)
}

// Walk feeds the placement tree depth-first and then every light to v.
func (s *Scene) Walk(v Visitor) {
	if s.Root != nil {
		walkNode(s.Root, 0, v)
	}
	for _, l := range s.Lights {
		v.VisitLight(l)
	}
}

func walkNode(n *PlacementNode, depth int, v Visitor) {
	v.VisitNode(n, depth)
	for _, c := range n.Children {
		walkNode(c, depth+1, v)
	}
}

// NodeCount returns the number of placement nodes in the tree.
func (s *Scene) NodeCount() int {
	return countNodes(s.Root)
}

func countNodes(n *PlacementNode) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, c := range n.Children {
		total += countNodes(c)
	}
	return total
}
