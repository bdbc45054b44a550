// Package mesh builds and caches canonical meshes from parsed LDraw files.
package mesh

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/ldscene/internal/library"
	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// Key identifies a canonical mesh: a resolved file identity at a resolution
// tier. Two placements with equal keys share the identical Mesh.
type Key struct {
	Path string // absolute file path, or docID#submodel for MPD submodels
	Tier library.Tier
}

// Face is one triangle or quad of a mesh.
type Face struct {
	Verts       []int          // 3 or 4 indices into Mesh.Verts
	Color       ldraw.ColorRef // 16/24 sentinels stay; resolved per placement
	Winding     ldraw.Winding  // WindingNone when the source file is uncertified
	SmoothGroup int            // 0 = flat shaded
}

// Ref is a subfile reference that was not inlined into the mesh. The scene
// builder recurses into these, one placement child per ref.
type Ref struct {
	ldraw.SubfileRef
	Invert bool // a BFC INVERTNEXT preceded this reference
}

// Mesh is the canonical geometry of one file at one tier. Owned by the
// Cache; placements hold shared read-only references, never copies.
type Mesh struct {
	Name      string // normalized reference name
	Verts     []mgl32.Vec3
	Faces     []Face
	Refs      []Ref
	Certified bool // file carried a BFC certification
	Cull      bool // file-local CLIP state (default true)
}

// Empty reports whether the mesh carries neither geometry nor references.
// Header-only files build empty meshes and produce no placement.
func (m *Mesh) Empty() bool {
	return len(m.Faces) == 0 && len(m.Refs) == 0
}

// Bounds returns the axis-aligned bounding box of the mesh's own vertices.
// ok is false for meshes without geometry.
func (m *Mesh) Bounds() (min, max mgl32.Vec3, ok bool) {
	if len(m.Verts) == 0 {
		return mgl32.Vec3{}, mgl32.Vec3{}, false
	}
	min, max = m.Verts[0], m.Verts[0]
	for _, v := range m.Verts[1:] {
		for i := 0; i < 3; i++ {
			if v[i] < min[i] {
				min[i] = v[i]
			}
			if v[i] > max[i] {
				max[i] = v[i]
			}
		}
	}
	return min, max, true
}

// RoundPrimitive reports whether a reference name belongs to one of the
// round primitive families (cylinder, cone, sphere, torus, bump). Faces of
// these files share a smoothing group so hosts merge their normals.
func RoundPrimitive(name string) bool {
	base := name
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	switch {
	case strings.Contains(base, "cyl"),
		strings.Contains(base, "sph"),
		strings.Contains(base, "bump"),
		strings.HasPrefix(base, "t0"),
		strings.HasPrefix(base, "t1"):
		return true
	case strings.Contains(base, "con") && !strings.HasPrefix(base, "con"):
		return true
	default:
		return false
	}
}

// builder assembles one mesh from a parsed command stream, deduplicating
// vertices by exact coordinate.
type builder struct {
	mesh    *Mesh
	index   map[mgl32.Vec3]int
	groups  int // smoothing group ids handed out so far
	ownedGr int // group shared by this file's own faces (0 = none)

	// File-local BFC state. Accumulated inversion across placements is
	// handled at inline/placement time, not here.
	certified  ldraw.Certify
	winding    ldraw.Winding
	cull       bool
	invertNext bool
}

func newBuilder(name string, smooth bool) *builder {
	b := &builder{
		mesh:    &Mesh{Name: name},
		index:   make(map[mgl32.Vec3]int),
		winding: ldraw.WindingCCW,
		cull:    true,
	}
	if smooth && RoundPrimitive(name) {
		b.groups = 1
		b.ownedGr = 1
	}
	return b
}

func (b *builder) vertex(p mgl32.Vec3) int {
	if i, ok := b.index[p]; ok {
		return i
	}
	i := len(b.mesh.Verts)
	b.mesh.Verts = append(b.mesh.Verts, p)
	b.index[p] = i
	return i
}

// faceWinding is the orientation this file's own faces carry.
func (b *builder) faceWinding() ldraw.Winding {
	if b.certified != ldraw.CertifyYes {
		return ldraw.WindingNone
	}
	return b.winding
}

func (b *builder) applyBFC(cmd ldraw.BFC) {
	switch cmd.Certify {
	case ldraw.CertifyYes:
		b.certified = ldraw.CertifyYes
	case ldraw.CertifyNo:
		b.certified = ldraw.CertifyNo
	default:
		// Any BFC directive other than NOCERTIFY implies certification.
		if b.certified == ldraw.CertifyUnset {
			b.certified = ldraw.CertifyYes
		}
	}
	if cmd.Winding != ldraw.WindingNone {
		b.winding = cmd.Winding
	}
	if cmd.SetClip {
		b.cull = cmd.Clip
	}
	if cmd.InvertNext {
		b.invertNext = true
	}
}

func (b *builder) addPoly(color ldraw.ColorRef, pts []mgl32.Vec3) {
	face := Face{
		Verts:       make([]int, len(pts)),
		Color:       color,
		Winding:     b.faceWinding(),
		SmoothGroup: b.ownedGr,
	}
	for i, p := range pts {
		face.Verts[i] = b.vertex(p)
	}
	b.mesh.Faces = append(b.mesh.Faces, face)
}

// inline merges a leaf child mesh, transformed by the reference transform.
// Winding flips once when the linear part mirrors (negative determinant)
// and once more under a pending INVERTNEXT. Inherited face colors take the
// reference's color; the child's smoothing groups are remapped so distinct
// primitive instances never share a group.
func (b *builder) inline(child *Mesh, ref ldraw.SubfileRef, invert bool) {
	flip := invert != (ref.Transform.Mat3().Det() < 0)

	remap := make(map[int]int)
	for _, f := range child.Faces {
		verts := make([]int, len(f.Verts))
		for i, vi := range f.Verts {
			p := mgl32.TransformCoordinate(child.Verts[vi], ref.Transform)
			verts[i] = b.vertex(p)
		}
		winding := f.Winding
		if flip {
			winding = winding.Flipped()
		}
		color := f.Color
		if color.Code == ldraw.CodeMain && !color.Direct {
			color = ref.Color
		}
		group := 0
		if f.SmoothGroup != 0 {
			g, ok := remap[f.SmoothGroup]
			if !ok {
				b.groups++
				g = b.groups
				remap[f.SmoothGroup] = g
			}
			group = g
		}
		b.mesh.Faces = append(b.mesh.Faces, Face{
			Verts:       verts,
			Color:       color,
			Winding:     winding,
			SmoothGroup: group,
		})
	}
}
