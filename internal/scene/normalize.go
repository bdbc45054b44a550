package scene

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// hostScale converts LDraw units (LDU) to host scene units.
const hostScale float32 = 0.025

// minSeamScale is the floor for the seam factor when a degenerate seam
// width would collapse parts to nothing.
const minSeamScale float32 = 0.001

// Normalize post-processes a built scene: seam scaling between parts and
// the optional transform onto the host's coordinate axes. Smoothing-group
// assignment happens during mesh building so cached meshes stay canonical
// per import.
func Normalize(s *Scene, opts Options, diags *ldraw.Diagnostics) {
	if opts.SeamWidth != 0 {
		applySeam(s, opts.SeamWidth, diags)
	}
	if opts.TransformToHost {
		applyHostAxes(s)
	}
}

// HostAxesTransform returns the fixed transform onto host axes: LDU scale
// and a -90 degree rotation about X (LDraw's Y points down).
func HostAxesTransform() mgl32.Mat4 {
	scale := mgl32.Scale3D(hostScale, hostScale, hostScale)
	return scale.Mul4(mgl32.HomogRotate3DX(-math32.Pi / 2))
}

func applyHostAxes(s *Scene) {
	m := HostAxesTransform()
	eachNode(s.Root, func(n *PlacementNode) {
		n.Transform = m.Mul4(n.Transform)
	})
	for i := range s.Lights {
		l := &s.Lights[i]
		l.Position = mgl32.TransformCoordinate(l.Position, m)
		if dir := mgl32.TransformNormal(l.Direction, m); dir.Len() > 0 {
			l.Direction = dir.Normalize()
		}
		l.Radius *= hostScale
	}
}

// applySeam shrinks every placed part about its own bounding-box center by
// (1 - width), opening visual gaps between adjacent bricks. Primitives and
// sub-parts keep their exact geometry so snap points stay aligned.
func applySeam(s *Scene, width float32, diags *ldraw.Diagnostics) {
	factor := 1 - width
	if factor <= 0 {
		diags.Add(ldraw.Diagnostic{
			Kind:    ldraw.DiagDegenerateSeam,
			Message: fmt.Sprintf("seam width %v leaves no part volume, clamped", width),
		})
		factor = minSeamScale
	}
	if factor >= 1 {
		// Negative widths would grow parts into each other; treat as off.
		return
	}
	seamNode(s.Root, factor, diags)
}

func seamNode(n *PlacementNode, factor float32, diags *ldraw.Diagnostics) {
	if n == nil {
		return
	}
	if n.IsPart && !IsSubpart(n.Name) {
		if n.Transform.Det() == 0 {
			// Flattened placements (zero scale on an axis) have no
			// inverse; scaling them would poison the subtree with NaNs.
			diags.Add(ldraw.Diagnostic{
				Kind:    ldraw.DiagDegenerateSeam,
				File:    n.Name,
				Message: "placement transform is singular, seam skipped",
			})
		} else if center, ok := subtreeCenterLocal(n); ok {
			seam := mgl32.Translate3D(center[0], center[1], center[2]).
				Mul4(mgl32.Scale3D(factor, factor, factor)).
				Mul4(mgl32.Translate3D(-center[0], -center[1], -center[2]))
			// The part's accumulated transform gains the seam on its local
			// side; descendants follow through a world-space adjustment.
			adjust := n.Transform.Mul4(seam).Mul4(n.Transform.Inv())
			eachNode(n, func(d *PlacementNode) {
				d.Transform = adjust.Mul4(d.Transform)
			})
		}
	}
	for _, c := range n.Children {
		seamNode(c, factor, diags)
	}
}

// subtreeCenterLocal returns the center of the part's bounding box in its
// own local space, spanning the part's mesh and all nested placements.
func subtreeCenterLocal(n *PlacementNode) (mgl32.Vec3, bool) {
	inv := n.Transform.Inv()
	var (
		min, max mgl32.Vec3
		any      bool
	)
	eachNode(n, func(d *PlacementNode) {
		if d.Mesh == nil {
			return
		}
		local := inv.Mul4(d.Transform)
		for _, v := range d.Mesh.Verts {
			p := mgl32.TransformCoordinate(v, local)
			if !any {
				min, max = p, p
				any = true
				continue
			}
			for i := 0; i < 3; i++ {
				min[i] = math32.Min(min[i], p[i])
				max[i] = math32.Max(max[i], p[i])
			}
		}
	})
	if !any {
		return mgl32.Vec3{}, false
	}
	return min.Add(max).Mul(0.5), true
}

func eachNode(n *PlacementNode, fn func(*PlacementNode)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		eachNode(c, fn)
	}
}
