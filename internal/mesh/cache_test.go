package mesh

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/ldscene/internal/library"
	"github.com/Faultbox/ldscene/pkg/ldraw"
)

// writeTree lays out an LDraw install directory in a temp dir. Keys are
// slash-separated paths relative to the root.
func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func newTestCache(t *testing.T, root string, smooth bool) (*Cache, *ldraw.Diagnostics) {
	t.Helper()
	diags := &ldraw.Diagnostics{}
	lib := library.New(root, "")
	return NewCache(lib, ldraw.NewColorTable(), smooth, diags), diags
}

const boxFile = `0 Box
0 BFC CERTIFY CCW
4 16 0 0 0 0 0 1 1 0 1 1 0 0
4 16 0 1 0 1 1 0 1 1 1 0 1 1
`

func TestBuildOncePerKey(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/box.dat": boxFile,
	})
	cache, _ := newTestCache(t, root, false)
	path := filepath.Join(root, "parts", "box.dat")

	first, err := cache.GetOrBuildFile(path, library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	second, err := cache.GetOrBuildFile(path, library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Error("repeated builds of the same key should return the identical mesh")
	}
	if cache.Len() != 1 {
		t.Errorf("cache holds %d meshes, want 1", cache.Len())
	}
	if len(first.Faces) != 2 {
		t.Errorf("box has %d faces, want 2", len(first.Faces))
	}
	if !first.Certified {
		t.Error("box should be certified")
	}
}

func TestPrimitiveInlining(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/box.dat": boxFile,
		"parts/tile.dat": `0 Tile
0 BFC CERTIFY CCW
1 4 10 0 0 1 0 0 0 1 0 0 0 1 box.dat
`,
	})
	cache, diags := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "tile.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}

	if len(m.Refs) != 0 {
		t.Fatalf("leaf primitive should be inlined, got %d refs", len(m.Refs))
	}
	if len(m.Faces) != 2 {
		t.Fatalf("tile has %d faces, want 2 inlined", len(m.Faces))
	}

	// Translation applied to the child's vertices.
	found := false
	for _, v := range m.Verts {
		if v == (mgl32.Vec3{10, 0, 0}) {
			found = true
		}
	}
	if !found {
		t.Error("translated vertex (10,0,0) missing")
	}

	// Inherited color 16 takes the reference's color.
	for i, f := range m.Faces {
		if f.Color.Code != 4 {
			t.Errorf("face %d color = %d, want 4", i, f.Color.Code)
		}
		if f.Winding != ldraw.WindingCCW {
			t.Errorf("face %d winding = %v, want CCW", i, f.Winding)
		}
	}

	if n := len(diags.List()); n != 0 {
		t.Errorf("unexpected diagnostics: %v", diags.List())
	}
}

func TestInlineMirrorFlipsWinding(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/box.dat": boxFile,
		"parts/mirrored.dat": `0 Mirrored
0 BFC CERTIFY CCW
1 16 0 0 0 -1 0 0 0 1 0 0 0 1 box.dat
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "mirrored.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range m.Faces {
		if f.Winding != ldraw.WindingCW {
			t.Errorf("face %d winding = %v, want CW under mirroring", i, f.Winding)
		}
	}
}

func TestInlineInvertNext(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/box.dat": boxFile,
		// INVERTNEXT alone flips; INVERTNEXT plus a mirror cancels out.
		"parts/inverted.dat": `0 Inverted
0 BFC CERTIFY CCW
0 BFC INVERTNEXT
1 16 0 0 0 1 0 0 0 1 0 0 0 1 box.dat
0 BFC INVERTNEXT
1 16 5 0 0 -1 0 0 0 1 0 0 0 1 box.dat
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "inverted.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Faces) != 4 {
		t.Fatalf("got %d faces, want 4", len(m.Faces))
	}
	if m.Faces[0].Winding != ldraw.WindingCW || m.Faces[1].Winding != ldraw.WindingCW {
		t.Error("inverted placement should flip to CW")
	}
	if m.Faces[2].Winding != ldraw.WindingCCW || m.Faces[3].Winding != ldraw.WindingCCW {
		t.Error("inverted mirrored placement should flip twice, back to CCW")
	}
}

func TestInlineKeepsExplicitColors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/pips.dat": `0 Pips
0 BFC CERTIFY CCW
3 16 0 0 0 1 0 0 0 0 1
3 2 0 0 0 0 1 0 0 0 1
`,
		"parts/die.dat": `0 Die
1 4 0 0 0 1 0 0 0 1 0 0 0 1 pips.dat
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "die.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Faces) != 2 {
		t.Fatalf("got %d faces, want 2", len(m.Faces))
	}
	if m.Faces[0].Color.Code != 4 {
		t.Errorf("inherited face color = %d, want 4", m.Faces[0].Color.Code)
	}
	if m.Faces[1].Color.Code != 2 {
		t.Errorf("explicit face color = %d, want it kept as 2", m.Faces[1].Color.Code)
	}
}

func TestVertexDedup(t *testing.T) {
	root := writeTree(t, map[string]string{
		// Fan of two triangles sharing an edge: 4 unique vertices.
		"parts/fan.dat": `0 Fan
3 16 0 0 0 1 0 0 0 1 0
3 16 0 0 0 0 1 0 0 0 1
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "fan.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Verts) != 4 {
		t.Errorf("got %d vertices, want 4 after dedup", len(m.Verts))
	}
}

func TestUncertifiedFacesHaveNoWinding(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/old.dat": `0 Old part without BFC
3 16 0 0 0 1 0 0 0 1 0
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "old.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if m.Certified {
		t.Error("file without BFC statements should be uncertified")
	}
	if m.Faces[0].Winding != ldraw.WindingNone {
		t.Errorf("winding = %v, want none for uncertified file", m.Faces[0].Winding)
	}
}

func TestSmoothingGroupsPerInstance(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/4-4cyl.dat": `0 Cylinder 1.0
0 BFC CERTIFY CCW
3 16 1 0 0 0 0 1 1 1 0
3 16 0 0 1 1 1 0 0 1 1
`,
		"parts/post.dat": `0 Post
0 BFC CERTIFY CCW
1 16 0 0 0 1 0 0 0 1 0 0 0 1 4-4cyl.dat
1 16 0 2 0 1 0 0 0 1 0 0 0 1 4-4cyl.dat
`,
	})
	cache, _ := newTestCache(t, root, true)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "post.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Faces) != 4 {
		t.Fatalf("got %d faces, want 4", len(m.Faces))
	}

	g1 := m.Faces[0].SmoothGroup
	g2 := m.Faces[2].SmoothGroup
	if g1 == 0 || g2 == 0 {
		t.Fatal("cylinder faces should carry a smoothing group")
	}
	if m.Faces[1].SmoothGroup != g1 {
		t.Error("faces of one instance should share a group")
	}
	if g1 == g2 {
		t.Error("distinct instances must not share a smoothing group")
	}
}

func TestSmoothingDisabled(t *testing.T) {
	root := writeTree(t, map[string]string{
		"p/4-4cyl.dat": `0 Cylinder 1.0
3 16 1 0 0 0 0 1 1 1 0
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "p", "4-4cyl.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if m.Faces[0].SmoothGroup != 0 {
		t.Error("smoothing disabled should leave group 0")
	}
}

func TestHeaderOnlyReferencePruned(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/header.dat": `0 Header Only
0 Name: header.dat
0 Author: nobody
`,
		"parts/user.dat": `0 User
3 16 0 0 0 1 0 0 0 1 0
1 16 0 0 0 1 0 0 0 1 0 0 0 1 header.dat
`,
	})
	cache, diags := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "user.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Faces) != 1 || len(m.Refs) != 0 {
		t.Errorf("header-only reference should contribute nothing, got %d faces %d refs",
			len(m.Faces), len(m.Refs))
	}
	if n := len(diags.List()); n != 0 {
		t.Errorf("pruning a header-only file is not a diagnostic, got %v", diags.List())
	}
}

func TestMissingReferenceDiagnostic(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/broken.dat": `0 Broken
3 16 0 0 0 1 0 0 0 1 0
1 16 0 0 0 1 0 0 0 1 0 0 0 1 nosuch.dat
`,
	})
	cache, diags := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "broken.dat"), library.TierStandard)
	if err != nil {
		t.Fatalf("a missing reference must not fail the build: %v", err)
	}
	if len(m.Faces) != 1 {
		t.Errorf("surviving geometry should still be built, got %d faces", len(m.Faces))
	}

	list := diags.List()
	if len(list) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(list))
	}
	if list[0].Kind != ldraw.DiagFileNotFound {
		t.Errorf("diagnostic kind = %v, want FileNotFound", list[0].Kind)
	}
}

func TestNestedReferenceRecorded(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/box.dat": boxFile,
		"parts/tile.dat": `0 Tile
1 16 0 0 0 1 0 0 0 1 0 0 0 1 box.dat
`,
		"parts/assembly.dat": `0 Assembly
0 BFC INVERTNEXT
1 7 0 0 0 1 0 0 0 1 0 0 0 1 tile.dat
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "assembly.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Faces) != 0 {
		t.Errorf("nested reference must not be inlined, got %d faces", len(m.Faces))
	}
	if len(m.Refs) != 1 {
		t.Fatalf("got %d refs, want 1", len(m.Refs))
	}
	ref := m.Refs[0]
	if ref.File != "tile.dat" {
		t.Errorf("ref file = %q, want tile.dat", ref.File)
	}
	if ref.Color.Code != 7 {
		t.Errorf("ref color = %d, want 7", ref.Color.Code)
	}
	if !ref.Invert {
		t.Error("pending INVERTNEXT should be captured on the ref")
	}
}

func TestSubmodelStaysRef(t *testing.T) {
	doc, _, err := ldraw.ParseDocument("model.mpd", []byte(`0 FILE main.ldr
0 Main
1 14 0 0 0 1 0 0 0 1 0 0 0 1 wedge.ldr
0 NOFILE
0 FILE wedge.ldr
0 Wedge
0 BFC CERTIFY CCW
3 16 0 0 0 4 0 0 0 0 4
0 NOFILE
`))
	if err != nil {
		t.Fatal(err)
	}

	root := writeTree(t, map[string]string{})
	cache, diags := newTestCache(t, root, false)

	m, err := cache.GetOrBuildSub(doc, "/tmp/model.mpd", doc.Main, library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	// Submodels are placements, never inlined, even when they are leaves.
	if len(m.Faces) != 0 || len(m.Refs) != 1 {
		t.Fatalf("submodel should stay a ref, got %d faces %d refs", len(m.Faces), len(m.Refs))
	}
	if m.Refs[0].File != "wedge.ldr" {
		t.Errorf("ref file = %q, want wedge.ldr", m.Refs[0].File)
	}

	wedge, err := cache.GetOrBuildSub(doc, "/tmp/model.mpd", "wedge.ldr", library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	if len(wedge.Faces) != 1 {
		t.Fatalf("wedge has %d faces, want 1", len(wedge.Faces))
	}
	if wedge.Faces[0].Color.Code != ldraw.CodeMain {
		t.Errorf("face color = %d, want the 16 sentinel kept", wedge.Faces[0].Color.Code)
	}
	if n := len(diags.List()); n != 0 {
		t.Errorf("unexpected diagnostics: %v", diags.List())
	}
}

func TestPartReferenceStaysRef(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/parta.dat": `0 PartA
0 BFC CERTIFY CCW
3 16 0 0 0 4 0 0 0 0 4
`,
		"parts/holder.dat": `0 Holder
1 7 0 0 0 1 0 0 0 1 0 0 0 1 parta.dat
`,
	})
	cache, _ := newTestCache(t, root, false)

	m, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "holder.dat"), library.TierStandard)
	if err != nil {
		t.Fatal(err)
	}
	// Library parts are placements: their geometry is never baked into the
	// referencing mesh, so colors and seams resolve per instance.
	if len(m.Faces) != 0 {
		t.Errorf("part reference baked %d faces into the parent mesh", len(m.Faces))
	}
	if len(m.Refs) != 1 || m.Refs[0].File != "parta.dat" {
		t.Fatalf("got refs %v, want the single parta.dat placement", m.Refs)
	}
	if m.Refs[0].Color.Code != 7 {
		t.Errorf("ref color = %d, want 7", m.Refs[0].Color.Code)
	}
}

func TestConcurrentRequestersShareBuild(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/box.dat": boxFile,
	})
	cache, _ := newTestCache(t, root, false)
	path := filepath.Join(root, "parts", "box.dat")

	const workers = 16
	results := make([]*Mesh, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := cache.GetOrBuildFile(path, library.TierStandard)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = m
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatalf("worker %d got a different mesh instance", i)
		}
	}
	if cache.Len() != 1 {
		t.Errorf("cache holds %d meshes, want exactly one build", cache.Len())
	}
}

func TestUnknownFaceColorDiagnostic(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/odd.dat": `0 Odd
3 999 0 0 0 1 0 0 0 1 0
3 999 0 0 0 0 1 0 0 0 1
3 16 0 0 0 1 0 0 0 0 1
`,
	})
	cache, diags := newTestCache(t, root, false)

	if _, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "odd.dat"), library.TierStandard); err != nil {
		t.Fatal(err)
	}

	list := diags.List()
	if len(list) != 1 {
		t.Fatalf("got %d diagnostics, want one per unknown code per file: %v", len(list), list)
	}
	if list[0].Kind != ldraw.DiagUnknownColor {
		t.Errorf("diagnostic kind = %v, want UnknownColorCode", list[0].Kind)
	}
}

func TestModelParsedOnce(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/box.dat": boxFile,
	})
	cache, _ := newTestCache(t, root, false)
	path := filepath.Join(root, "parts", "box.dat")

	first, err := cache.Model(path)
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt the file on disk: a second lookup must hit the memoized parse.
	if err := os.WriteFile(path, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := cache.Model(path)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("repeated Model calls should return the identical parse")
	}
}

func TestInlineColorDeclExtendsPalette(t *testing.T) {
	root := writeTree(t, map[string]string{
		"parts/custom.dat": `0 Custom
0 !COLOUR My_Color CODE 700 VALUE #FF8800 EDGE #000000
3 700 0 0 0 1 0 0 0 1 0
`,
	})
	diags := &ldraw.Diagnostics{}
	lib := library.New(root, "")
	palette := ldraw.NewColorTable()
	cache := NewCache(lib, palette, false, diags)

	if _, err := cache.GetOrBuildFile(filepath.Join(root, "parts", "custom.dat"), library.TierStandard); err != nil {
		t.Fatal(err)
	}

	def, ok := palette.Lookup(700)
	if !ok {
		t.Fatal("inline !COLOUR should land in the palette")
	}
	if def.Name != "My_Color" {
		t.Errorf("name = %q, want My_Color", def.Name)
	}
}
