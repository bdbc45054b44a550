// Package ldraw provides parsers for the LDraw model file format.
// LDraw files are line-oriented: each line carries a type indicator
// (0=meta, 1=subfile reference, 2=line, 3=triangle, 4=quad, 5=optional
// line) followed by whitespace-separated fields.
package ldraw

import "github.com/go-gl/mathgl/mgl32"

// Sentinel color codes. These never resolve to a palette entry directly:
// they inherit the referencing placement's main or edge color.
const (
	CodeMain = 16 // inherit parent's main color
	CodeEdge = 24 // inherit parent's edge color
)

// ColorRef is a color reference as written on a geometry or subfile line.
// Either a palette code, or a direct color carrying its own RGB.
type ColorRef struct {
	Code   int
	Direct bool
	RGB    [3]float32 // valid only when Direct
}

// Inherited reports whether the reference is one of the inherit sentinels.
func (c ColorRef) Inherited() bool {
	return !c.Direct && (c.Code == CodeMain || c.Code == CodeEdge)
}

// Winding is a triangle winding orientation.
type Winding int

const (
	WindingNone Winding = iota // file uncertified, orientation unknown
	WindingCCW
	WindingCW
)

// Flipped returns the opposite orientation. WindingNone stays WindingNone.
func (w Winding) Flipped() Winding {
	switch w {
	case WindingCCW:
		return WindingCW
	case WindingCW:
		return WindingCCW
	default:
		return WindingNone
	}
}

// String returns the orientation name.
func (w Winding) String() string {
	switch w {
	case WindingCCW:
		return "CCW"
	case WindingCW:
		return "CW"
	default:
		return "None"
	}
}

// Certify is the tri-state BFC certification carried by a BFC meta line.
type Certify int

const (
	CertifyUnset Certify = iota // directive does not touch certification
	CertifyYes
	CertifyNo
)

// Command is one parsed LDraw line.
type Command interface {
	isCommand()
}

// SubfileRef places another file's geometry at a color and transform
// (line type 1).
type SubfileRef struct {
	Color     ColorRef
	Transform mgl32.Mat4 // local placement, row-built from the 12 line fields
	File      string     // normalized: lowercase, forward slashes
}

// Line is a line segment between two points (line type 2).
type Line struct {
	Color ColorRef
	P     [2]mgl32.Vec3
}

// Triangle is a filled triangle (line type 3).
type Triangle struct {
	Color ColorRef
	P     [3]mgl32.Vec3
}

// Quad is a filled quadrilateral (line type 4).
type Quad struct {
	Color ColorRef
	P     [4]mgl32.Vec3
}

// OptionalLine is a conditional edge, drawn only when its control points
// fall on the same side of the view (line type 5).
type OptionalLine struct {
	Color   ColorRef
	P       [2]mgl32.Vec3
	Control [2]mgl32.Vec3
}

// BFC is a back-face-culling meta directive (0 BFC ...). One line may set
// several options at once, e.g. "0 BFC CERTIFY CCW".
type BFC struct {
	Certify    Certify
	Winding    Winding // WindingNone when the line does not set orientation
	SetClip    bool
	Clip       bool
	InvertNext bool
}

// Comment is any other meta line, kept for header inspection.
type Comment struct {
	Text string
}

func (SubfileRef) isCommand()   {}
func (Line) isCommand()         {}
func (Triangle) isCommand()     {}
func (Quad) isCommand()         {}
func (OptionalLine) isCommand() {}
func (BFC) isCommand()          {}
func (Comment) isCommand()      {}
