package ldraw

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

// Parser errors.
var (
	ErrEmptyDocument  = errors.New("document contains no models")
	ErrUnknownCommand = errors.New("unknown line type")
	ErrShortLine      = errors.New("not enough fields")
)

// Model is the parsed command stream of one file (or one MPD submodel).
type Model struct {
	Name     string
	Commands []Command
}

// HasGeometry reports whether the model contains any drawable command.
// Header-only files (like color configs) contain none.
func (m *Model) HasGeometry() bool {
	for _, c := range m.Commands {
		switch c.(type) {
		case Line, Triangle, Quad, OptionalLine, SubfileRef:
			return true
		}
	}
	return false
}

// HasSubfileRefs reports whether the model references any other file.
// Models without references are leaves and can be inlined into a mesh.
func (m *Model) HasSubfileRefs() bool {
	for _, c := range m.Commands {
		if _, ok := c.(SubfileRef); ok {
			return true
		}
	}
	return false
}

// Document is a parsed LDraw document. Plain .dat/.ldr files hold a single
// model; MPD files hold several, delimited by "0 FILE <name>" boundaries.
type Document struct {
	Main   string            // name of the entry model (first FILE section)
	Models map[string]*Model // keyed by normalized submodel name
}

// Lookup returns the named submodel, trying the normalized form.
func (d *Document) Lookup(name string) (*Model, bool) {
	m, ok := d.Models[NormalizeName(name)]
	return m, ok
}

// NormalizeName lowercases a reference name and normalizes path separators,
// the canonical form used for submodel and cache keys.
func NormalizeName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
}

// Parse parses one file's text into a Model. Malformed lines are skipped
// and reported as diagnostics; a bad line never aborts the file.
func Parse(name string, data []byte) (*Model, []Diagnostic) {
	model := &Model{Name: name}
	var diags []Diagnostic

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cmd, err := parseLine(line)
		if err != nil {
			diags = append(diags, Diagnostic{
				Kind:    DiagMalformedLine,
				File:    name,
				Line:    lineno,
				Message: err.Error(),
			})
			continue
		}
		if cmd != nil {
			model.Commands = append(model.Commands, cmd)
		}
	}
	return model, diags
}

// ParseDocument parses a document that may be multi-part. Sections open
// with "0 FILE <name>" and close at the next FILE line or "0 NOFILE".
// A document without FILE boundaries yields a single model under the
// document's own normalized name.
func ParseDocument(name string, data []byte) (*Document, []Diagnostic, error) {
	doc := &Document{Models: make(map[string]*Model)}
	var diags []Diagnostic

	sections := splitMultipart(data)
	if len(sections) == 0 {
		key := NormalizeName(name)
		model, d := Parse(key, data)
		diags = append(diags, d...)
		doc.Main = key
		doc.Models[key] = model
		return doc, diags, nil
	}

	for _, sec := range sections {
		key := NormalizeName(sec.name)
		model, d := Parse(key, sec.body)
		diags = append(diags, d...)
		if doc.Main == "" {
			doc.Main = key
		}
		doc.Models[key] = model
	}
	if doc.Main == "" {
		return nil, diags, ErrEmptyDocument
	}
	return doc, diags, nil
}

type mpdSection struct {
	name string
	body []byte
}

// splitMultipart cuts an MPD document into named sections. Returns nil when
// the document carries no "0 FILE" boundary at all.
func splitMultipart(data []byte) []mpdSection {
	var sections []mpdSection
	var current *mpdSection

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		fields := strings.Fields(trimmed)
		if len(fields) >= 2 && fields[0] == "0" {
			switch fields[1] {
			case "FILE":
				if current != nil {
					sections = append(sections, *current)
				}
				name := strings.TrimSpace(trimmed[strings.Index(trimmed, "FILE")+len("FILE"):])
				current = &mpdSection{name: name}
				continue
			case "NOFILE":
				if current != nil {
					sections = append(sections, *current)
					current = nil
				}
				continue
			}
		}
		if current != nil {
			current.body = append(current.body, line...)
			current.body = append(current.body, '\n')
		}
	}
	if current != nil {
		sections = append(sections, *current)
	}
	return sections
}

// parseLine classifies and parses a single trimmed, non-empty line.
// A nil command with nil error means the line carries nothing of interest.
func parseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	switch fields[0] {
	case "0":
		return parseMeta(line, fields)
	case "1":
		return parseSubfileRef(line, fields)
	case "2":
		return parseLineSegment(fields)
	case "3":
		return parseTriangle(fields)
	case "4":
		return parseQuad(fields)
	case "5":
		return parseOptionalLine(fields)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, fields[0])
	}
}

func parseMeta(line string, fields []string) (Command, error) {
	if len(fields) < 2 {
		return nil, nil
	}
	switch fields[1] {
	case "BFC":
		return parseBFC(fields[2:])
	case "!COLOUR":
		def, err := parseColourLine(fields)
		if err != nil {
			return nil, err
		}
		return ColorDecl{Def: def}, nil
	case "WRITE", "PRINT", "CLEAR", "PAUSE", "SAVE", "FILE", "NOFILE":
		// Display/step directives and (already split) section markers.
		return nil, nil
	default:
		return Comment{Text: strings.TrimSpace(line[1:])}, nil
	}
}

// parseBFC parses the options of a "0 BFC ..." directive. One line may
// combine several, e.g. "0 BFC CERTIFY CCW".
func parseBFC(options []string) (Command, error) {
	var cmd BFC
	for _, opt := range options {
		switch opt {
		case "CERTIFY":
			cmd.Certify = CertifyYes
		case "NOCERTIFY":
			cmd.Certify = CertifyNo
		case "CCW":
			cmd.Winding = WindingCCW
		case "CW":
			cmd.Winding = WindingCW
		case "CLIP":
			cmd.SetClip = true
			cmd.Clip = true
		case "NOCLIP":
			cmd.SetClip = true
			cmd.Clip = false
		case "INVERTNEXT":
			cmd.InvertNext = true
		default:
			return nil, fmt.Errorf("unknown BFC option %q", opt)
		}
	}
	return cmd, nil
}

// parseSubfileRef parses a line type 1 reference:
//
//	1 <color> x y z a b c d e f g h i <file>
//
// The 3x3 part and translation build the row-major matrix
// [a b c x; d e f y; g h i z; 0 0 0 1]. The filename is the remainder of
// the line and may contain spaces.
func parseSubfileRef(line string, fields []string) (Command, error) {
	if len(fields) < 15 {
		return nil, fmt.Errorf("%w: subfile reference needs 15 fields, got %d", ErrShortLine, len(fields))
	}
	color, err := ParseColorRef(fields[1])
	if err != nil {
		return nil, err
	}
	nums, err := parseFloats(fields[2:14])
	if err != nil {
		return nil, err
	}
	x, y, z := nums[0], nums[1], nums[2]
	a, b, c := nums[3], nums[4], nums[5]
	d, e, f := nums[6], nums[7], nums[8]
	g, h, i := nums[9], nums[10], nums[11]

	// mgl32.Mat4 literals are column-major.
	transform := mgl32.Mat4{
		a, d, g, 0,
		b, e, h, 0,
		c, f, i, 0,
		x, y, z, 1,
	}
	return SubfileRef{
		Color:     color,
		Transform: transform,
		File:      NormalizeName(strings.Join(fields[14:], " ")),
	}, nil
}

func parseLineSegment(fields []string) (Command, error) {
	color, pts, err := parseGeometry(fields, 2)
	if err != nil {
		return nil, err
	}
	return Line{Color: color, P: [2]mgl32.Vec3{pts[0], pts[1]}}, nil
}

func parseTriangle(fields []string) (Command, error) {
	color, pts, err := parseGeometry(fields, 3)
	if err != nil {
		return nil, err
	}
	return Triangle{Color: color, P: [3]mgl32.Vec3{pts[0], pts[1], pts[2]}}, nil
}

func parseQuad(fields []string) (Command, error) {
	color, pts, err := parseGeometry(fields, 4)
	if err != nil {
		return nil, err
	}
	return Quad{Color: color, P: [4]mgl32.Vec3{pts[0], pts[1], pts[2], pts[3]}}, nil
}

func parseOptionalLine(fields []string) (Command, error) {
	color, pts, err := parseGeometry(fields, 4)
	if err != nil {
		return nil, err
	}
	return OptionalLine{
		Color:   color,
		P:       [2]mgl32.Vec3{pts[0], pts[1]},
		Control: [2]mgl32.Vec3{pts[2], pts[3]},
	}, nil
}

// parseGeometry parses "<type> <color> <n x 3 coordinates>" lines.
func parseGeometry(fields []string, points int) (ColorRef, []mgl32.Vec3, error) {
	want := 2 + points*3
	if len(fields) != want {
		return ColorRef{}, nil, fmt.Errorf("%w: want %d fields, got %d", ErrShortLine, want, len(fields))
	}
	color, err := ParseColorRef(fields[1])
	if err != nil {
		return ColorRef{}, nil, err
	}
	nums, err := parseFloats(fields[2:])
	if err != nil {
		return ColorRef{}, nil, err
	}
	pts := make([]mgl32.Vec3, points)
	for i := range pts {
		pts[i] = mgl32.Vec3{nums[i*3], nums[i*3+1], nums[i*3+2]}
	}
	return color, pts, nil
}

func parseFloats(fields []string) ([]float32, error) {
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return nil, fmt.Errorf("bad number %q: %w", f, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
