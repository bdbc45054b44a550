package ldraw

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Color table errors.
var (
	ErrBadColorRef  = errors.New("malformed color reference")
	ErrBadColourDef = errors.New("malformed !COLOUR definition")
)

// MaterialKind classifies how a color should be shaded by the host.
type MaterialKind int

const (
	MaterialPlain MaterialKind = iota
	MaterialTransparent
	MaterialChrome
	MaterialPearlescent
	MaterialMetal
	MaterialRubber
	MaterialEmissive
)

// String returns the material kind name.
func (k MaterialKind) String() string {
	switch k {
	case MaterialPlain:
		return "Plain"
	case MaterialTransparent:
		return "Transparent"
	case MaterialChrome:
		return "Chrome"
	case MaterialPearlescent:
		return "Pearlescent"
	case MaterialMetal:
		return "Metal"
	case MaterialRubber:
		return "Rubber"
	case MaterialEmissive:
		return "Emissive"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// ColorDefinition is one palette entry, immutable once loaded.
type ColorDefinition struct {
	Code      int
	Name      string
	RGB       [3]float32 // base color, 0-1 range
	Edge      [3]float32 // contrast edge color, 0-1 range
	Alpha     float32    // 0 (clear) - 1 (opaque)
	Luminance float32    // 0-1 emission strength
	Kind      MaterialKind
}

// ColorDecl is a palette entry declared inline in a model file via a
// "0 !COLOUR" meta line. Inline declarations extend the startup palette.
type ColorDecl struct {
	Def ColorDefinition
}

func (ColorDecl) isCommand() {}

// ColorTable is the palette mapping color codes to definitions. Built once
// at import start from LDConfig.ldr; model files may extend it through
// inline !COLOUR declarations, so access is guarded. Duplicate codes: last
// definition wins.
type ColorTable struct {
	mu       sync.RWMutex
	colors   map[int]ColorDefinition
	fallback ColorDefinition
}

// NewColorTable returns an empty palette carrying only the fallback entry.
func NewColorTable() *ColorTable {
	return &ColorTable{
		colors: make(map[int]ColorDefinition),
		fallback: ColorDefinition{
			Code:  -1,
			Name:  "Undefined",
			RGB:   [3]float32{0.5, 0.5, 0.5},
			Edge:  [3]float32{0.2, 0.2, 0.2},
			Alpha: 1,
			Kind:  MaterialPlain,
		},
	}
}

// ParseColorTable parses a color-definition source (LDConfig.ldr). A bad
// line is skipped with a diagnostic; the table always comes back usable.
func ParseColorTable(data []byte) (*ColorTable, []Diagnostic) {
	table := NewColorTable()
	var diags []Diagnostic
	pendingEdges := make(map[int]int) // color code -> edge code to resolve

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineno := 0
	for scanner.Scan() {
		lineno++
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[0] != "0" || fields[1] != "!COLOUR" {
			continue
		}
		def, err := parseColourLine(fields)
		if err != nil {
			diags = append(diags, Diagnostic{
				Kind:    DiagMalformedLine,
				File:    "ldconfig",
				Line:    lineno,
				Message: err.Error(),
			})
			continue
		}
		if edgeCode, ok := edgeCodeOf(fields); ok {
			pendingEdges[def.Code] = edgeCode
		}
		table.Add(def)
	}

	// Edge values written as palette codes resolve after the full pass,
	// since they may reference colors defined later in the file.
	for code, edgeCode := range pendingEdges {
		def := table.colors[code]
		if edge, ok := table.colors[edgeCode]; ok {
			def.Edge = edge.RGB
			table.colors[code] = def
		}
	}
	return table, diags
}

// Add inserts or replaces a palette entry.
func (t *ColorTable) Add(def ColorDefinition) {
	t.mu.Lock()
	t.colors[def.Code] = def
	t.mu.Unlock()
}

// Lookup returns the definition for a code.
func (t *ColorTable) Lookup(code int) (ColorDefinition, bool) {
	t.mu.RLock()
	def, ok := t.colors[code]
	t.mu.RUnlock()
	return def, ok
}

// Fallback returns the material used for unknown color codes.
func (t *ColorTable) Fallback() ColorDefinition {
	return t.fallback
}

// Len returns the number of defined palette entries.
func (t *ColorTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.colors)
}

// Resolve maps a non-inherited color reference to a definition. Direct
// colors synthesize an opaque entry from their embedded RGB. The second
// return is false when the code was unknown and the fallback was used.
func (t *ColorTable) Resolve(ref ColorRef) (ColorDefinition, bool) {
	if ref.Direct {
		return ColorDefinition{
			Code:  -1,
			Name:  fmt.Sprintf("Direct #%02X%02X%02X", int(ref.RGB[0]*255), int(ref.RGB[1]*255), int(ref.RGB[2]*255)),
			RGB:   ref.RGB,
			Edge:  t.fallback.Edge,
			Alpha: 1,
			Kind:  MaterialPlain,
		}, true
	}
	if def, ok := t.Lookup(ref.Code); ok {
		return def, true
	}
	return t.fallback, false
}

// ParseColorRef parses a color field: a decimal palette code or a direct
// color of the form 0x2RRGGBB.
func ParseColorRef(tok string) (ColorRef, error) {
	if len(tok) > 3 && (strings.HasPrefix(tok, "0x2") || strings.HasPrefix(tok, "0X2")) {
		rgb, err := hexRGB(tok[3:])
		if err != nil {
			return ColorRef{}, fmt.Errorf("%w: %q", ErrBadColorRef, tok)
		}
		return ColorRef{Direct: true, RGB: rgb}, nil
	}
	code, err := strconv.Atoi(tok)
	if err != nil {
		return ColorRef{}, fmt.Errorf("%w: %q", ErrBadColorRef, tok)
	}
	return ColorRef{Code: code}, nil
}

// parseColourLine parses "0 !COLOUR <name> CODE n VALUE #rrggbb EDGE x
// [ALPHA n] [LUMINANCE n] [CHROME|PEARLESCENT|RUBBER|MATTE_METALLIC|METAL|MATERIAL ...]".
func parseColourLine(fields []string) (ColorDefinition, error) {
	if len(fields) < 3 {
		return ColorDefinition{}, fmt.Errorf("%w: missing name", ErrBadColourDef)
	}
	def := ColorDefinition{Name: fields[2], Alpha: 1}

	upper := make([]string, len(fields))
	for i, f := range fields {
		upper[i] = strings.ToUpper(f)
	}
	args := keywordArgs(upper, "CODE", "VALUE", "EDGE", "ALPHA", "LUMINANCE")

	codeStr, ok := args["CODE"]
	if !ok {
		return ColorDefinition{}, fmt.Errorf("%w: missing CODE", ErrBadColourDef)
	}
	code, err := strconv.Atoi(codeStr)
	if err != nil {
		return ColorDefinition{}, fmt.Errorf("%w: CODE %q", ErrBadColourDef, codeStr)
	}
	def.Code = code

	valueStr, ok := args["VALUE"]
	if !ok {
		return ColorDefinition{}, fmt.Errorf("%w: missing VALUE", ErrBadColourDef)
	}
	def.RGB, err = hexRGB(valueStr)
	if err != nil {
		return ColorDefinition{}, fmt.Errorf("%w: VALUE %q", ErrBadColourDef, valueStr)
	}

	// EDGE may be a hex value or a palette code; codes resolve later.
	if edgeStr, ok := args["EDGE"]; ok && strings.HasPrefix(edgeStr, "#") {
		if edge, err := hexRGB(edgeStr); err == nil {
			def.Edge = edge
		}
	}

	if alphaStr, ok := args["ALPHA"]; ok {
		a, err := strconv.Atoi(alphaStr)
		if err != nil {
			return ColorDefinition{}, fmt.Errorf("%w: ALPHA %q", ErrBadColourDef, alphaStr)
		}
		def.Alpha = float32(a) / 255.0
	}
	if lumStr, ok := args["LUMINANCE"]; ok {
		l, err := strconv.Atoi(lumStr)
		if err != nil {
			return ColorDefinition{}, fmt.Errorf("%w: LUMINANCE %q", ErrBadColourDef, lumStr)
		}
		def.Luminance = float32(l) / 255.0
	}

	def.Kind = classifyMaterial(upper, def.Alpha, def.Luminance)
	return def, nil
}

// edgeCodeOf extracts a numeric EDGE argument if the line used a palette
// code rather than a hex value.
func edgeCodeOf(fields []string) (int, bool) {
	for i, f := range fields {
		if strings.EqualFold(f, "EDGE") && i+1 < len(fields) {
			code, err := strconv.Atoi(fields[i+1])
			return code, err == nil
		}
	}
	return 0, false
}

// classifyMaterial derives the material kind from surface keywords, then
// luminance, then transparency.
func classifyMaterial(upper []string, alpha, luminance float32) MaterialKind {
	for _, f := range upper {
		switch f {
		case "CHROME":
			return MaterialChrome
		case "PEARLESCENT":
			return MaterialPearlescent
		case "RUBBER":
			return MaterialRubber
		case "METAL", "MATTE_METALLIC":
			return MaterialMetal
		}
	}
	if luminance > 0 {
		return MaterialEmissive
	}
	if alpha < 1 {
		return MaterialTransparent
	}
	return MaterialPlain
}

// keywordArgs collects "KEY value" pairs from a token list.
func keywordArgs(fields []string, keys ...string) map[string]string {
	want := make(map[string]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}
	args := make(map[string]string)
	for i := 0; i+1 < len(fields); i++ {
		if want[fields[i]] {
			args[fields[i]] = fields[i+1]
		}
	}
	return args
}

// hexRGB parses "#RRGGBB" or "RRGGBB" into 0-1 components.
func hexRGB(s string) ([3]float32, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return [3]float32{}, fmt.Errorf("hex color %q: want 6 digits", s)
	}
	var rgb [3]float32
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return [3]float32{}, fmt.Errorf("hex color %q: %w", s, err)
		}
		rgb[i] = float32(v) / 255.0
	}
	return rgb, nil
}
