package ldraw

import (
	"fmt"
	"sync"
)

// DiagnosticKind classifies a recoverable import problem.
type DiagnosticKind int

const (
	DiagMalformedLine DiagnosticKind = iota // line skipped during parsing
	DiagFileNotFound                        // subfile reference could not be resolved
	DiagUnknownColor                        // color code missing from the palette
	DiagCyclicReference                     // subfile chain references itself
	DiagDegenerateSeam                      // seam width produced a non-positive scale
)

// String returns a human-readable kind name.
func (k DiagnosticKind) String() string {
	switch k {
	case DiagMalformedLine:
		return "MalformedLine"
	case DiagFileNotFound:
		return "FileNotFound"
	case DiagUnknownColor:
		return "UnknownColorCode"
	case DiagCyclicReference:
		return "CyclicReference"
	case DiagDegenerateSeam:
		return "DegenerateSeamScale"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Diagnostic records a recoverable problem encountered during an import.
// Imports are best-effort: diagnostics accumulate and the scene still builds.
type Diagnostic struct {
	Kind    DiagnosticKind
	File    string // file the problem occurred in (empty if not file-scoped)
	Line    int    // 1-based line number (0 if not line-scoped)
	Message string
}

// String formats the diagnostic as "kind file:line: message".
func (d Diagnostic) String() string {
	switch {
	case d.File != "" && d.Line > 0:
		return fmt.Sprintf("%s %s:%d: %s", d.Kind, d.File, d.Line, d.Message)
	case d.File != "":
		return fmt.Sprintf("%s %s: %s", d.Kind, d.File, d.Message)
	default:
		return fmt.Sprintf("%s: %s", d.Kind, d.Message)
	}
}

// Diagnostics accumulates recoverable problems across one import. Safe for
// concurrent use: mesh builds may run alongside the scene traversal.
type Diagnostics struct {
	mu   sync.Mutex
	list []Diagnostic
}

// Add records one diagnostic.
func (d *Diagnostics) Add(diag Diagnostic) {
	d.mu.Lock()
	d.list = append(d.list, diag)
	d.mu.Unlock()
}

// AddAll records a batch of diagnostics.
func (d *Diagnostics) AddAll(diags []Diagnostic) {
	if len(diags) == 0 {
		return
	}
	d.mu.Lock()
	d.list = append(d.list, diags...)
	d.mu.Unlock()
}

// List returns a copy of the recorded diagnostics in arrival order.
func (d *Diagnostics) List() []Diagnostic {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Diagnostic, len(d.list))
	copy(out, d.list)
	return out
}
