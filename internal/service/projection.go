package service

import (
	"github.com/uvalang/uvalens/internal/config"
	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// DiagnosticSource tags every diagnostic produced from analyzer lint output.
const DiagnosticSource = "uvalang-analyzer"

// PositionMapper translates document byte offsets into positions.
// *analysis.LineIndex implements it.
type PositionMapper interface {
	PositionAt(offset int) analysis.Position
}

// Projector turns results into decoration groups and diagnostics. It holds
// no per-document state: every call recomputes from the given result.
type Projector struct {
	kinds  []string
	styles map[string]analysis.Style
}

// NewProjector creates a projector with the ordered decoration kinds of the
// analyzer protocol in use and the style of each kind.
func NewProjector(kinds []string, styles map[string]analysis.Style) *Projector {
	return &Projector{kinds: kinds, styles: styles}
}

// ProjectorFromConfig builds a Projector from the projection settings.
func ProjectorFromConfig(cfg config.Projection) *Projector {
	styles := make(map[string]analysis.Style, len(cfg.Styles))
	for kind, st := range cfg.Styles {
		styles[kind] = analysis.Style{
			Color:          st.Color,
			FontWeight:     st.FontWeight,
			FontStyle:      st.FontStyle,
			TextDecoration: st.TextDecoration,
		}
	}
	return NewProjector(cfg.Kinds, styles)
}

// Kinds returns the configured decoration kinds in order.
func (p *Projector) Kinds() []string {
	return p.kinds
}

// Decorations groups the declarations and references located in doc by
// kind, one group per configured kind in order. Entries in other files,
// declarations without a location and kinds without a group are left out.
// An empty kind belongs to the symbol group. m may be nil, in which case
// doc's text is indexed.
func (p *Projector) Decorations(res analysis.Result, doc analysis.Document, m PositionMapper) []analysis.DecorationGroup {
	if m == nil {
		m = analysis.NewLineIndex(doc.Text)
	}
	groups := make([]analysis.DecorationGroup, len(p.kinds))
	index := make(map[string]int, len(p.kinds))
	for i, kind := range p.kinds {
		groups[i] = analysis.DecorationGroup{
			Kind:   kind,
			Style:  p.styles[kind],
			Ranges: []analysis.Range{},
			Spans:  []analysis.Span{},
		}
		index[kind] = i
	}

	add := func(kind string, span analysis.Span) {
		if kind == "" {
			kind = analysis.KindSymbol
		}
		i, ok := index[kind]
		if !ok {
			return
		}
		g := &groups[i]
		g.Spans = append(g.Spans, span)
		g.Ranges = append(g.Ranges, analysis.Range{
			Start: m.PositionAt(int(span.Start)),
			End:   m.PositionAt(int(span.End)),
		})
	}

	for _, d := range res.Declarations {
		if d.Location == nil || d.Location.File != doc.Path {
			continue
		}
		span, _ := d.Span()
		add(d.Kind, span)
	}
	for _, r := range res.References {
		if r.Location.File != doc.Path {
			continue
		}
		add(r.Kind, r.Span())
	}
	return groups
}

// Diagnostics groups lint output per file: warnings first, then errors.
// The range spans Length columns on the reported line.
func (p *Projector) Diagnostics(res analysis.Result) map[string][]analysis.Diagnostic {
	out := make(map[string][]analysis.Diagnostic)
	for _, w := range res.Warnings {
		out[w.Location.File] = append(out[w.Location.File], diagnostic(w.Location, analysis.SeverityWarning, w.Message, w.Kind))
	}
	for _, e := range res.Errors {
		out[e.Location.File] = append(out[e.Location.File], diagnostic(e.Location, analysis.SeverityError, e.Message, e.Kind))
	}
	return out
}

func diagnostic(loc analysis.Location, sev analysis.Severity, msg, kind string) analysis.Diagnostic {
	line, col := int(loc.Line), int(loc.Column)
	return analysis.Diagnostic{
		Range: analysis.Range{
			Start: analysis.Position{Line: line, Character: col},
			End:   analysis.Position{Line: line, Character: col + int(loc.Length)},
		},
		Severity: sev,
		Message:  msg,
		Code:     kind,
		Source:   DiagnosticSource,
	}
}

// Project bundles decorations and diagnostics for doc. The diagnostics map
// always has an entry for doc so the host clears stale markers.
func (p *Projector) Project(res analysis.Result, doc analysis.Document) analysis.Projection {
	diags := p.Diagnostics(res)
	if _, ok := diags[doc.Path]; !ok {
		diags[doc.Path] = []analysis.Diagnostic{}
	}
	return analysis.Projection{
		Path:        doc.Path,
		Decorations: p.Decorations(res, doc, nil),
		Diagnostics: diags,
	}
}
