package analysis

// Style is the opaque decoration style handle the host applies to a kind.
type Style struct {
	Color          string `json:"color,omitempty"`
	FontWeight     string `json:"font_weight,omitempty"`
	FontStyle      string `json:"font_style,omitempty"`
	TextDecoration string `json:"text_decoration,omitempty"`
}

// DecorationGroup holds the ranges of one symbol kind in one document.
// Ranges and Spans are parallel: Spans[i] is the byte span of Ranges[i].
type DecorationGroup struct {
	Kind   string  `json:"kind"`
	Style  Style   `json:"style"`
	Ranges []Range `json:"ranges"`
	Spans  []Span  `json:"spans"`
}

// Diagnostic is a lint message anchored to a range.
type Diagnostic struct {
	Range    Range    `json:"range"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code,omitempty"`
	Source   string   `json:"source"`
}

// Projection is everything the host renders for one analyzed document.
type Projection struct {
	Path        string                  `json:"path"`
	Decorations []DecorationGroup       `json:"decorations"`
	Diagnostics map[string][]Diagnostic `json:"diagnostics"`
}
