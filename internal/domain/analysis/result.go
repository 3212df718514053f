package analysis

// Symbol kinds reported by the analyzer. KindSymbol is the undifferentiated
// bucket of the earliest protocol version, which did not classify symbols.
const (
	KindClass    = "class"
	KindFunction = "function"
	KindVariable = "variable"
	KindSymbol   = "symbol"
)

// Declaration is a named symbol definition. Location is nil for symbols that
// have no source position, such as built-ins.
type Declaration struct {
	Name     string    `json:"name"`
	Location *Location `json:"location,omitempty"`
	Kind     string    `json:"kind,omitempty"`
}

// Span returns the byte span covered by the declaration's name.
// ok is false when the declaration has no location.
func (d Declaration) Span() (span Span, ok bool) {
	if d.Location == nil {
		return Span{}, false
	}
	return nameSpan(d.Location.Offset, d.Name), true
}

// Reference is a use of a symbol.
type Reference struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	Location Location `json:"location"`
}

// Span returns the byte span covered by the referenced name.
func (r Reference) Span() Span {
	return nameSpan(r.Location.Offset, r.Name)
}

// LintWarning is a non-fatal lint finding.
type LintWarning struct {
	Message  string   `json:"message"`
	Kind     string   `json:"kind"`
	Location Location `json:"location"`
}

// LintError is a lint finding of error severity. It has the same shape as
// LintWarning but is kept in its own list so severity never depends on content.
type LintError struct {
	Message  string   `json:"message"`
	Kind     string   `json:"kind"`
	Location Location `json:"location"`
}

// Token is a syntax-highlighting token. Range carries the explicit start/end
// pair of the newest token payload; it is nil for offset-addressed tokens.
type Token struct {
	Kind     string   `json:"kind"`
	Modifier string   `json:"modifier,omitempty"`
	Location Location `json:"location"`
	Range    *Range   `json:"range,omitempty"`
}

// Result is the normalized outcome of one analysis request.
// All slices are non-nil; a failed request yields NewResult(), never a mix
// of old and new data. A Result is owned by the caller that requested it.
type Result struct {
	Declarations []Declaration `json:"declarations"`
	References   []Reference   `json:"references"`
	Tokens       []Token       `json:"tokens"`
	Warnings     []LintWarning `json:"warnings"`
	Errors       []LintError   `json:"errors"`
}

// NewResult returns an empty, fully populated result.
func NewResult() Result {
	return Result{
		Declarations: []Declaration{},
		References:   []Reference{},
		Tokens:       []Token{},
		Warnings:     []LintWarning{},
		Errors:       []LintError{},
	}
}

// IsEmpty reports whether the result carries no entries at all.
func (r Result) IsEmpty() bool {
	return len(r.Declarations) == 0 && len(r.References) == 0 && len(r.Tokens) == 0 &&
		len(r.Warnings) == 0 && len(r.Errors) == 0
}

// Count returns the total number of entries across all lists.
func (r Result) Count() int {
	return len(r.Declarations) + len(r.References) + len(r.Tokens) + len(r.Warnings) + len(r.Errors)
}

// FindDeclaration returns the first declaration with the given name that has
// a location.
func (r Result) FindDeclaration(name string) (Declaration, bool) {
	for _, d := range r.Declarations {
		if d.Name == name && d.Location != nil {
			return d, true
		}
	}
	return Declaration{}, false
}

func nameSpan(offset uint, name string) Span {
	return Span{Start: offset, End: offset + uint(len(name))}
}
