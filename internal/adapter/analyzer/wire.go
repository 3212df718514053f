package analyzer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/uvalang/uvalens/internal/domain/analysis"
)

// wireResult is the JSON object emitted by the analyzer for one request.
// List elements are kept raw so each one converts independently.
type wireResult struct {
	Elapsed      json.RawMessage   `json:"elapsed,omitempty"`
	Declarations []json.RawMessage `json:"declarations"`
	References   []json.RawMessage `json:"references"`
	Linter       []json.RawMessage `json:"linter"`
	Errors       []json.RawMessage `json:"errors"`
	Tokens       []json.RawMessage `json:"tokens"`
}

// wirePoint is a line/column pair of the token payload.
type wirePoint struct {
	Line   uint `json:"line"`
	Column uint `json:"column"`
}

type wireLocation struct {
	File   string     `json:"file"`
	Line   uint       `json:"line"`
	Column uint       `json:"column"`
	Offset uint       `json:"offset"`
	Length uint       `json:"length,omitempty"`
	Start  *wirePoint `json:"start,omitempty"`
	End    *wirePoint `json:"end,omitempty"`
}

// wireDeclaration also accepts the nested references of the earliest
// protocol, where declarations carried the locations of their uses.
type wireDeclaration struct {
	Name       string            `json:"name"`
	Location   *wireLocation     `json:"location,omitempty"`
	Kind       string            `json:"kind,omitempty"`
	References []json.RawMessage `json:"references,omitempty"`
}

type wireReference struct {
	Name     string        `json:"name"`
	Kind     string        `json:"kind,omitempty"`
	Location *wireLocation `json:"location"`
}

// wireLint carries its kind under "kind" or, in older analyzers, "type".
type wireLint struct {
	Message  string        `json:"message"`
	Kind     string        `json:"kind,omitempty"`
	Type     string        `json:"type,omitempty"`
	Location *wireLocation `json:"location"`
}

type wireToken struct {
	Type     string        `json:"type"`
	Kind     string        `json:"kind,omitempty"`
	Modifier string        `json:"modifier,omitempty"`
	Location *wireLocation `json:"location"`
}

// DecodeStats reports what Decode saw besides the result itself.
type DecodeStats struct {
	Skipped int    // malformed elements dropped
	Elapsed string // analyzer-reported elapsed time, verbatim
}

// Decode converts one analyzer payload into a Result.
//
// Elements are converted independently: a malformed element is logged,
// counted in DecodeStats.Skipped and left out, and the remaining elements are
// kept. A payload that is not a JSON object yields an empty result and an
// error wrapping analysis.ErrProtocol.
func Decode(payload []byte) (analysis.Result, DecodeStats, error) {
	var stats DecodeStats

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return analysis.NewResult(), stats, fmt.Errorf("%w: response is not a JSON object", analysis.ErrProtocol)
	}

	var raw wireResult
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return analysis.NewResult(), stats, fmt.Errorf("%w: unmarshal response: %w", analysis.ErrProtocol, err)
	}
	if len(raw.Elapsed) > 0 {
		stats.Elapsed = string(raw.Elapsed)
	}

	res := analysis.NewResult()
	var nested []analysis.Reference

	skip := func(list string, i int, err error) {
		stats.Skipped++
		slog.Warn("analyzer: skipping malformed element", "list", list, "index", i, "error", err)
	}

	for i, el := range raw.Declarations {
		decl, refs, err := convertDeclaration(el)
		if err != nil {
			skip("declarations", i, err)
			continue
		}
		res.Declarations = append(res.Declarations, decl)
		for j, r := range refs {
			ref, err := convertNestedReference(r, decl)
			if err != nil {
				skip(fmt.Sprintf("declarations[%d].references", i), j, err)
				continue
			}
			nested = append(nested, ref)
		}
	}

	for i, el := range raw.References {
		ref, err := convertReference(el)
		if err != nil {
			skip("references", i, err)
			continue
		}
		res.References = append(res.References, ref)
	}
	res.References = append(res.References, nested...)

	for i, el := range raw.Linter {
		w, err := convertLint(el)
		if err != nil {
			skip("linter", i, err)
			continue
		}
		res.Warnings = append(res.Warnings, analysis.LintWarning(w))
	}

	for i, el := range raw.Errors {
		e, err := convertLint(el)
		if err != nil {
			skip("errors", i, err)
			continue
		}
		res.Errors = append(res.Errors, analysis.LintError(e))
	}

	for i, el := range raw.Tokens {
		tok, err := convertToken(el)
		if err != nil {
			skip("tokens", i, err)
			continue
		}
		res.Tokens = append(res.Tokens, tok)
	}

	return res, stats, nil
}

func convertDeclaration(el json.RawMessage) (analysis.Declaration, []json.RawMessage, error) {
	var w wireDeclaration
	if err := json.Unmarshal(el, &w); err != nil {
		return analysis.Declaration{}, nil, malformed(err)
	}
	if w.Name == "" {
		return analysis.Declaration{}, nil, malformed(errors.New("missing name"))
	}
	decl := analysis.Declaration{Name: w.Name, Kind: w.Kind}
	if w.Location != nil {
		loc, err := convertLocation(w.Location)
		if err != nil {
			return analysis.Declaration{}, nil, err
		}
		decl.Location = &loc
	}
	return decl, w.References, nil
}

func convertNestedReference(el json.RawMessage, decl analysis.Declaration) (analysis.Reference, error) {
	var w wireLocation
	if err := json.Unmarshal(el, &w); err != nil {
		return analysis.Reference{}, malformed(err)
	}
	loc, err := convertLocation(&w)
	if err != nil {
		return analysis.Reference{}, err
	}
	return analysis.Reference{Name: decl.Name, Kind: decl.Kind, Location: loc}, nil
}

func convertReference(el json.RawMessage) (analysis.Reference, error) {
	var w wireReference
	if err := json.Unmarshal(el, &w); err != nil {
		return analysis.Reference{}, malformed(err)
	}
	if w.Name == "" {
		return analysis.Reference{}, malformed(errors.New("missing name"))
	}
	if w.Location == nil {
		return analysis.Reference{}, malformed(errors.New("missing location"))
	}
	loc, err := convertLocation(w.Location)
	if err != nil {
		return analysis.Reference{}, err
	}
	return analysis.Reference{Name: w.Name, Kind: w.Kind, Location: loc}, nil
}

// lint is the shared shape of warnings and errors before severity is assigned.
type lint struct {
	Message  string
	Kind     string
	Location analysis.Location
}

func convertLint(el json.RawMessage) (lint, error) {
	var w wireLint
	if err := json.Unmarshal(el, &w); err != nil {
		return lint{}, malformed(err)
	}
	if w.Location == nil {
		return lint{}, malformed(errors.New("missing location"))
	}
	loc, err := convertLocation(w.Location)
	if err != nil {
		return lint{}, err
	}
	kind := w.Kind
	if kind == "" {
		kind = w.Type
	}
	return lint{Message: w.Message, Kind: kind, Location: loc}, nil
}

func convertToken(el json.RawMessage) (analysis.Token, error) {
	var w wireToken
	if err := json.Unmarshal(el, &w); err != nil {
		return analysis.Token{}, malformed(err)
	}
	kind := w.Type
	if kind == "" {
		kind = w.Kind
	}
	if kind == "" {
		return analysis.Token{}, malformed(errors.New("missing type"))
	}
	if w.Location == nil {
		return analysis.Token{}, malformed(errors.New("missing location"))
	}
	loc, err := convertLocation(w.Location)
	if err != nil {
		return analysis.Token{}, err
	}
	tok := analysis.Token{Kind: kind, Modifier: w.Modifier, Location: loc}
	if w.Location.Start != nil {
		tok.Range = &analysis.Range{
			Start: analysis.Position{Line: int(w.Location.Start.Line), Character: int(w.Location.Start.Column)},
			End:   analysis.Position{Line: int(w.Location.End.Line), Character: int(w.Location.End.Column)},
		}
	}
	return tok, nil
}

func convertLocation(w *wireLocation) (analysis.Location, error) {
	if w.File == "" {
		return analysis.Location{}, malformed(errors.New("location without file"))
	}
	if (w.Start == nil) != (w.End == nil) {
		return analysis.Location{}, malformed(errors.New("location with unpaired start/end"))
	}
	return analysis.Location{
		File:   w.File,
		Line:   w.Line,
		Column: w.Column,
		Offset: w.Offset,
		Length: w.Length,
	}, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %w", analysis.ErrMalformedElement, err)
}

// encodedResult is the payload shape produced by EncodeResult.
type encodedResult struct {
	Declarations []wireDeclaration `json:"declarations"`
	References   []wireReference   `json:"references"`
	Linter       []wireLint        `json:"linter"`
	Errors       []wireLint        `json:"errors"`
	Tokens       []wireToken       `json:"tokens"`
}

// EncodeResult renders res in the analyzer's response schema.
// Decode(EncodeResult(res)) reproduces res for any valid result.
func EncodeResult(res analysis.Result) ([]byte, error) {
	out := encodedResult{
		Declarations: make([]wireDeclaration, 0, len(res.Declarations)),
		References:   make([]wireReference, 0, len(res.References)),
		Linter:       make([]wireLint, 0, len(res.Warnings)),
		Errors:       make([]wireLint, 0, len(res.Errors)),
		Tokens:       make([]wireToken, 0, len(res.Tokens)),
	}
	for _, d := range res.Declarations {
		w := wireDeclaration{Name: d.Name, Kind: d.Kind}
		if d.Location != nil {
			w.Location = encodeLocation(*d.Location)
		}
		out.Declarations = append(out.Declarations, w)
	}
	for _, r := range res.References {
		out.References = append(out.References, wireReference{Name: r.Name, Kind: r.Kind, Location: encodeLocation(r.Location)})
	}
	for _, w := range res.Warnings {
		out.Linter = append(out.Linter, wireLint{Message: w.Message, Kind: w.Kind, Location: encodeLocation(w.Location)})
	}
	for _, e := range res.Errors {
		out.Errors = append(out.Errors, wireLint{Message: e.Message, Kind: e.Kind, Location: encodeLocation(e.Location)})
	}
	for _, t := range res.Tokens {
		loc := encodeLocation(t.Location)
		if t.Range != nil {
			loc.Start = &wirePoint{Line: uint(max(t.Range.Start.Line, 0)), Column: uint(max(t.Range.Start.Character, 0))}
			loc.End = &wirePoint{Line: uint(max(t.Range.End.Line, 0)), Column: uint(max(t.Range.End.Character, 0))}
		}
		out.Tokens = append(out.Tokens, wireToken{Type: t.Kind, Modifier: t.Modifier, Location: loc})
	}
	return json.Marshal(out)
}

func encodeLocation(l analysis.Location) *wireLocation {
	return &wireLocation{File: l.File, Line: l.Line, Column: l.Column, Offset: l.Offset, Length: l.Length}
}
