package domain

import (
	"fmt"
	"strings"

	"github.com/go-python/gpython/ast"

	"github.com/MatthewMckee4/karva/internal/model"
)

// extractParametrize reads parametrize(arg_names, arg_values) into a
// ParamSpec. Malformed shapes mark the tag invalid; affected tests are
// reported as collection errors.
func (v *moduleVisitor) extractParametrize(call *ast.Call, loc model.Location) model.Tag {
	tag := model.Tag{Kind: model.TagParametrize, Location: loc}

	invalid := func(format string, args ...any) model.Tag {
		tag.Invalid = &model.Diagnostic{
			Kind:     model.DiagInvalidParams,
			Location: loc,
			Message:  fmt.Sprintf(format, args...),
		}
		return tag
	}

	if call == nil {
		return invalid("parametrize requires argument names and values")
	}

	namesExpr, valuesExpr := parametrizeArgs(call)
	if namesExpr == nil || valuesExpr == nil {
		return invalid("parametrize requires argument names and values")
	}

	names, ok := parseArgNames(namesExpr)
	if !ok || len(names) == 0 {
		return invalid("parametrize argument names must be a string or a sequence of strings")
	}

	cases, err := v.parseArgValues(valuesExpr, len(names))
	if err != nil {
		return invalid("%s", err.Error())
	}

	tag.Spec = &model.ParamSpec{Names: names, Cases: cases}

	return tag
}

// parametrizeArgs accepts both positional and keyword spellings.
func parametrizeArgs(call *ast.Call) (names, values ast.Expr) {
	if len(call.Args) > 0 {
		names = call.Args[0]
	}
	if len(call.Args) > 1 {
		values = call.Args[1]
	}

	for _, kw := range call.Keywords {
		switch string(kw.Arg) {
		case "arg_names", "argnames":
			names = kw.Value
		case "arg_values", "argvalues":
			values = kw.Value
		}
	}

	return names, values
}

// parseArgNames handles both the comma-separated single string and the
// explicit sequence-of-strings forms.
func parseArgNames(e ast.Expr) ([]string, bool) {
	if s, ok := e.(*ast.Str); ok {
		raw := strings.Split(string(s.S), ",")
		names := make([]string, 0, len(raw))
		for _, name := range raw {
			name = strings.TrimSpace(name)
			if name == "" {
				return nil, false
			}
			names = append(names, name)
		}
		return names, true
	}

	var elts []ast.Expr

	switch x := e.(type) {
	case *ast.List:
		elts = x.Elts
	case *ast.Tuple:
		elts = x.Elts
	default:
		return nil, false
	}

	names := make([]string, 0, len(elts))

	for _, elt := range elts {
		s, ok := elt.(*ast.Str)
		if !ok {
			return nil, false
		}
		names = append(names, string(s.S))
	}

	return names, true
}

// parseArgValues reads the value matrix: one case per element, each a
// tuple when multiple names are bound, a scalar when one is, or a
// param(...) carrying per-case tag overrides.
func (v *moduleVisitor) parseArgValues(e ast.Expr, arity int) ([]model.ParamCase, error) {
	var elts []ast.Expr

	switch x := e.(type) {
	case *ast.List:
		elts = x.Elts
	case *ast.Tuple:
		elts = x.Elts
	default:
		return nil, fmt.Errorf("parametrize values must be a sequence")
	}

	cases := make([]model.ParamCase, 0, len(elts))

	for i, elt := range elts {
		c, err := v.parseCase(elt, arity)
		if err != nil {
			return nil, fmt.Errorf("parametrize value %d: %w", i, err)
		}
		cases = append(cases, c)
	}

	return cases, nil
}

func (v *moduleVisitor) parseCase(e ast.Expr, arity int) (model.ParamCase, error) {
	if call, ok := e.(*ast.Call); ok && paramMarkers[v.canonicalName(call.Func)] {
		return v.parseParamCall(call, arity)
	}

	return v.parsePlainCase(e, arity)
}

// parsePlainCase handles bare tuples and scalars.
func (v *moduleVisitor) parsePlainCase(e ast.Expr, arity int) (model.ParamCase, error) {
	if arity == 1 {
		return model.ParamCase{Values: []model.PyValue{v.exprValue(e)}}, nil
	}

	var elts []ast.Expr

	switch x := e.(type) {
	case *ast.Tuple:
		elts = x.Elts
	case *ast.List:
		elts = x.Elts
	default:
		return model.ParamCase{}, fmt.Errorf("expected a tuple of %d values", arity)
	}

	if len(elts) != arity {
		return model.ParamCase{}, fmt.Errorf("expected %d values, got %d", arity, len(elts))
	}

	values := make([]model.PyValue, 0, arity)
	for _, elt := range elts {
		values = append(values, v.exprValue(elt))
	}

	return model.ParamCase{Values: values}, nil
}

// parseParamCall handles param(*values, tags=[...]) forms.
func (v *moduleVisitor) parseParamCall(call *ast.Call, arity int) (model.ParamCase, error) {
	if len(call.Args) != arity {
		return model.ParamCase{}, fmt.Errorf("param() expected %d values, got %d", arity, len(call.Args))
	}

	c := model.ParamCase{Values: make([]model.PyValue, 0, arity)}

	for _, arg := range call.Args {
		c.Values = append(c.Values, v.exprValue(arg))
	}

	for _, kw := range call.Keywords {
		if string(kw.Arg) != "tags" {
			continue
		}

		tags, err := v.parseCaseTags(kw.Value)
		if err != nil {
			return model.ParamCase{}, err
		}
		c.Tags = tags
	}

	return c, nil
}

// parseCaseTags reads the per-case tag override list.
func (v *moduleVisitor) parseCaseTags(e ast.Expr) ([]model.Tag, error) {
	var elts []ast.Expr

	switch x := e.(type) {
	case *ast.List:
		elts = x.Elts
	case *ast.Tuple:
		elts = x.Elts
	default:
		return nil, fmt.Errorf("param() tags must be a sequence")
	}

	var tags []model.Tag

	for _, elt := range elts {
		target := elt
		var call *ast.Call
		if c, ok := elt.(*ast.Call); ok {
			call = c
			target = c.Func
		}

		canonical := v.canonicalName(target)
		loc := model.Location{Path: v.path}

		switch {
		case skipMarkers[canonical]:
			tags = append(tags, v.extractGate(model.TagSkip, call, loc))
		case expectFailMarkers[canonical]:
			tags = append(tags, v.extractGate(model.TagExpectFail, call, loc))
		default:
			name := canonical
			if name == "" {
				name = "<expression>"
			}
			tags = append(tags, model.Tag{Kind: model.TagCustom, Name: name, Location: loc})
		}
	}

	return tags, nil
}
