package domain

import (
	"fmt"
	"strings"

	"github.com/go-python/gpython/ast"
	"github.com/go-python/gpython/py"

	"github.com/MatthewMckee4/karva/internal/model"
)

// Canonical dotted names the visitor recognizes after alias resolution.
var (
	fixtureMarkers = map[string]bool{
		"karva.fixture":  true,
		"pytest.fixture": true,
	}
	parametrizeMarkers = map[string]bool{
		"karva.parametrize":      true,
		"pytest.mark.parametrize": true,
	}
	skipMarkers = map[string]bool{
		"karva.skip":         true,
		"pytest.mark.skip":   true,
		"pytest.mark.skipif": true,
	}
	expectFailMarkers = map[string]bool{
		"karva.expect_fail": true,
		"pytest.mark.xfail": true,
	}
	useFixturesMarkers = map[string]bool{
		"karva.use_fixtures":      true,
		"pytest.mark.usefixtures": true,
	}
	paramMarkers = map[string]bool{
		"karva.param":  true,
		"pytest.param": true,
	}
)

// moduleVisitor walks a parsed module's top-level statements and
// extracts test and fixture definitions.
type moduleVisitor struct {
	path    model.Path
	prefix  string
	imports map[string]string
	diags   []model.Diagnostic
}

// extractModule builds a Module from a parsed AST. Only top-level
// function definitions are considered.
func extractModule(path model.Path, tree ast.Ast, prefix string) (*model.Module, []model.Diagnostic) {
	root, ok := tree.(*ast.Module)
	if !ok {
		return &model.Module{Path: path, Imports: map[string]string{}}, nil
	}

	v := &moduleVisitor{
		path:    path,
		prefix:  prefix,
		imports: map[string]string{},
	}

	mod := &model.Module{Path: path, Imports: v.imports}

	index := 0

	for _, stmt := range root.Body {
		switch s := stmt.(type) {
		case *ast.Import:
			v.recordImport(s)
		case *ast.ImportFrom:
			v.recordImportFrom(s)
		case *ast.FunctionDef:
			v.visitFunction(mod, s, &index)
		}
	}

	return mod, v.diags
}

// recordImport maps `import karva as k` style aliases.
func (v *moduleVisitor) recordImport(s *ast.Import) {
	for _, alias := range s.Names {
		name := string(alias.Name)
		local := name
		if alias.AsName != "" {
			local = string(alias.AsName)
		} else if idx := strings.Index(name, "."); idx >= 0 {
			local = name[:idx]
			name = local
		}
		v.imports[local] = name
	}
}

// recordImportFrom maps `from karva import fixture as fx` style aliases
// to their dotted targets.
func (v *moduleVisitor) recordImportFrom(s *ast.ImportFrom) {
	module := string(s.Module)
	for _, alias := range s.Names {
		name := string(alias.Name)
		local := name
		if alias.AsName != "" {
			local = string(alias.AsName)
		}
		v.imports[local] = module + "." + name
	}
}

// canonicalName renders a decorator expression as a dotted name with the
// leading segment resolved through the module's import aliases. Returns
// "" for expressions that are not name chains.
func (v *moduleVisitor) canonicalName(e ast.Expr) string {
	var segments []string

	for {
		switch x := e.(type) {
		case *ast.Attribute:
			segments = append([]string{string(x.Attr)}, segments...)
			e = x.Value
			continue
		case *ast.Name:
			segments = append([]string{string(x.Id)}, segments...)
		default:
			return ""
		}
		break
	}

	if target, ok := v.imports[segments[0]]; ok {
		segments = append(strings.Split(target, "."), segments[1:]...)
	}

	return strings.Join(segments, ".")
}

// visitFunction classifies one top-level function definition.
func (v *moduleVisitor) visitFunction(mod *model.Module, fn *ast.FunctionDef, index *int) {
	loc := model.Location{Path: v.path, Line: fn.Lineno}

	if fixtureDecorator, found := v.findFixtureDecorator(fn); found {
		def := v.extractFixture(fn, fixtureDecorator, loc)
		mod.Fixtures = append(mod.Fixtures, def)

		return
	}

	if !strings.HasPrefix(string(fn.Name), v.prefix) {
		return
	}

	def := &model.TestDef{
		Name:     string(fn.Name),
		Location: loc,
		Requires: paramNames(fn.Args),
		Tags:     v.extractTags(fn),
		Index:    *index,
	}
	*index++

	mod.Tests = append(mod.Tests, def)
}

// findFixtureDecorator returns the fixture decorator expression when the
// function carries one.
func (v *moduleVisitor) findFixtureDecorator(fn *ast.FunctionDef) (ast.Expr, bool) {
	for _, dec := range fn.DecoratorList {
		target := dec
		if call, ok := dec.(*ast.Call); ok {
			target = call.Func
		}
		if fixtureMarkers[v.canonicalName(target)] {
			return dec, true
		}
	}

	return nil, false
}

// extractFixture reads the fixture decorator's arguments. Non-literal
// arguments flag the definition for late binding.
func (v *moduleVisitor) extractFixture(fn *ast.FunctionDef, dec ast.Expr, loc model.Location) *model.FixtureDef {
	def := &model.FixtureDef{
		Name:     string(fn.Name),
		FuncName: string(fn.Name),
		Scope:    model.ScopeFunction,
		Location: loc,
	}

	def.Requires, def.HasRequest = fixtureParams(fn.Args)
	def.IsGenerator = containsYield(fn.Body)

	call, ok := dec.(*ast.Call)
	if !ok {
		return def
	}

	for _, kw := range call.Keywords {
		switch string(kw.Arg) {
		case "scope":
			v.extractScope(def, kw.Value)
		case "name":
			if s, ok := kw.Value.(*ast.Str); ok {
				def.Name = string(s.S)
			} else {
				def.LateBound = true
			}
		case "auto_use", "autouse":
			if c, ok := kw.Value.(*ast.NameConstant); ok {
				def.AutoUse = c.Value == py.True
			} else {
				def.LateBound = true
			}
		case "params":
			values, ok := v.sequenceValues(kw.Value)
			if !ok {
				def.LateBound = true
				break
			}
			def.Params = values
		}
	}

	return def
}

// extractScope handles literal scope strings and dynamic scope callables.
func (v *moduleVisitor) extractScope(def *model.FixtureDef, e ast.Expr) {
	if s, ok := e.(*ast.Str); ok {
		name := string(s.S)
		if model.ValidScope(name) {
			def.Scope = model.FixtureScope(name)
			return
		}

		v.diags = append(v.diags, model.Diagnostic{
			Kind:     model.DiagScopeConflict,
			Location: def.Location,
			Message:  fmt.Sprintf("unknown fixture scope %q", name),
		})

		return
	}

	// A non-literal scope is a callable resolved once during normalization.
	def.Scope = model.ScopeDynamic
	value := v.exprValue(e)
	def.ScopeDynamic = &value
}

// extractTags reads the non-fixture decorators on a test function.
func (v *moduleVisitor) extractTags(fn *ast.FunctionDef) model.TagSet {
	var tags model.TagSet

	for _, dec := range fn.DecoratorList {
		target := dec
		var call *ast.Call
		if c, ok := dec.(*ast.Call); ok {
			call = c
			target = c.Func
		}

		canonical := v.canonicalName(target)
		loc := model.Location{Path: v.path, Line: fn.Lineno}

		switch {
		case parametrizeMarkers[canonical]:
			tags = append(tags, v.extractParametrize(call, loc))
		case skipMarkers[canonical]:
			tags = append(tags, v.extractGate(model.TagSkip, call, loc))
		case expectFailMarkers[canonical]:
			tags = append(tags, v.extractGate(model.TagExpectFail, call, loc))
		case useFixturesMarkers[canonical]:
			tags = append(tags, v.extractUseFixtures(call, loc))
		default:
			name := canonical
			if name == "" {
				name = "<expression>"
			}
			tags = append(tags, model.Tag{Kind: model.TagCustom, Name: name, Location: loc})
		}
	}

	return tags
}

// extractGate reads skip / expect_fail conditions and reason.
func (v *moduleVisitor) extractGate(kind model.TagKind, call *ast.Call, loc model.Location) model.Tag {
	tag := model.Tag{Kind: kind, Location: loc}

	if call == nil {
		return tag
	}

	for _, arg := range call.Args {
		tag.Conditions = append(tag.Conditions, v.exprValue(arg))
	}

	for _, kw := range call.Keywords {
		if string(kw.Arg) == "reason" {
			if s, ok := kw.Value.(*ast.Str); ok {
				tag.Reason = string(s.S)
			}
		}
	}

	return tag
}

// extractUseFixtures reads use_fixtures(*names).
func (v *moduleVisitor) extractUseFixtures(call *ast.Call, loc model.Location) model.Tag {
	tag := model.Tag{Kind: model.TagUseFixtures, Location: loc}

	if call == nil {
		return tag
	}

	for _, arg := range call.Args {
		if s, ok := arg.(*ast.Str); ok {
			tag.Fixtures = append(tag.Fixtures, string(s.S))
		}
	}

	return tag
}

// paramNames returns the positional parameter names of a callable.
func paramNames(args *ast.Arguments) []string {
	if args == nil {
		return nil
	}

	names := make([]string, 0, len(args.Args))
	for _, arg := range args.Args {
		names = append(names, string(arg.Arg))
	}

	return names
}

// fixtureParams splits a fixture callable's parameters into fixture
// dependencies and the special request parameter.
func fixtureParams(args *ast.Arguments) ([]string, bool) {
	hasRequest := false

	var requires []string

	for _, name := range paramNames(args) {
		if name == "request" {
			hasRequest = true
			continue
		}
		requires = append(requires, name)
	}

	return requires, hasRequest
}

// containsYield reports whether a statement list contains a yield
// expression, marking generator fixtures.
func containsYield(body []ast.Stmt) bool {
	for _, stmt := range body {
		if stmtContainsYield(stmt) {
			return true
		}
	}

	return false
}

func stmtContainsYield(stmt ast.Stmt) bool {
	switch s := stmt.(type) {
	case *ast.ExprStmt:
		return exprIsYield(s.Value)
	case *ast.Assign:
		return exprIsYield(s.Value)
	case *ast.If:
		return containsYield(s.Body) || containsYield(s.Orelse)
	case *ast.For:
		return containsYield(s.Body) || containsYield(s.Orelse)
	case *ast.While:
		return containsYield(s.Body) || containsYield(s.Orelse)
	case *ast.With:
		return containsYield(s.Body)
	case *ast.Try:
		return containsYield(s.Body) || containsYield(s.Orelse) ||
			containsYield(s.Finalbody) || handlersContainYield(s.Handlers)
	default:
		return false
	}
}

func handlersContainYield(handlers []*ast.ExceptHandler) bool {
	for _, h := range handlers {
		if containsYield(h.Body) {
			return true
		}
	}

	return false
}

func exprIsYield(e ast.Expr) bool {
	switch e.(type) {
	case *ast.Yield, *ast.YieldFrom:
		return true
	default:
		return false
	}
}

// exprValue extracts a literal python value from an expression, falling
// back to name references and opaque markers.
func (v *moduleVisitor) exprValue(e ast.Expr) model.PyValue {
	switch x := e.(type) {
	case *ast.Str:
		return model.PyValue{Repr: literalRepr(x.S), Obj: py.Object(x.S), Literal: true}
	case *ast.Num:
		return model.PyValue{Repr: literalRepr(x.N), Obj: x.N, Literal: true}
	case *ast.NameConstant:
		return model.PyValue{Repr: literalRepr(x.Value), Obj: x.Value, Literal: true}
	case *ast.UnaryOp:
		return v.negatedValue(x)
	case *ast.Tuple:
		return v.sequenceValue(x.Elts, true)
	case *ast.List:
		return v.sequenceValue(x.Elts, false)
	case *ast.Name:
		return model.NameValue(string(x.Id))
	default:
		if name := v.canonicalName(e); name != "" {
			return model.NameValue(strings.Split(name, ".")[0])
		}
		return model.OpaqueValue("<expression>")
	}
}

// negatedValue folds -<number> literals.
func (v *moduleVisitor) negatedValue(x *ast.UnaryOp) model.PyValue {
	if x.Op != ast.USub {
		return model.OpaqueValue("<expression>")
	}

	switch n := x.Operand.(type) {
	case *ast.Num:
		switch num := n.N.(type) {
		case py.Int:
			obj := py.Int(-num)
			return model.PyValue{Repr: literalRepr(obj), Obj: obj, Literal: true}
		case py.Float:
			obj := py.Float(-num)
			return model.PyValue{Repr: literalRepr(obj), Obj: obj, Literal: true}
		}
	}

	return model.OpaqueValue("<expression>")
}

// sequenceValue folds a tuple or list of literals into one value.
func (v *moduleVisitor) sequenceValue(elts []ast.Expr, isTuple bool) model.PyValue {
	items := make([]py.Object, 0, len(elts))

	for _, elt := range elts {
		value := v.exprValue(elt)
		if !value.Literal {
			return model.OpaqueValue("<expression>")
		}
		obj, ok := value.Obj.(py.Object)
		if !ok {
			return model.OpaqueValue("<expression>")
		}
		items = append(items, obj)
	}

	var obj py.Object
	if isTuple {
		obj = py.Tuple(items)
	} else {
		obj = py.NewListFromItems(items)
	}

	return model.PyValue{Repr: literalRepr(obj), Obj: obj, Literal: true}
}

// sequenceValues flattens a list/tuple expression into element values,
// requiring every element to be a literal or a bare name reference.
func (v *moduleVisitor) sequenceValues(e ast.Expr) ([]model.PyValue, bool) {
	var elts []ast.Expr

	switch x := e.(type) {
	case *ast.List:
		elts = x.Elts
	case *ast.Tuple:
		elts = x.Elts
	default:
		return nil, false
	}

	values := make([]model.PyValue, 0, len(elts))

	for _, elt := range elts {
		value := v.exprValue(elt)
		if !value.Literal && value.Name == "" {
			return nil, false
		}
		values = append(values, value)
	}

	return values, true
}

// literalRepr renders the python repr of a literal object.
func literalRepr(obj py.Object) string {
	r, err := py.Repr(obj)
	if err != nil {
		return fmt.Sprintf("<%s>", obj.Type().Name)
	}

	if s, ok := r.(py.String); ok {
		return string(s)
	}

	return fmt.Sprintf("<%s>", obj.Type().Name)
}
