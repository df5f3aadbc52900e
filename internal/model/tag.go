package model

// TagKind identifies the recognized decorator families.
type TagKind string

const (
	// TagParametrize expands a test or fixture into variants.
	TagParametrize TagKind = "parametrize"
	// TagSkip gates a test behind skip conditions.
	TagSkip TagKind = "skip"
	// TagExpectFail inverts the outcome when its conditions hold.
	TagExpectFail TagKind = "expect_fail"
	// TagUseFixtures requests fixtures without binding their values.
	TagUseFixtures TagKind = "use_fixtures"
	// TagCustom is any unrecognized decorator, kept by name.
	TagCustom TagKind = "custom"
)

// Tag is a decorator-applied marker on a test or fixture.
type Tag struct {
	Kind     TagKind
	Location Location

	// Conditions gate skip and expect_fail tags. Empty means
	// unconditional.
	Conditions []PyValue

	// Reason is the skip / expect_fail reason keyword.
	Reason string

	// Spec carries the parameter matrix for parametrize tags.
	Spec *ParamSpec

	// Fixtures lists fixture names for use_fixtures tags.
	Fixtures []string

	// Name keys custom tags.
	Name string

	// Invalid carries the collection error for malformed decorators;
	// tests carrying an invalid tag are reported as errored.
	Invalid *Diagnostic
}

// ParamCase is one row of a parametrize matrix: a value tuple plus any
// per-tuple tag overrides carried by the param(...) form.
type ParamCase struct {
	Values []PyValue
	Tags   []Tag
}

// ParamSpec is an ordered parameter list with its value tuples.
type ParamSpec struct {
	Names []string
	Cases []ParamCase
}

// TagSet is the ordered collection of tags on a definition.
type TagSet []Tag

// Parametrizations returns the parametrize specs in source order.
// Stacked decorators are listed outermost first, the order the cartesian
// expansion uses.
func (ts TagSet) Parametrizations() []*ParamSpec {
	var specs []*ParamSpec
	for _, t := range ts {
		if t.Kind == TagParametrize && t.Spec != nil {
			specs = append(specs, t.Spec)
		}
	}
	return specs
}

// First returns the first tag of the given kind.
func (ts TagSet) First(kind TagKind) (Tag, bool) {
	for _, t := range ts {
		if t.Kind == kind {
			return t, true
		}
	}
	return Tag{}, false
}

// All returns every tag of the given kind.
func (ts TagSet) All(kind TagKind) []Tag {
	var out []Tag
	for _, t := range ts {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// UsedFixtures collects names from every use_fixtures tag.
func (ts TagSet) UsedFixtures() []string {
	var names []string
	for _, t := range ts {
		if t.Kind == TagUseFixtures {
			names = append(names, t.Fixtures...)
		}
	}
	return names
}
