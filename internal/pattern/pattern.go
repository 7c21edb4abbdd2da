// Package pattern implements the kind:glob matcher used to select program
// candidates. A pattern addresses one of three namespaces on a candidate:
// its target name, its package name, or its manifest path.
package pattern

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind selects the candidate attribute a pattern is matched against.
type Kind int

const (
	// KindInvalid marks a pattern that failed to parse. It never matches.
	KindInvalid Kind = iota
	// KindTarget matches against the candidate's target name.
	KindTarget
	// KindPackage matches against the candidate's package name.
	KindPackage
	// KindPath matches against the candidate's manifest path.
	KindPath
)

// String returns the prefix form of the kind.
func (k Kind) String() string {
	switch k {
	case KindTarget:
		return "target"
	case KindPackage:
		return "package"
	case KindPath:
		return "path"
	default:
		return "invalid"
	}
}

// Subject carries the three matchable attributes of a candidate, decoupling
// the matcher from the catalog types.
type Subject struct {
	TargetName   string
	PackageName  string
	ManifestPath string
}

// Pattern is a compiled kind:glob rule. The zero value is an invalid pattern
// that matches nothing.
type Pattern struct {
	// Source is the original pattern string as written in the config.
	Source string
	Kind   Kind

	re *regexp.Regexp
}

// Parse compiles a "kind:glob" string. The glob dialect supports `*` (any
// run of characters, including empty) and `?` (exactly one character), and
// matching is anchored over the whole namespace value.
//
// An unparseable string is not an error in the fatal sense: Parse returns a
// valid always-false Pattern together with a non-nil error describing the
// problem, so the caller can surface a warning and keep the pattern around
// for reporting.
func Parse(s string) (Pattern, error) {
	kindStr, glob, ok := strings.Cut(s, ":")
	if !ok {
		return Pattern{Source: s}, fmt.Errorf("pattern %q has no kind prefix; use 'target:', 'package:', or 'path:'", s)
	}

	var kind Kind
	switch kindStr {
	case "target":
		kind = KindTarget
	case "package":
		kind = KindPackage
	case "path":
		kind = KindPath
	default:
		return Pattern{Source: s}, fmt.Errorf("pattern %q has unknown kind %q; use 'target:', 'package:', or 'path:'", s, kindStr)
	}

	re, err := compileGlob(glob)
	if err != nil {
		return Pattern{Source: s}, fmt.Errorf("pattern %q: %w", s, err)
	}

	return Pattern{Source: s, Kind: kind, re: re}, nil
}

// MustParse is a test helper that panics when the pattern is invalid.
func MustParse(s string) Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Valid reports whether the pattern parsed successfully.
func (p Pattern) Valid() bool {
	return p.Kind != KindInvalid && p.re != nil
}

// Matches evaluates the pattern against a candidate's attributes. Invalid
// patterns never match.
func (p Pattern) Matches(s Subject) bool {
	if !p.Valid() {
		return false
	}
	switch p.Kind {
	case KindTarget:
		return p.re.MatchString(s.TargetName)
	case KindPackage:
		return p.re.MatchString(s.PackageName)
	case KindPath:
		return p.re.MatchString(s.ManifestPath)
	default:
		return false
	}
}

// FirstMatch returns the first pattern in declared order that matches the
// subject, or nil when none does.
func FirstMatch(patterns []Pattern, s Subject) *Pattern {
	for i := range patterns {
		if patterns[i].Matches(s) {
			return &patterns[i]
		}
	}
	return nil
}

// compileGlob translates the glob into an anchored regular expression.
// Everything except `*` and `?` is matched literally.
func compileGlob(glob string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString(`\A`)
	for _, r := range glob {
		switch r {
		case '*':
			sb.WriteString(`.*`)
		case '?':
			sb.WriteString(`.`)
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString(`\z`)

	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("invalid glob %q: %w", glob, err)
	}
	return re, nil
}
