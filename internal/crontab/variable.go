package crontab

import (
	"regexp"
	"sort"
)

// Variable is a NAME=VALUE declaration from the crontab file. Substitution
// is whole-token only: "$VAR1" must never be replaced by "$VAR"'s value,
// so the pattern requires one whitespace character or end-of-string
// immediately after the name. RE2 has no lookahead, so that whitespace
// character is part of the match and ApplySubstitution puts it back.
type Variable struct {
	Name    string
	Value   string
	pattern *regexp.Regexp
}

// NewVariable compiles the substitution pattern for name/value.
func NewVariable(name, value string) Variable {
	pattern := regexp.MustCompile(`\$` + regexp.QuoteMeta(name) + `(?:\s|$)`)
	return Variable{Name: name, Value: value, pattern: pattern}
}

// ApplySubstitution replaces every whole-token occurrence of $Name in line
// with Value, preserving whatever trailing whitespace (or end-of-string)
// followed the token.
func (v Variable) ApplySubstitution(line string) string {
	return v.pattern.ReplaceAllStringFunc(line, func(match string) string {
		// match is "$" + Name + (single whitespace rune, or nothing at end-of-string)
		trailing := match[1+len(v.Name):]
		return v.Value + trailing
	})
}

// SubstituteAll applies every variable in vars to line, in order. When
// variable names form a prefix chain (e.g. "FOO" and "FOOBAR"), applying
// the longest names first avoids a shorter name's pattern ever having a
// chance to misfire on the longer one's token — the pattern's trailing
// whitespace-or-end requirement already prevents partial-token matches, but longest-first keeps
// substitution order stable when a substituted Value itself happens to
// contain another variable's token.
func SubstituteAll(line string, vars []Variable) string {
	ordered := make([]Variable, len(vars))
	copy(ordered, vars)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(ordered[i].Name) > len(ordered[j].Name)
	})

	result := line
	for _, v := range ordered {
		result = v.ApplySubstitution(result)
	}
	return result
}
