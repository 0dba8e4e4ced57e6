package crontab

import (
	"strings"
	"time"
)

// Row is a single parsed crontab line: {lineNumber>0, rawExpression,
// executingUser, command, commented, malformed, readTimestamp} per
// spec §3. A commented row that parses is retained (it can drive a
// "commented too long" alert); an uncommented row that fails to parse is
// retained as malformed (it can drive a "malformed too long" alert).
type Row struct {
	LineNumber    int
	RawExpression string
	ExecutingUser string
	Command       string
	Commented     bool
	Malformed     bool
	ReadTimestamp time.Time

	Schedule Schedule
}

// Identity returns the key used for reconciliation/dedup: the raw
// expression compared case-insensitively, paired with the commented flag.
func (r Row) Identity() RowIdentity {
	return RowIdentity{RawExpression: strings.ToLower(r.RawExpression), Commented: r.Commented}
}

// RowIdentity is Row's comparable identity key.
type RowIdentity struct {
	RawExpression string
	Commented     bool
}

// Runnable reports whether the row is eligible to ever launch a task:
// neither commented nor malformed.
func (r Row) Runnable() bool {
	return !r.Commented && !r.Malformed
}

// coalesceHashmarks collapses a run of leading '#' characters and
// interleaved whitespace down to a single leading '#', so that "## foo",
// "# # foo", and "#foo" are all treated identically for parsing purposes
// (spec §9 open question (a)). Lines that don't start with '#' are
// returned unchanged.
func coalesceHashmarks(line string) string {
	if line == "" || line[0] != '#' {
		return line
	}

	i := 0
	hashFound := false
	for i < len(line) {
		c := line[i]
		if c == '#' {
			hashFound = true
		} else if !isSpace(c) {
			break
		}
		i++
	}

	remainder := line[i:]
	if hashFound {
		return "#" + remainder
	}
	return remainder
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

// parseExpressionLine parses the six-whitespace-separated-token grammar:
// minute hour day-of-month month day-of-week user command..., where the
// command joins all remaining tokens with a single space (internal
// whitespace collapsed). exprLine is the text to parse (already
// hash-stripped if this is a commented row); lineNumber and
// readTimestamp are carried through onto the Row; commented marks the
// resulting Row's Commented flag; originalLine, the unmodified source
// line, becomes RawExpression (identity is defined over the raw text,
// not the stripped text).
func parseExpressionLine(lineNumber int, originalLine, exprLine string, commented bool, readTimestamp time.Time) Row {
	fields := strings.Fields(exprLine)

	row := Row{
		LineNumber:    lineNumber,
		RawExpression: originalLine,
		Commented:     commented,
		ReadTimestamp: readTimestamp,
	}

	// minute hour dom month dow user command...
	const minTokens = 7
	if len(fields) < minTokens {
		row.Malformed = true
		return row
	}

	schedule, err := parseSchedule([5]string{fields[0], fields[1], fields[2], fields[3], fields[4]})
	if err != nil {
		row.Malformed = true
		return row
	}

	row.Schedule = schedule
	row.ExecutingUser = fields[5]
	row.Command = strings.Join(fields[6:], " ")
	return row
}
