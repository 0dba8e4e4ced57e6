package crontab

import (
	"bufio"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/CBrophy/omicron/internal/conf"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

const overridePrefix = "#override:"

// variableDeclaration matches NAME=VALUE where NAME has no whitespace.
// The value may be double-quoted; VALUE then is whatever is between the
// first and last double quote.
var variableDeclaration = regexp.MustCompile(`^([^\s=]+)=(.*)$`)

// Crontab is the whole-file parse result: rows, variables (in file
// order), per-row configuration overrides, a count of rows that failed
// to parse, and the file's mtime at load time.
type Crontab struct {
	Rows      []Row
	Variables []Variable
	Overrides map[int]*conf.Configuration
	BadRows   int
	Mtime     time.Time
	Path      string
}

// Load reads and parses the crontab file at path. baseConfig is the
// configuration each #override: line is merged onto; rows without an
// override line get no entry in Overrides.
func Load(path string, baseConfig *conf.Configuration, log logx.Logger) *Crontab {
	ct := &Crontab{
		Overrides: map[int]*conf.Configuration{},
		Path:      path,
	}

	if info, err := os.Stat(path); err == nil {
		ct.Mtime = info.ModTime()
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("crontab file not found or unreadable", logx.String("path", path), logx.Err(err))
		return ct
	}
	defer f.Close()

	now := time.Now()
	seen := map[RowIdentity]int{} // identity -> index in ct.Rows, for merge-on-duplicate

	var pendingOverride map[conf.Key]string

	lineNumber := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNumber++
		rawLine := scanner.Text()
		trimmed := strings.TrimSpace(rawLine)

		if trimmed == "" {
			continue
		}

		if strings.HasPrefix(strings.ToLower(trimmed), overridePrefix) {
			pendingOverride = parseOverrideLine(trimmed[len(overridePrefix):], lineNumber, log)
			continue
		}

		if m := variableDeclaration.FindStringSubmatch(trimmed); m != nil && !strings.HasPrefix(trimmed, "#") {
			name := m[1]
			value := unquote(strings.TrimSpace(m[2]))
			ct.Variables = append(ct.Variables, NewVariable(name, value))
			// Pending override is retained across variable declarations.
			continue
		}

		coalesced := coalesceHashmarks(trimmed)
		commented := strings.HasPrefix(coalesced, "#")

		var row Row
		if commented {
			exprLine := strings.TrimSpace(strings.TrimPrefix(coalesced, "#"))
			candidate := parseExpressionLine(lineNumber, trimmed, exprLine, true, now)
			if candidate.Malformed {
				// Parse failure on a commented line means it's just a
				// general comment: discard entirely.
				if pendingOverride != nil {
					log.Warn("discarding pending override: preceding comment is not a schedule expression", logx.Int("line", lineNumber))
					pendingOverride = nil
				}
				continue
			}
			row = candidate
		} else {
			row = parseExpressionLine(lineNumber, trimmed, trimmed, false, now)
			if row.Malformed {
				ct.BadRows++
			}
		}

		if pendingOverride != nil {
			ct.Overrides[lineNumber] = baseConfig.WithOverrides(pendingOverride)
			pendingOverride = nil
		}

		if idx, dup := seen[row.Identity()]; dup {
			ct.Rows[idx] = row
		} else {
			seen[row.Identity()] = len(ct.Rows)
			ct.Rows = append(ct.Rows, row)
		}
	}

	return ct
}

func parseOverrideLine(rest string, lineNumber int, log logx.Logger) map[conf.Key]string {
	result := map[conf.Key]string{}
	for _, pair := range strings.Split(rest, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			log.Warn("skipping malformed override pair", logx.Int("line", lineNumber), logx.String("pair", pair))
			continue
		}
		key := conf.KeyFromString(pair[:idx])
		if key == conf.KeyUnknown {
			log.Warn("skipping unknown override key", logx.Int("line", lineNumber), logx.String("pair", pair))
			continue
		}
		if !key.AllowOverride() {
			log.Warn("skipping non-overridable key", logx.Int("line", lineNumber), logx.String("key", key.RawName()))
			continue
		}
		result[key] = strings.TrimSpace(pair[idx+1:])
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	return value
}
