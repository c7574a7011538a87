// Package template renders notification content from {{path}} placeholders.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)*)\s*\}\}`)

var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

// Warning is a non-fatal rendering problem. A missing variable renders as
// the empty string and produces one warning per distinct path.
type Warning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Result is the rendered output plus any warnings collected along the way.
type Result struct {
	Output   string    `json:"output"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// MissingPaths returns the paths that could not be resolved.
func (r Result) MissingPaths() []string {
	paths := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		paths = append(paths, w.Path)
	}
	return paths
}

// Render substitutes every placeholder in tmpl with the value found in data.
// When escapeHTML is set, substituted values are HTML escaped; literal
// template text is never touched.
func Render(tmpl string, data map[string]any, escapeHTML bool) Result {
	var (
		warnings []Warning
		reported = map[string]bool{}
	)

	out := placeholder.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]

		value, ok := lookup(data, path)
		if !ok {
			if !reported[path] {
				reported[path] = true
				warnings = append(warnings, Warning{
					Path:    path,
					Message: fmt.Sprintf("variable %q not found, rendered as empty", path),
				})
			}
			return ""
		}

		if escapeHTML {
			return htmlEscaper.Replace(value)
		}
		return value
	})

	return Result{Output: out, Warnings: warnings}
}

// ExtractVariables returns each distinct placeholder path in first-occurrence order.
func ExtractVariables(tmpl string) []string {
	matches := placeholder.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool, len(matches))
	vars := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		vars = append(vars, m[1])
	}
	return vars
}

// lookup walks data along a dot-separated path.
func lookup(data map[string]any, path string) (string, bool) {
	segments := strings.Split(path, ".")

	var current any = data
	for _, seg := range segments {
		switch node := current.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return "", false
			}
			current = v
		case map[string]string:
			v, ok := node[seg]
			if !ok {
				return "", false
			}
			current = v
		default:
			return "", false
		}
	}

	return stringify(current)
}

func stringify(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case *string:
		if val == nil {
			return "", false
		}
		return *val, true
	case time.Time:
		return val.Format(time.RFC3339), true
	case fmt.Stringer:
		return val.String(), true
	case map[string]any, map[string]string:
		// a mapping is not a printable leaf
		return "", false
	default:
		return fmt.Sprint(val), true
	}
}
