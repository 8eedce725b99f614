package nodes

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/soochol/nodeflow/internal/nodeflow"
)

var templatePattern = regexp.MustCompile(`\{\{\s*(\w+(?:\.\w+)*)\s*\}\}`)

// Render replaces {{name}} and {{name.field}} references with bound values.
// Unresolved references are left as-is.
func Render(tpl string, vars nodeflow.Variables) string {
	return templatePattern.ReplaceAllStringFunc(tpl, func(match string) string {
		key := templatePattern.FindStringSubmatch(match)[1]
		v, ok := Resolve(key, vars)
		if !ok {
			return match
		}
		return nodeflow.NewValue(v).Text()
	})
}

// Resolve walks a dotted path through the bindings. Path segments after the
// first index into objects by key and into arrays by position.
func Resolve(path string, vars nodeflow.Variables) (any, bool) {
	parts := strings.Split(path, ".")
	root, ok := vars[parts[0]]
	if !ok {
		return nil, false
	}
	cur := root.Data
	for _, p := range parts[1:] {
		switch c := cur.(type) {
		case map[string]any:
			next, ok := c[p]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(p)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// References returns the binding names a template reads.
func References(tpl string) []string {
	var out []string
	for _, m := range templatePattern.FindAllStringSubmatch(tpl, -1) {
		out = append(out, strings.SplitN(m[1], ".", 2)[0])
	}
	return out
}
