// Package schema rewrites JSON-Schema tool parameter definitions into the
// restricted dialect accepted by the Gemini upstream.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// constraintFields are migrated into the description as a readable hint.
var constraintFields = []struct {
	key   string
	label string
}{
	{"pattern", "pattern"},
	{"minLength", "minLen"},
	{"maxLength", "maxLen"},
	{"minimum", "min"},
	{"maximum", "max"},
	{"minItems", "minItems"},
	{"maxItems", "maxItems"},
	{"exclusiveMinimum", "exclMin"},
	{"exclusiveMaximum", "exclMax"},
	{"multipleOf", "multipleOf"},
	{"format", "format"},
}

// removedFields are rejected by the upstream outright.
var removedFields = []string{
	"$schema",
	"additionalProperties",
	"enumCaseInsensitive",
	"enumNormalizeWhitespace",
	"uniqueItems",
	"default",
	"const",
	"examples",
	"propertyNames",
	"anyOf",
	"oneOf",
	"allOf",
	"not",
	"if",
	"then",
	"else",
	"dependencies",
	"dependentSchemas",
	"dependentRequired",
	"cache_control",
}

// Clean normalizes v in place. Root-level $defs and definitions are
// inlined at every $ref site before the recursive sanitize pass. Values
// that are not JSON objects or arrays are left alone.
func Clean(v any) {
	if root, ok := v.(map[string]any); ok {
		defs := map[string]any{}
		for _, key := range []string{"$defs", "definitions"} {
			if d, ok := root[key].(map[string]any); ok {
				for name, def := range d {
					defs[name] = def
				}
			}
			delete(root, key)
		}
		if len(defs) > 0 {
			flattenRefs(root, defs)
		}
	}
	Sanitize(v)
}

// flattenRefs merges the referenced definition into every node carrying a
// resolvable $ref. Keys already present at the reference site win.
func flattenRefs(node any, defs map[string]any) {
	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok {
			name := ref
			if i := strings.LastIndex(ref, "/"); i >= 0 && i < len(ref)-1 {
				name = ref[i+1:]
			}
			if def, found := defs[name]; found {
				delete(n, "$ref")
				if defMap, ok := def.(map[string]any); ok {
					for k, dv := range defMap {
						if _, exists := n[k]; !exists {
							n[k] = deepCopy(dv)
						}
					}
					flattenRefs(n, defs)
					return
				}
			}
		}
		for _, child := range n {
			flattenRefs(child, defs)
		}
	case []any:
		for _, child := range n {
			flattenRefs(child, defs)
		}
	}
}

// Sanitize runs the recursive cleanup without $ref expansion.
func Sanitize(v any) {
	switch n := v.(type) {
	case []any:
		for _, child := range n {
			Sanitize(child)
		}
	case map[string]any:
		for _, child := range n {
			Sanitize(child)
		}
		migrateConstraints(n)
		for _, key := range removedFields {
			delete(n, key)
		}
		normalizeType(n)
	}
}

func migrateConstraints(n map[string]any) {
	var hints []string
	for _, f := range constraintFields {
		val, ok := n[f.key]
		if !ok {
			continue
		}
		s, primitive := primitiveString(val)
		if !primitive {
			continue
		}
		hints = append(hints, f.label+": "+s)
		delete(n, f.key)
	}
	if len(hints) == 0 {
		return
	}

	suffix := "[Constraint: " + strings.Join(hints, ", ") + "]"
	if desc, _ := n["description"].(string); desc != "" {
		n["description"] = desc + " " + suffix
	} else {
		n["description"] = suffix
	}
}

func normalizeType(n map[string]any) {
	switch t := n["type"].(type) {
	case string:
		n["type"] = strings.ToLower(t)
	case []any:
		selected := "string"
		for _, item := range t {
			if s, ok := item.(string); ok && s != "null" {
				selected = strings.ToLower(s)
				break
			}
		}
		n["type"] = selected
	case []string:
		selected := "string"
		for _, s := range t {
			if s != "null" {
				selected = strings.ToLower(s)
				break
			}
		}
		n["type"] = selected
	}
}

func primitiveString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case bool:
		return fmt.Sprintf("%t", val), true
	case float64:
		return formatFloat(val), true
	case float32:
		return formatFloat(float64(val)), true
	case int:
		return fmt.Sprintf("%d", val), true
	case int64:
		return fmt.Sprintf("%d", val), true
	default:
		return "", false
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

func deepCopy(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, child := range n {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, child := range n {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
