package llm

import "fmt"

// validTypes are the JSON Schema type names providers accept.
var validTypes = map[string]bool{
	"string":  true,
	"number":  true,
	"integer": true,
	"boolean": true,
	"object":  true,
	"array":   true,
	"null":    true,
}

// SanitizeSchema normalizes a tool's JSON Schema so that every provider
// accepts it. Malformed fragments are degraded rather than rejected:
// unknown or missing types become "string", and arrays without an items
// definition get string items. Each degradation produces a Warning; the
// function never fails.
func SanitizeSchema(toolName string, schema map[string]interface{}) (map[string]interface{}, []Warning) {
	var warnings []Warning
	if schema == nil {
		schema = map[string]interface{}{}
	}
	out := sanitizeNode(toolName, "", schema, &warnings)
	if _, ok := out["type"]; !ok {
		out["type"] = "object"
	}
	if out["type"] == "object" {
		if _, ok := out["properties"]; !ok {
			out["properties"] = map[string]interface{}{}
		}
	}
	return out, warnings
}

func sanitizeNode(toolName, path string, node map[string]interface{}, warnings *[]Warning) map[string]interface{} {
	out := make(map[string]interface{}, len(node))
	for k, v := range node {
		out[k] = v
	}

	if raw, ok := out["type"]; ok {
		typ, isStr := raw.(string)
		if !isStr || !validTypes[typ] {
			*warnings = append(*warnings, Warning{
				Code:    "schema_degraded",
				Message: fmt.Sprintf("tool %s: invalid type %v at %s, using string", toolName, raw, displayPath(path)),
			})
			out["type"] = "string"
			typ = "string"
		}
		switch typ {
		case "array":
			items, ok := out["items"].(map[string]interface{})
			if !ok {
				*warnings = append(*warnings, Warning{
					Code:    "schema_degraded",
					Message: fmt.Sprintf("tool %s: array without items at %s, using string items", toolName, displayPath(path)),
				})
				out["items"] = map[string]interface{}{"type": "string"}
			} else {
				out["items"] = sanitizeNode(toolName, path+".items", items, warnings)
			}
		case "object":
			if props, ok := out["properties"].(map[string]interface{}); ok {
				sanitized := make(map[string]interface{}, len(props))
				for name, sub := range props {
					if subMap, ok := sub.(map[string]interface{}); ok {
						sanitized[name] = sanitizeNode(toolName, path+"."+name, subMap, warnings)
					} else {
						*warnings = append(*warnings, Warning{
							Code:    "schema_degraded",
							Message: fmt.Sprintf("tool %s: property %s is not an object, using string", toolName, displayPath(path+"."+name)),
						})
						sanitized[name] = map[string]interface{}{"type": "string"}
					}
				}
				out["properties"] = sanitized
			}
		}
	}
	return out
}

func displayPath(path string) string {
	if path == "" {
		return "root"
	}
	return "root" + path
}
