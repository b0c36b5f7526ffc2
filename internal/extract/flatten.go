package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// tryParseJSON parses s as a JSON object or array. Anything else (empty,
// scalar, malformed) yields nil; payload columns often hold plain text.
func tryParseJSON(s string) any {
	s = strings.TrimSpace(s)
	if s == "" || (!strings.HasPrefix(s, "{") && !strings.HasPrefix(s, "[")) {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil
	}
	return v
}

// flatten converts a parsed JSON value into dotted path/value pairs, e.g.
// {"initiator":{"ip_address":"1.2.3.4"}} -> "initiator.ip_address"="1.2.3.4".
// List elements get bracketed indices. Values are stringified; null and
// empty strings are dropped.
func flatten(v any, prefix string, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			p := k
			if prefix != "" {
				p = prefix + "." + k
			}
			flatten(child, p, out)
		}
	case []any:
		for i, child := range t {
			flatten(child, fmt.Sprintf("%s[%d]", prefix, i), out)
		}
	case nil:
		// skip
	case string:
		if t != "" && prefix != "" {
			out[prefix] = t
		}
	case float64:
		if prefix != "" {
			// Render integers without the trailing ".000000".
			if t == float64(int64(t)) {
				out[prefix] = fmt.Sprintf("%d", int64(t))
			} else {
				out[prefix] = fmt.Sprintf("%g", t)
			}
		}
	case bool:
		if prefix != "" {
			out[prefix] = fmt.Sprintf("%t", t)
		}
	default:
		if prefix != "" {
			out[prefix] = fmt.Sprintf("%v", t)
		}
	}
}
