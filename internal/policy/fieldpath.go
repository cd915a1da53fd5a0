package policy

import "strings"

// contextFields maps the known top-level field paths to accessors. The field
// set is fixed; only the data map supports free-form nested paths.
var contextFields = map[string]func(*Context) interface{}{
	"action":    func(c *Context) interface{} { return c.Action },
	"actor":     func(c *Context) interface{} { return c.Actor },
	"target":    func(c *Context) interface{} { return c.Target },
	"amount":    func(c *Context) interface{} { return c.Amount },
	"token":     func(c *Context) interface{} { return c.Token },
	"chainId":   func(c *Context) interface{} { return c.ChainID },
	"timestamp": func(c *Context) interface{} { return c.Timestamp },
}

// resolveField looks up a dotted field path in the context. The second return
// is false when any path segment is undefined.
func resolveField(c *Context, path string) (interface{}, bool) {
	if accessor, ok := contextFields[path]; ok {
		return accessor(c), true
	}

	if path == "data" {
		return c.Data, c.Data != nil
	}
	if rest, ok := strings.CutPrefix(path, "data."); ok {
		return resolveData(c.Data, rest)
	}
	return nil, false
}

// resolveData walks nested maps by dotted segments.
func resolveData(data map[string]interface{}, path string) (interface{}, bool) {
	if data == nil {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = data
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
