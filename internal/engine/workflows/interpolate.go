package workflows

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ExecContext is the data bag visible to interpolation and condition
// evaluation during a run: workflow variables, the trigger payload, the
// originating event, and the outputs of completed actions.
type ExecContext struct {
	Variables     map[string]interface{}
	TriggerData   map[string]interface{}
	Event         map[string]interface{}
	ActionResults map[string]interface{}
}

var tokenPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Interpolate substitutes {{path.to.value}} tokens in every string
// reachable through v, recursing through maps and slices. Missing paths
// resolve to the empty string.
func Interpolate(v interface{}, ec *ExecContext) interface{} {
	switch t := v.(type) {
	case string:
		return interpolateString(t, ec)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = Interpolate(val, ec)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = Interpolate(val, ec)
		}
		return out
	default:
		return v
	}
}

func interpolateString(s string, ec *ExecContext) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		path := strings.TrimSpace(tok[2 : len(tok)-2])
		val, ok := ec.lookup(path)
		if !ok {
			return ""
		}
		return stringify(val)
	})
}

// lookup walks a dotted path rooted at one of the four context sources.
func (ec *ExecContext) lookup(path string) (interface{}, bool) {
	dot := strings.IndexByte(path, '.')
	root := path
	rest := ""
	if dot >= 0 {
		root = path[:dot]
		rest = path[dot+1:]
	}

	var src map[string]interface{}
	switch root {
	case "variables":
		src = ec.Variables
	case "triggerData":
		src = ec.TriggerData
	case "event":
		src = ec.Event
	case "actionResults":
		src = ec.ActionResults
	default:
		return nil, false
	}
	if rest == "" {
		if src == nil {
			return nil, false
		}
		return src, true
	}
	return navigatePath(src, rest)
}

func navigatePath(m map[string]interface{}, path string) (interface{}, bool) {
	if m == nil {
		return nil, false
	}
	parts := strings.Split(path, ".")
	var cur interface{} = m
	for _, part := range parts {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; render integral values without
		// a fractional part.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}
