package webhooks

import "strings"

// Matches reports whether an event type matches any filter in the
// endpoint's list. Three filter forms are supported:
//
//   - exact match: "payment.completed"
//   - match-all:   "*"
//   - suffix wildcard: "payment.*" matches any type starting "payment."
func Matches(eventType string, filters []string) bool {
	for _, f := range filters {
		if matchFilter(eventType, f) {
			return true
		}
	}
	return false
}

func matchFilter(eventType, filter string) bool {
	if filter == "*" {
		return true
	}
	if strings.HasSuffix(filter, ".*") {
		prefix := strings.TrimSuffix(filter, "*")
		return strings.HasPrefix(eventType, prefix)
	}
	return eventType == filter
}
