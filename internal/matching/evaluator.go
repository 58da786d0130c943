// Package matching evaluates incidents against alert rules and hands matches to delivery.
package matching

import "github.com/bissquit/incident-alerts/internal/domain"

// Matches reports whether the incident satisfies any filter entry.
// Entries are OR-ed; attribute pairs within an entry are AND-ed.
// Evaluation is total: missing, non-scalar or unknown attributes fail the entry.
func Matches(incident domain.Incident, filters []domain.Filter) bool {
	for _, f := range filters {
		if EntryMatches(incident, f) {
			return true
		}
	}
	return false
}

// EntryMatches reports whether every attribute pair of f equals the incident's attribute.
// An empty entry never matches.
func EntryMatches(incident domain.Incident, f domain.Filter) bool {
	if len(f) == 0 {
		return false
	}
	for name := range f {
		if !domain.KnownAttribute(name) {
			return false
		}
		want, ok := f.Value(name)
		if !ok {
			return false
		}
		got, ok := incident.Attribute(name)
		if !ok || got != want {
			return false
		}
	}
	return true
}
