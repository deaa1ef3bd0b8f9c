package rule

import "strings"

// Matches reports whether any of the rule's key configs covers key.
// Value "*" matches everything; any other value matches by substring
// containment, so a config value "42" matches both "user:42" and
// "user:4200". Callers must not assume exact or prefix matching.
func (r *Rule) Matches(key string) bool {
	for _, kc := range r.Keys {
		if kc.Value == "*" || strings.Contains(key, kc.Value) {
			return true
		}
	}
	return false
}

// FindMatching scans enabled rules in List order (creation time, then id)
// and returns the first whose key configs cover key. The endpoint parameter
// is accepted for future refinement but does not currently narrow matches;
// that is a documented limitation of the matching policy.
func (s *Store) FindMatching(key, endpoint string) (Rule, bool) {
	_ = endpoint
	for _, r := range s.List() {
		if !r.Enabled {
			continue
		}
		if r.Matches(key) {
			return r, true
		}
	}
	return Rule{}, false
}
