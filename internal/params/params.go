// Package params implements the colon-token parameter strings used across
// the training pipeline: example styles, classifier grids, evaluation and
// preprocessor parameters, step specs and slice specs all share this format.
//
// A parameter string is a colon-separated list of tokens. A bare token is a
// flag, "name=value" binds one value and "name=v1,v2" a list. Only the first
// "=" splits a token, so values may contain further "=" characters.
package params

import (
	"sort"
	"strings"

	"textrain/internal/domain"
)

// Set is an ordered parameter set. The zero value is empty and read-only
// safe; use Parse or Add to populate one.
type Set struct {
	keys   []string
	values map[string][]string
}

// Parse reads a parameter string. With a non-nil valid list any key outside
// it is a configuration error. Empty tokens are skipped, repeated keys keep
// their first position but take the last binding.
func Parse(s string, valid []string) (*Set, error) {
	set := &Set{values: map[string][]string{}}
	for _, token := range strings.Split(s, ":") {
		if token == "" {
			continue
		}
		key := token
		var vals []string
		if i := strings.Index(token, "="); i >= 0 {
			key = token[:i]
			vals = strings.Split(token[i+1:], ",")
		}
		if valid != nil && !contains(valid, key) {
			return nil, domain.Configf("unknown parameter %q (valid: %s)", key, strings.Join(valid, ", "))
		}
		if _, seen := set.values[key]; !seen {
			set.keys = append(set.keys, key)
		}
		set.values[key] = vals
	}
	return set, nil
}

// MustParse parses a trusted, program-internal parameter string.
func MustParse(s string) *Set {
	set, err := Parse(s, nil)
	if err != nil {
		panic(err)
	}
	return set
}

// Has reports whether the key is present, as a flag or with values.
func (s *Set) Has(key string) bool {
	if s == nil {
		return false
	}
	_, ok := s.values[key]
	return ok
}

// Get returns the first value bound to key, or "" for a flag or absent key.
func (s *Set) Get(key string) string {
	if vals := s.Values(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// Values returns all values bound to key. Flags and absent keys yield nil.
func (s *Set) Values(key string) []string {
	if s == nil {
		return nil
	}
	return s.values[key]
}

// Len returns the number of keys.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Keys returns the keys in first-seen order.
func (s *Set) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Add binds values to key, appending the key if new. No values makes a flag.
func (s *Set) Add(key string, values ...string) {
	if s.values == nil {
		s.values = map[string][]string{}
	}
	if _, seen := s.values[key]; !seen {
		s.keys = append(s.keys, key)
	}
	if len(values) == 0 {
		s.values[key] = nil
		return
	}
	s.values[key] = values
}

// Without returns a copy of the set with key removed.
func (s *Set) Without(key string) *Set {
	out := &Set{values: map[string][]string{}}
	if s == nil {
		return out
	}
	for _, k := range s.keys {
		if k == key {
			continue
		}
		out.keys = append(out.keys, k)
		out.values[k] = s.values[k]
	}
	return out
}

// String serializes the set canonically: keys in first-seen order, values
// joined by commas. The result re-parses to an equal set.
func (s *Set) String() string {
	if s == nil {
		return ""
	}
	tokens := make([]string, 0, len(s.keys))
	for _, k := range s.keys {
		vals := s.values[k]
		if vals == nil {
			tokens = append(tokens, k)
			continue
		}
		tokens = append(tokens, k+"="+strings.Join(vals, ","))
	}
	return strings.Join(tokens, ":")
}

// Equal reports whether two sets bind the same keys to the same values,
// ignoring key order.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	a, b := s.sortedKeys(), o.sortedKeys()
	for i, k := range a {
		if k != b[i] {
			return false
		}
		av, bv := s.values[k], o.values[k]
		if (av == nil) != (bv == nil) || len(av) != len(bv) {
			return false
		}
		for j := range av {
			if av[j] != bv[j] {
				return false
			}
		}
	}
	return true
}

func (s *Set) sortedKeys() []string {
	if s == nil {
		return nil
	}
	keys := make([]string, len(s.keys))
	copy(keys, s.keys)
	sort.Strings(keys)
	return keys
}

// ApplyDefault is the single defaulting rule of the pipeline: a slot the
// caller already filled wins, otherwise the task default fills it. Tokens
// from the two strings are never mixed.
func ApplyDefault(current, fallback string) string {
	if current != "" {
		return current
	}
	return fallback
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
