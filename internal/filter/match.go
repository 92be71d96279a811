// Package filter matches items against KEY=VALUE filters supplied on the command line.
package filter

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// Predicate reports whether item satisfies the filter value.
type Predicate[T any] func(item T, value string) bool

// Set maps normalized filter keys to the predicate evaluating them.
type Set[T any] map[string]Predicate[T]

// Normalize lowercases s and trims surrounding whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if n := Normalize(v); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Equals matches when the extracted string equals the value, ignoring case.
func Equals[T any](get func(T) string) Predicate[T] {
	return func(item T, value string) bool {
		return Normalize(get(item)) == Normalize(value)
	}
}

// EqualsBool matches when the extracted flag equals the parsed value. Unparsable values never match.
func EqualsBool[T any](get func(T) bool) Predicate[T] {
	return func(item T, value string) bool {
		b, err := strconv.ParseBool(Normalize(value))
		return err == nil && get(item) == b
	}
}

// HasAny matches when any comma-separated value is among the extracted values.
func HasAny[T any](get func(T) []string) Predicate[T] {
	return func(item T, value string) bool {
		have := get(item)
		return slices.ContainsFunc(normalizeList(value), func(want string) bool {
			return slices.ContainsFunc(have, func(h string) bool { return Normalize(h) == want })
		})
	}
}

// HasAll matches when every comma-separated value is among the extracted values.
func HasAll[T any](get func(T) []string) Predicate[T] {
	return func(item T, value string) bool {
		have := make(map[string]struct{})
		for _, h := range get(item) {
			have[Normalize(h)] = struct{}{}
		}
		for _, want := range normalizeList(value) {
			if _, ok := have[want]; !ok {
				return false
			}
		}
		return true
	}
}

// Keys returns the supported keys, sorted.
func (s Set[T]) Keys() []string {
	return slices.Sorted(maps.Keys(s))
}

// Validate returns an error naming the first filter key the set does not support.
func (s Set[T]) Validate(filters map[string]string) error {
	for _, key := range slices.Sorted(maps.Keys(filters)) {
		if _, ok := s[Normalize(key)]; !ok {
			return fmt.Errorf("unsupported filter '%s' (supported: %s)", key, strings.Join(s.Keys(), ", "))
		}
	}
	return nil
}

// Match reports whether item satisfies every filter. Keys the set does not know are ignored; use Validate first
// to reject them.
func (s Set[T]) Match(item T, filters map[string]string) bool {
	for key, value := range filters {
		p, ok := s[Normalize(key)]
		if ok && !p(item, value) {
			return false
		}
	}
	return true
}

// Apply returns the items satisfying every filter, in their original order.
func Apply[T any](s Set[T], items []T, filters map[string]string) ([]T, error) {
	if err := s.Validate(filters); err != nil {
		return nil, err
	}
	if len(filters) == 0 {
		return items, nil
	}

	out := make([]T, 0, len(items))
	for _, item := range items {
		if s.Match(item, filters) {
			out = append(out, item)
		}
	}
	return out, nil
}
