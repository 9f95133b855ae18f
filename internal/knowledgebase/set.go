package knowledgebase

import "sort"

// Union returns the sorted, deduplicated union of a and b
func Union(a, b []string) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		set[id] = struct{}{}
	}
	return keys(set)
}

// Subtract returns the sorted ids of a that are not in b
func Subtract(a, b []string) []string {
	drop := toSet(b)
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		if _, ok := drop[id]; !ok {
			set[id] = struct{}{}
		}
	}
	return keys(set)
}

// Intersect returns the sorted ids present in both a and b
func Intersect(a, b []string) []string {
	keep := toSet(b)
	set := make(map[string]struct{})
	for _, id := range a {
		if _, ok := keep[id]; ok {
			set[id] = struct{}{}
		}
	}
	return keys(set)
}

// Equal reports whether a and b hold the same ids, ignoring order and duplicates
func Equal(a, b []string) bool {
	sa, sb := toSet(a), toSet(b)
	if len(sa) != len(sb) {
		return false
	}
	for id := range sa {
		if _, ok := sb[id]; !ok {
			return false
		}
	}
	return true
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for id := range set {
		if id != "" {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
