package scope

import "strings"

// Filter is a set of partition prefix strings. A record belongs to a
// filter when its partition key starts with any element of the set.
//
// Contract:
//   - The empty filter is a subset of every filter and matches nothing.
//   - Elements are opaque prefixes; this package never interprets
//     partition semantics beyond prefix comparison.
//   - Filters are value types; all operations return new filters.
type Filter struct {
	partitions []string
}

// NewFilter parses a filter from its wire form: newline-separated
// partition prefixes. Blank lines are dropped, duplicates collapse.
func NewFilter(s string) Filter {
	var parts []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || seen[line] {
			continue
		}
		seen[line] = true
		parts = append(parts, line)
	}
	return Filter{partitions: parts}
}

// NewFilterFromSlice builds a filter from individual partition
// prefixes, applying the same normalization as NewFilter.
func NewFilterFromSlice(parts []string) Filter {
	return NewFilter(strings.Join(parts, "\n"))
}

// String renders the filter in its wire form.
func (f Filter) String() string {
	return strings.Join(f.partitions, "\n")
}

// Partitions returns a copy of the partition prefixes.
func (f Filter) Partitions() []string {
	return append([]string(nil), f.partitions...)
}

// Empty reports whether the filter matches nothing.
func (f Filter) Empty() bool {
	return len(f.partitions) == 0
}

// Matches reports whether a record in the given partition falls under
// this filter.
func (f Filter) Matches(partition string) bool {
	for _, p := range f.partitions {
		if strings.HasPrefix(partition, p) {
			return true
		}
	}
	return false
}

// SubsetOf reports whether every partition reachable through f is also
// reachable through g: each element of f must extend some prefix in g.
func (f Filter) SubsetOf(g Filter) bool {
	for _, p := range f.partitions {
		if !g.Matches(p) {
			return false
		}
	}
	return true
}

// Union returns the filter covering everything f or g covers.
func (f Filter) Union(g Filter) Filter {
	return NewFilter(f.String() + "\n" + g.String())
}
