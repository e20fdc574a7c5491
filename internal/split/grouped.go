package split

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/alnah/go-corpus/internal/fragment"
)

// Assignments maps a group key to the set it must land in.
type Assignments map[string]Set

// NewAssignments builds the table from per-set key lists. A key listed
// twice, in the same or different sets, is a configuration error.
func NewAssignments(bySet map[Set][]string) (Assignments, error) {
	a := make(Assignments)
	for _, s := range Sets {
		for _, key := range bySet[s] {
			if prev, ok := a[key]; ok {
				return nil, fmt.Errorf("unable to assign %q to set %q, as it is already assigned to set %q: %w",
					key, s, prev, ErrDuplicateAssignment)
			}
			a[key] = s
		}
	}
	return a, nil
}

// GroupedOptions configures Grouped.
type GroupedOptions struct {
	// Field is the meta field whose first value is the group key.
	Field string
	// DropMultiple drops fragments with more than one value for Field.
	DropMultiple bool
	// DropUnknown drops fragments without a value for Field.
	DropUnknown bool
	// Assignments pins groups to sets before balancing.
	Assignments Assignments
}

// bin is one partition's state during grouped allocation. Portions are
// removed as their group gets claimed by a set.
type bin struct {
	name     string
	k        int
	order    []string
	portions map[string][]*fragment.Fragment
	sets     [3][]*fragment.Fragment
}

// claim moves the portion of key in every bin to set s.
func claim(bins []*bin, key string, s Set) {
	for _, b := range bins {
		if portion, ok := b.portions[key]; ok {
			b.sets[s] = append(b.sets[s], portion...)
			delete(b.portions, key)
		}
	}
}

// Grouped splits fragments so that all fragments sharing a group key end up
// in the same set, across all partitions. It returns the fragments that
// survived the drop rules together with the allocations.
//
// Groups are handed out smallest first. Pinned groups go first. Then, per
// partition, sets are cycled in order train, dev, test and each set below
// the partition's sample size receives the next group, until dev and test
// are full or no group is left. Everything unclaimed ends up in train.
//
// The sample size also caps train while cycling, even though it is derived
// as the dev/test size; train still receives all leftovers afterwards.
func Grouped(frags []*fragment.Fragment, opts GroupedOptions) ([]*fragment.Fragment, []Allocation) {
	kept := make([]*fragment.Fragment, 0, len(frags))
	for _, f := range frags {
		n := len(f.Values(opts.Field))
		if opts.DropMultiple && n > 1 {
			continue
		}
		if opts.DropUnknown && n == 0 {
			continue
		}
		kept = append(kept, f)
	}

	groupKey := func(f *fragment.Fragment) string { return f.GroupKey(opts.Field) }

	keys, groups := fragment.Engroup(kept, groupKey)
	slices.SortStableFunc(keys, func(a, b string) int {
		return cmp.Compare(len(groups[a]), len(groups[b]))
	})

	partOrder, parts := byPartition(kept)
	bins := make([]*bin, len(partOrder))
	for i, p := range partOrder {
		order, portions := fragment.Engroup(parts[p], groupKey)
		bins[i] = &bin{name: p, k: SampleSize(len(parts[p])), order: order, portions: portions}
	}

	queue := make([]string, 0, len(keys))
	for _, key := range keys {
		if s, ok := opts.Assignments[key]; ok {
			claim(bins, key, s)
			continue
		}
		queue = append(queue, key)
	}

	for _, b := range bins {
		for len(queue) > 0 && (len(b.sets[Dev]) < b.k || len(b.sets[Test]) < b.k) {
			for _, s := range Sets {
				if len(queue) > 0 && b.k > len(b.sets[s]) {
					key := queue[0]
					queue = queue[1:]
					claim(bins, key, s)
				}
			}
		}
	}

	allocs := make([]Allocation, 0, 3*len(bins))
	for _, b := range bins {
		for _, key := range b.order {
			if portion, ok := b.portions[key]; ok {
				b.sets[Train] = append(b.sets[Train], portion...)
				delete(b.portions, key)
			}
		}
		for _, s := range Sets {
			allocs = append(allocs, Allocation{Name: listName(b.name, s), Partition: b.name, Fragments: b.sets[s]})
		}
	}
	return kept, allocs
}
