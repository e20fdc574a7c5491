// Package split allocates partitioned fragments to train, dev and test sets.
package split

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/alnah/go-corpus/internal/fragment"
)

// Set identifies a target sub-set.
type Set int

// Target sub-sets, in allocation order.
const (
	Train Set = iota
	Dev
	Test
)

// Sets lists all sub-sets in allocation order.
var Sets = [...]Set{Train, Dev, Test}

var setNames = [...]string{"train", "dev", "test"}

// String returns the set name used in list names.
func (s Set) String() string {
	if s < Train || s > Test {
		return fmt.Sprintf("Set(%d)", int(s))
	}
	return setNames[s]
}

// ParseSet returns the set with the given name.
func ParseSet(name string) (Set, error) {
	for _, s := range Sets {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSet, name)
}

// Sample size parameters: 99% confidence, 1% margin of error, p = 0.5.
const (
	zScore        = 2.58
	marginOfError = 0.01
	fraction      = 0.5
)

// SampleSize returns the dev/test subset size for a population of n.
// It searches train sizes from n down to 1 and returns the sample size of
// the first one for which two samples and the train set fit into n.
func SampleSize(n int) int {
	numerator := (math.Pow(zScore, 2) * fraction * (1 - fraction)) / math.Pow(marginOfError, 2)
	sampleSize := 0
	for trainSize := n; trainSize > 0; trainSize-- {
		denominator := 1 + (math.Pow(zScore, 2)*fraction*(1-fraction))/(math.Pow(marginOfError, 2)*float64(trainSize))
		sampleSize = int(numerator / denominator)
		if 2*sampleSize+trainSize <= n {
			break
		}
	}
	return sampleSize
}

// Allocation is the content of one output list.
type Allocation struct {
	Name      string
	Partition string
	Fragments []*fragment.Fragment
}

func listName(partition string, s Set) string {
	return partition + "-" + s.String()
}

func byPartition(frags []*fragment.Fragment) ([]string, map[string][]*fragment.Fragment) {
	return fragment.Engroup(frags, func(f *fragment.Fragment) string { return f.Partition })
}

// Whole allocates each partition to a single list named after it.
func Whole(frags []*fragment.Fragment) []Allocation {
	order, parts := byPartition(frags)
	allocs := make([]Allocation, 0, len(order))
	for _, p := range order {
		allocs = append(allocs, Allocation{Name: p, Partition: p, Fragments: parts[p]})
	}
	return allocs
}

// Random splits every partition independently: after shuffling, the first
// SampleSize fragments go to test, the next SampleSize to dev, the rest to train.
func Random(frags []*fragment.Fragment, rng *rand.Rand) []Allocation {
	order, parts := byPartition(frags)
	allocs := make([]Allocation, 0, 3*len(order))
	for _, p := range order {
		pf := parts[p]
		k := SampleSize(len(pf))
		rng.Shuffle(len(pf), func(i, j int) { pf[i], pf[j] = pf[j], pf[i] })

		var sets [3][]*fragment.Fragment
		sets[Test] = pf[:k]
		sets[Dev] = pf[k : 2*k]
		sets[Train] = pf[2*k:]
		for _, s := range Sets {
			allocs = append(allocs, Allocation{Name: listName(p, s), Partition: p, Fragments: sets[s]})
		}
	}
	return allocs
}

// NewRand returns a PCG-backed generator, seeded when seed is non-nil.
func NewRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(*seed), 0))
}
